// Package prefs persists per-chat language preferences confirmed by the
// translation agent. One record per Telegram chat.
package prefs

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrPersistence wraps storage failures so callers can degrade gracefully
// without inspecting driver errors.
var ErrPersistence = errors.New("prefs: persistence failure")

// Record is the stored language preference for a chat.
type Record struct {
	ChatID        int64
	LanguageCodes []string
	LanguageNames []string
	UpdatedAt     time.Time
}

// Store is the preference persistence contract consumed by the relay.
// Get returns (nil, nil) when no record exists. Upsert is idempotent.
type Store interface {
	Get(ctx context.Context, chatID int64) (*Record, error)
	Upsert(ctx context.Context, chatID int64, codes, names []string, ts time.Time) error
	Delete(ctx context.Context, chatID int64) error
}

const listSeparator = ","

func joinList(values []string) string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			cleaned = append(cleaned, v)
		}
	}
	return strings.Join(cleaned, listSeparator)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, listSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
