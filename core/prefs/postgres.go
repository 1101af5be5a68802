package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/logger"
	"log/slog"
)

// PostgresStore persists chat preferences in the chat_settings table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open sqlx handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type chatSettingsRow struct {
	ChatID        int64     `db:"chat_id"`
	LanguageCodes string    `db:"language_codes"`
	LanguageNames string    `db:"language_names"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Get returns the preference record for a chat, or (nil, nil) when absent.
func (s *PostgresStore) Get(ctx context.Context, chatID int64) (*Record, error) {
	var row chatSettingsRow
	err := s.db.GetContext(ctx, &row,
		`SELECT chat_id, language_codes, language_names, updated_at
		 FROM chat_settings WHERE chat_id = $1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logger.Prefs.Error("get failed",
			slog.String("event", "prefs.get"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%w: get chat %d: %v", ErrPersistence, chatID, err)
	}
	return &Record{
		ChatID:        row.ChatID,
		LanguageCodes: splitList(row.LanguageCodes),
		LanguageNames: splitList(row.LanguageNames),
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// Upsert inserts or replaces the preference record for a chat.
func (s *PostgresStore) Upsert(ctx context.Context, chatID int64, codes, names []string, ts time.Time) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_settings (chat_id, language_codes, language_names, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (chat_id) DO UPDATE
		 SET language_codes = EXCLUDED.language_codes,
		     language_names = EXCLUDED.language_names,
		     updated_at     = EXCLUDED.updated_at`,
		chatID, joinList(codes), joinList(names), ts.UTC())
	if err != nil {
		logger.Prefs.Error("upsert failed",
			slog.String("event", "prefs.upsert"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("%w: upsert chat %d: %v", ErrPersistence, chatID, err)
	}
	logger.Prefs.Info("preferences saved",
		slog.String("event", "prefs.upsert"),
		slog.Int64("chat_id", chatID),
		slog.String("languages", joinList(names)),
		slog.String("lang_codes", joinList(codes)),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// Delete removes the preference record for a chat; deleting a missing record is not an error.
func (s *PostgresStore) Delete(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_settings WHERE chat_id = $1`, chatID)
	if err != nil {
		logger.Prefs.Error("delete failed",
			slog.String("event", "prefs.delete"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("%w: delete chat %d: %v", ErrPersistence, chatID, err)
	}
	logger.Prefs.Info("preferences deleted",
		slog.String("event", "prefs.delete"),
		slog.Int64("chat_id", chatID),
	)
	return nil
}
