package prefs

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation for tests and development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]Record
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]Record)}
}

// Get returns a copy of the stored record, or (nil, nil) when absent.
func (s *MemoryStore) Get(_ context.Context, chatID int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[chatID]
	if !ok {
		return nil, nil
	}
	out := rec
	out.LanguageCodes = append([]string(nil), rec.LanguageCodes...)
	out.LanguageNames = append([]string(nil), rec.LanguageNames...)
	return &out, nil
}

// Upsert stores the record, replacing any previous one.
func (s *MemoryStore) Upsert(_ context.Context, chatID int64, codes, names []string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[chatID] = Record{
		ChatID:        chatID,
		LanguageCodes: append([]string(nil), codes...),
		LanguageNames: append([]string(nil), names...),
		UpdatedAt:     ts.UTC(),
	}
	return nil
}

// Delete removes the record for a chat.
func (s *MemoryStore) Delete(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, chatID)
	return nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
