package prefs

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, err := store.Get(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Upsert(ctx, 42, []string{"en", "pl"}, []string{"English", "Polish"}, ts); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, err = store.Get(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record")
	}
	if len(rec.LanguageNames) != 2 || rec.LanguageNames[0] != "English" {
		t.Fatalf("names = %v", rec.LanguageNames)
	}
	if !rec.UpdatedAt.Equal(ts) {
		t.Fatalf("updated_at = %v", rec.UpdatedAt)
	}

	// Upsert is a full replace.
	if err := store.Upsert(ctx, 42, []string{"de"}, []string{"German"}, ts.Add(time.Hour)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec, _ = store.Get(ctx, 42)
	if len(rec.LanguageCodes) != 1 || rec.LanguageCodes[0] != "de" {
		t.Fatalf("codes = %v", rec.LanguageCodes)
	}

	if err := store.Delete(ctx, 42); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rec, _ = store.Get(ctx, 42)
	if rec != nil {
		t.Fatalf("expected deletion, got %+v", rec)
	}
}

func TestListSplitJoin(t *testing.T) {
	joined := joinList([]string{" en ", "", "pl"})
	if joined != "en,pl" {
		t.Fatalf("joinList = %q", joined)
	}
	parts := splitList(" en, pl ,, fr ")
	if len(parts) != 3 || parts[2] != "fr" {
		t.Fatalf("splitList = %v", parts)
	}
	if splitList("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}
