package memory

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"mcpchat/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "t.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveQuery_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := domain.QueryRecord{
		ID:        "q1",
		Provider:  "deepseek",
		Query:     "北京天气怎么样",
		Answer:    "北京今天晴",
		ToolCalls: []string{"get_weather"},
		LatencyMs: 1200,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.SaveQuery(ctx, rec); err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}

	got, err := s.RecentQueries(ctx, 10)
	if err != nil {
		t.Fatalf("RecentQueries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	g := got[0]
	if g.ID != rec.ID || g.Query != rec.Query || g.Answer != rec.Answer || g.LatencyMs != rec.LatencyMs {
		t.Fatalf("unexpected record %#v", g)
	}
	if !reflect.DeepEqual(g.ToolCalls, rec.ToolCalls) {
		t.Fatalf("tool calls mismatch: %v", g.ToolCalls)
	}
	if !g.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("timestamp mismatch: %v", g.CreatedAt)
	}
}

func TestSaveQuery_AssignsIDAndKeepsErrors(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveQuery(ctx, domain.QueryRecord{Provider: "anthropic", Query: "q", Error: "round 1: 503"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.RecentQueries(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID == "" || got[0].Error != "round 1: 503" {
		t.Fatalf("unexpected %#v", got)
	}
	if got[0].ToolCalls != nil {
		t.Fatalf("expected no tool calls, got %v", got[0].ToolCalls)
	}
}

func TestRecentQueries_NewestFirstWithLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, q := range []string{"first", "second", "third"} {
		rec := domain.QueryRecord{Provider: "deepseek", Query: q, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveQuery(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RecentQueries(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Query != "third" || got[1].Query != "second" {
		t.Fatalf("unexpected order %#v", got)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := RunMigrations(db, testLogger()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Fatalf("expected version %d, got %d", schemaVersion, version)
	}
}

func TestGetSchemaVersion_NoTable(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	version, err := GetSchemaVersion(db)
	if err != nil || version != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", version, err)
	}
}
