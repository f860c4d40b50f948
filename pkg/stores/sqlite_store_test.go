package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/contentkit/modrun/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fakeClock returns a controllable time source.
func fakeClock(s *SQLiteStore, start time.Time) *time.Time {
	now := start
	s.now = func() time.Time { return now }
	return &now
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Fatal("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var count int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM compiled_units").Scan(&count); err != nil {
		t.Fatalf("compiled_units is not accessible: %v", err)
	}

	// Migrating again is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestCompiledUnitGetPut(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	clock := fakeClock(store, time.Unix(1_700_000_000, 0))

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	unit := engine.CompiledUnit{Path: "/p/a.ts", Text: "exports.a = 1;", Hash: "h1"}
	if err := store.Put(ctx, unit); err != nil {
		t.Fatalf("failed to put unit: %v", err)
	}

	*clock = clock.Add(time.Hour)
	text, ok, err := store.Get(ctx, "h1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if text != unit.Text {
		t.Errorf("expected %q, got %q", unit.Text, text)
	}

	rec, err := store.Lookup(ctx, "h1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if rec.Path != "/p/a.ts" {
		t.Errorf("expected path /p/a.ts, got %s", rec.Path)
	}
	if !rec.LastUsedAt.After(rec.CreatedAt) {
		t.Errorf("expected Get to refresh last_used_at: created %v, used %v", rec.CreatedAt, rec.LastUsedAt)
	}

	// Re-putting the same hash keeps the original text and creation time.
	if err := store.Put(ctx, engine.CompiledUnit{Path: "/p/a.ts", Text: "other", Hash: "h1"}); err != nil {
		t.Fatalf("failed to re-put unit: %v", err)
	}
	again, err := store.Lookup(ctx, "h1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if again.Text != unit.Text || !again.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("unexpected record after re-put: %+v", again)
	}

	if err := store.Put(ctx, engine.CompiledUnit{Path: "/p/b.ts", Text: "x"}); err == nil {
		t.Error("expected an error for a unit without hash")
	}
}

func TestPruneAndStats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)
	clock := fakeClock(store, start)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Units != 0 || !stats.Oldest.IsZero() {
		t.Errorf("expected empty stats, got %+v", stats)
	}

	units := []engine.CompiledUnit{
		{Path: "/p/a.ts", Text: "aaaa", Hash: "old"},
		{Path: "/p/a.ts", Text: "bb", Hash: "mid"},
		{Path: "/p/b.ts", Text: "c", Hash: "new"},
	}
	for i, u := range units {
		*clock = start.Add(time.Duration(i) * 24 * time.Hour)
		if err := store.Put(ctx, u); err != nil {
			t.Fatalf("failed to put %s: %v", u.Hash, err)
		}
	}

	stats, err = store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Units != 3 || stats.Paths != 2 || stats.Bytes != 7 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !stats.Oldest.Equal(start) || !stats.Newest.Equal(start.Add(48*time.Hour)) {
		t.Errorf("unexpected time range: %v - %v", stats.Oldest, stats.Newest)
	}

	*clock = start.Add(72 * time.Hour)
	n, err := store.Prune(ctx, 36*time.Hour)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned units, got %d", n)
	}
	if _, ok, _ := store.Get(ctx, "new"); !ok {
		t.Error("expected the recent unit to survive pruning")
	}
}

func TestOpenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Put(ctx, engine.CompiledUnit{Path: "/p/a.ts", Text: "x", Hash: "h"}); err != nil {
		t.Fatalf("failed to put unit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	if text, ok, err := reopened.Get(ctx, "h"); err != nil || !ok || text != "x" {
		t.Errorf("expected persisted unit, got %q ok=%v err=%v", text, ok, err)
	}
}
