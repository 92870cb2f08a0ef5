package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/database"
	"github.com/MarcoPoloResearchLab/studysync/internal/syncqueue"
)

type sequentialIDs struct {
	prefix string
	next   int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) {
	return "", fmt.Errorf("entropy exhausted")
}

type manualClock struct {
	current time.Time
}

func (c *manualClock) Now() time.Time {
	return c.current
}

func (c *manualClock) Advance(duration time.Duration) {
	c.current = c.current.Add(duration)
}

type testEnv struct {
	store *database.Store
	queue *syncqueue.Queue
	clock *manualClock
	deps  Dependencies
}

func newTestEnv(t *testing.T, prefix string) *testEnv {
	t.Helper()
	clock := &manualClock{current: time.Unix(1700000000, 0).UTC()}
	store, err := database.OpenStore(context.Background(), database.StoreConfig{
		Path:  filepath.Join(t.TempDir(), "services.db"),
		Clock: clock.Now,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	queue, err := syncqueue.New(syncqueue.Config{Store: store, Clock: clock.Now})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return &testEnv{
		store: store,
		queue: queue,
		clock: clock,
		deps: Dependencies{
			Store:      store,
			Queue:      queue,
			IDProvider: &sequentialIDs{prefix: prefix},
			Clock:      clock.Now,
		},
	}
}

func (env *testEnv) queueCount(t *testing.T) int64 {
	t.Helper()
	count, err := env.queue.Count(context.Background())
	if err != nil {
		t.Fatalf("queue count: %v", err)
	}
	return count
}

func (env *testEnv) flags(t *testing.T, table, id string) (bool, bool) {
	t.Helper()
	row, err := env.store.SelectFirst(context.Background(), "SELECT is_synced, needs_sync FROM "+table+" WHERE id = ?", id)
	if err != nil {
		t.Fatalf("select flags: %v", err)
	}
	if row == nil {
		t.Fatalf("row %s/%s not found", table, id)
	}
	return row.Bool("is_synced"), row.Bool("needs_sync")
}

func (env *testEnv) markSynced(t *testing.T, table, id string) {
	t.Helper()
	_, err := env.store.Execute(context.Background(), "UPDATE "+table+" SET is_synced = 1, needs_sync = 0 WHERE id = ?", id)
	if err != nil {
		t.Fatalf("mark synced: %v", err)
	}
}

func stringPointer(value string) *string {
	return &value
}

func intPointer(value int) *int {
	return &value
}

func int64Pointer(value int64) *int64 {
	return &value
}
