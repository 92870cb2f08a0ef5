package database

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(context.Background(), StoreConfig{
		Path:  filepath.Join(t.TempDir(), "store.db"),
		Clock: func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustExecute(t *testing.T, store *Store, query string, args ...any) Result {
	t.Helper()
	result, err := store.Execute(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("execute %q: %v", query, err)
	}
	return result
}

func TestStoreInitializeIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("second initialize failed: %v", err)
	}
}

func TestStoreInitializeFailsForUnusablePath(t *testing.T) {
	store := NewStore(StoreConfig{Path: ""})
	if err := store.Initialize(context.Background()); err == nil {
		t.Fatalf("expected initialize to fail for an empty path")
	}
	if _, err := store.SelectAll(context.Background(), "SELECT 1"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestStoreExecuteReportsChangesAndInsertID(t *testing.T) {
	store := newTestStore(t)

	first := mustExecute(t, store,
		"INSERT INTO local_notes (title, content, created_at, updated_at) VALUES (?, ?, ?, ?)",
		"Lecture 1", "intro", 1, 1)
	second := mustExecute(t, store,
		"INSERT INTO local_notes (title, content, created_at, updated_at) VALUES (?, ?, ?, ?)",
		"Lecture 2", "recap", 2, 2)
	if first.Changes != 1 || second.Changes != 1 {
		t.Fatalf("expected one change per insert, got %d and %d", first.Changes, second.Changes)
	}
	if second.LastInsertID != first.LastInsertID+1 {
		t.Fatalf("expected sequential insert ids, got %d then %d", first.LastInsertID, second.LastInsertID)
	}

	updated := mustExecute(t, store, "UPDATE local_notes SET content = ?", "edited")
	if updated.Changes != 2 {
		t.Fatalf("expected 2 updated rows, got %d", updated.Changes)
	}
}

func TestStoreSelectFirstAndAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	missing, err := store.SelectFirst(ctx, "SELECT * FROM tasks WHERE id = ?", "absent")
	if err != nil {
		t.Fatalf("select first: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil row for a missing id, got %v", missing)
	}

	mustExecute(t, store,
		"INSERT INTO tasks (id, title, priority, status, completion_percentage, tags, created_at, updated_at, is_synced, needs_sync) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		"task-1", "Essay", models.PriorityHigh, models.TaskStatusPending, 0, `["writing"]`, 10, 10, 0, 1)

	rows, err := store.SelectAll(ctx, "SELECT * FROM tasks")
	if err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.String("title") != "Essay" || row.String("tags") != `["writing"]` {
		t.Fatalf("unexpected row contents: %v", row)
	}
	if row.Bool("is_synced") || !row.Bool("needs_sync") {
		t.Fatalf("unexpected sync flags: %v", row)
	}
	if row.Int64("created_at") != 10 {
		t.Fatalf("expected created_at 10, got %d", row.Int64("created_at"))
	}
}

func TestStoreTransactionRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	failure := errors.New("abort")

	err := store.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.Execute(ctx,
			"INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)", "theme", "dark", 1); err != nil {
			return err
		}
		return tx.Transaction(ctx, func(nested *Store) error {
			if _, err := nested.Execute(ctx,
				"INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)", "locale", "en", 1); err != nil {
				return err
			}
			return failure
		})
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected transaction error to propagate, got %v", err)
	}

	rows, err := store.SelectAll(ctx, "SELECT * FROM app_settings")
	if err != nil {
		t.Fatalf("select settings: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected rollback to discard writes, found %d rows", len(rows))
	}
}

func TestStoreClearAllKeepsPreservedTables(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustExecute(t, store, "INSERT INTO app_settings (key, value, updated_at) VALUES ('device_id', 'x', 1)")
	mustExecute(t, store, "INSERT INTO sync_status (table_name, last_sync, pending_push_count) VALUES ('global', '3', 0)")
	mustExecute(t, store, "INSERT INTO sync_queue (table_name, record_id, action, created_at, retry_count, status) VALUES ('tasks', 't', 'INSERT', 1, 0, 'pending')")
	if _, err := store.UpsertSynced(ctx, models.TableClasses, map[string]any{"id": "c1", "name": "Biology"}); err != nil {
		t.Fatalf("upsert class: %v", err)
	}

	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("clear all: %v", err)
	}

	for _, spec := range models.AllTables() {
		row, err := store.SelectFirst(ctx, "SELECT COUNT(*) AS total FROM "+QuoteIdent(spec.Name))
		if err != nil {
			t.Fatalf("count %s: %v", spec.Name, err)
		}
		expected := int64(0)
		if spec.Preserve {
			expected = 1
		}
		if row.Int64("total") != expected {
			t.Fatalf("expected %s to hold %d rows, found %d", spec.Name, expected, row.Int64("total"))
		}
	}

	setting, err := store.SelectFirst(ctx, "SELECT value FROM app_settings WHERE key = 'device_id'")
	if err != nil {
		t.Fatalf("select device id: %v", err)
	}
	if setting == nil || setting.String("value") != "x" {
		t.Fatalf("expected device id setting to survive clear, got %v", setting)
	}
}

func TestStoreColumnsListsSchemaColumns(t *testing.T) {
	store := newTestStore(t)
	columns, err := store.Columns(models.TableHabitLogs)
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	sort.Strings(columns)
	expected := []string{"count", "created_at", "habit_id", "id", "is_synced", "logged_at", "needs_sync", "note", "updated_at"}
	if len(columns) != len(expected) {
		t.Fatalf("expected columns %v, got %v", expected, columns)
	}
	for index := range expected {
		if columns[index] != expected[index] {
			t.Fatalf("expected columns %v, got %v", expected, columns)
		}
	}

	if _, err := store.Columns("grades"); !errors.Is(err, models.ErrUnknownTable) {
		t.Fatalf("expected unknown table error, got %v", err)
	}
}

func TestStoreUpsertSyncedForcesFlagsAndReportsOverwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustExecute(t, store,
		"INSERT INTO tasks (id, title, priority, status, completion_percentage, created_at, updated_at, is_synced, needs_sync) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		"task-1", "A", models.PriorityMedium, models.TaskStatusPending, 0, 5, 5, 0, 1)

	overwrote, err := store.UpsertSynced(ctx, models.TableTasks, map[string]any{
		"id":                    "task-1",
		"title":                 "B",
		"priority":              "low",
		"status":                "pending",
		"completion_percentage": float64(0),
		"tags":                  []any{"server"},
		"unknown_server_field":  "dropped",
		"is_synced":             false,
		"needs_sync":            true,
		"created_at":            float64(5),
		"updated_at":            float64(9),
	})
	if err != nil {
		t.Fatalf("upsert synced: %v", err)
	}
	if !overwrote {
		t.Fatalf("expected overwrite of a pending row to be reported")
	}

	row, err := store.SelectFirst(ctx, "SELECT * FROM tasks WHERE id = ?", "task-1")
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if row.String("title") != "B" || row.String("tags") != `["server"]` {
		t.Fatalf("expected server values, got %v", row)
	}
	if !row.Bool("is_synced") || row.Bool("needs_sync") {
		t.Fatalf("expected synced flags, got %v", row)
	}
	if row.Int64("updated_at") != 9 {
		t.Fatalf("expected updated_at 9, got %d", row.Int64("updated_at"))
	}

	overwrote, err = store.UpsertSynced(ctx, models.TableTasks, map[string]any{
		"id": "task-1", "title": "C", "priority": "low", "status": "pending", "completion_percentage": 0,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if overwrote {
		t.Fatalf("expected a synced row replacement not to count as an overwrite")
	}
}

func TestStoreUpsertSyncedRejectsInvalidInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.UpsertSynced(ctx, models.TableTasks, map[string]any{"title": "no id"}); !errors.Is(err, ErrMissingRecordID) {
		t.Fatalf("expected ErrMissingRecordID, got %v", err)
	}
	if _, err := store.UpsertSynced(ctx, models.TableSyncQueue, map[string]any{"id": "1"}); !errors.Is(err, ErrNotCacheTable) {
		t.Fatalf("expected ErrNotCacheTable, got %v", err)
	}
}

func TestStoreUpsertSyncedStampsMissingTimestamps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.UpsertSynced(ctx, models.TableClasses, map[string]any{"id": "c1", "name": "Chemistry"}); err != nil {
		t.Fatalf("upsert class: %v", err)
	}
	row, err := store.SelectFirst(ctx, "SELECT created_at, updated_at FROM classes WHERE id = 'c1'")
	if err != nil {
		t.Fatalf("reload class: %v", err)
	}
	if row.Int64("created_at") != 1700000000 || row.Int64("updated_at") != 1700000000 {
		t.Fatalf("expected clock timestamps, got %v", row)
	}
}
