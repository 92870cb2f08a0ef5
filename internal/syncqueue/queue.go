// Package syncqueue records local mutations that need remote propagation.
//
// The queue is an append-only journal. The authoritative push signal is the
// needs_sync flag on the cache row, so entries are never consumed by the sync
// cycle; Prune offers explicit retention.
package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/database"
	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("syncqueue: store is required")
	// ErrInvalidAction indicates an action other than INSERT, UPDATE or DELETE.
	ErrInvalidAction = errors.New("syncqueue: invalid action")
	// ErrMissingRecordID indicates an entry without a record id.
	ErrMissingRecordID = errors.New("syncqueue: record id is required")
)

// Config wires a Queue.
type Config struct {
	Store  *database.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Queue appends sync queue entries through a Store.
type Queue struct {
	store  *database.Store
	clock  func() time.Time
	logger *zap.Logger
}

// New constructs a Queue.
func New(cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{store: cfg.Store, clock: clock, logger: logger}, nil
}

// Bind returns a Queue writing through the given transaction-bound store.
func (q *Queue) Bind(tx *database.Store) *Queue {
	return &Queue{store: tx, clock: q.clock, logger: q.logger}
}

// Enqueue appends a pending entry. INSERT and UPDATE also flag the cache row
// as needing sync; DELETE leaves the (already removed) row alone.
func (q *Queue) Enqueue(ctx context.Context, table, recordID, action string, snapshot any) (models.SyncQueueEntry, error) {
	spec, err := models.LookupTable(table)
	if err != nil {
		return models.SyncQueueEntry{}, err
	}
	if recordID == "" {
		return models.SyncQueueEntry{}, ErrMissingRecordID
	}
	switch action {
	case models.ActionInsert, models.ActionUpdate, models.ActionDelete:
	default:
		return models.SyncQueueEntry{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return models.SyncQueueEntry{}, err
	}

	entry := models.SyncQueueEntry{
		Table:            table,
		RecordID:         recordID,
		Action:           action,
		Data:             data,
		CreatedAtSeconds: q.clock().UTC().Unix(),
		Status:           models.QueueStatusPending,
	}

	err = q.store.Transaction(ctx, func(tx *database.Store) error {
		result, err := tx.Execute(ctx,
			"INSERT INTO sync_queue (table_name, record_id, action, data, created_at, retry_count, status) VALUES (?, ?, ?, ?, ?, 0, ?)",
			entry.Table, entry.RecordID, entry.Action, entry.Data, entry.CreatedAtSeconds, entry.Status)
		if err != nil {
			return err
		}
		entry.ID = result.LastInsertID

		if action == models.ActionDelete || !spec.Cache {
			return nil
		}
		_, err = tx.Execute(ctx,
			"UPDATE "+database.QuoteIdent(table)+" SET needs_sync = 1, is_synced = 0 WHERE id = ?", recordID)
		return err
	})
	if err != nil {
		q.logger.Error("sync queue enqueue failed",
			zap.String("table", table),
			zap.String("record_id", recordID),
			zap.String("action", action),
			zap.Error(err))
		return models.SyncQueueEntry{}, fmt.Errorf("syncqueue: enqueue %s %s: %w", table, recordID, err)
	}
	return entry, nil
}

// Count returns the number of journal entries.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	db, err := q.store.DB(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.Model(&models.SyncQueueEntry{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// List returns up to limit entries, newest first. A non-positive limit returns all.
func (q *Queue) List(ctx context.Context, limit int) ([]models.SyncQueueEntry, error) {
	db, err := q.store.DB(ctx)
	if err != nil {
		return nil, err
	}
	query := db.Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var entries []models.SyncQueueEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ForRecord returns the entries recorded for one row, oldest first.
func (q *Queue) ForRecord(ctx context.Context, table, recordID string) ([]models.SyncQueueEntry, error) {
	db, err := q.store.DB(ctx)
	if err != nil {
		return nil, err
	}
	var entries []models.SyncQueueEntry
	err = db.Where("table_name = ? AND record_id = ?", table, recordID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Prune deletes entries created before the cutoff and returns how many were removed.
func (q *Queue) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := q.store.Execute(ctx,
		"DELETE FROM sync_queue WHERE created_at < ?", before.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("syncqueue: prune: %w", err)
	}
	if result.Changes > 0 {
		q.logger.Info("sync queue pruned",
			zap.Int64("removed", result.Changes),
			zap.Time("before", before.UTC()))
	}
	return result.Changes, nil
}

func encodeSnapshot(snapshot any) (*string, error) {
	switch typed := snapshot.(type) {
	case nil:
		return nil, nil
	case string:
		return &typed, nil
	case []byte:
		text := string(typed)
		return &text, nil
	}
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("syncqueue: encode snapshot: %w", err)
	}
	text := string(encoded)
	if text == "null" {
		return nil, nil
	}
	return &text, nil
}
