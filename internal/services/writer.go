package services

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/database"
	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"github.com/MarcoPoloResearchLab/studysync/internal/syncqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies are shared by every entity service.
type Dependencies struct {
	Store      *database.Store
	Queue      *syncqueue.Queue
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// entityWriter writes cache rows and their journal entries in one transaction.
type entityWriter struct {
	store  *database.Store
	queue  *syncqueue.Queue
	ids    IDProvider
	clock  func() time.Time
	logger *zap.Logger
}

func newEntityWriter(operation string, deps Dependencies) (entityWriter, error) {
	if deps.Store == nil {
		return entityWriter{}, newServiceError(operation, "missing_store", errMissingStore)
	}
	if deps.Queue == nil {
		return entityWriter{}, newServiceError(operation, "missing_queue", errMissingQueue)
	}
	ids := deps.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return entityWriter{store: deps.Store, queue: deps.Queue, ids: ids, clock: clock, logger: logger}, nil
}

func (w entityWriter) now() int64 {
	return w.clock().UTC().Unix()
}

func (w entityWriter) newID(operation string) (string, error) {
	id, err := w.ids.NewID()
	if err != nil {
		logError(w.logger, operation, "id_generation_failed", err)
		return "", newServiceError(operation, "id_generation_failed", err)
	}
	return id, nil
}

// within runs fn in a transaction; errors that are not already ServiceErrors
// are wrapped as <operation>.storage_failed.
func (w entityWriter) within(ctx context.Context, operation string, fn func(tx *database.Store, db *gorm.DB) error) error {
	err := w.store.Transaction(ctx, func(tx *database.Store) error {
		db, err := tx.DB(ctx)
		if err != nil {
			return err
		}
		return fn(tx, db)
	})
	if err == nil {
		return nil
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		logError(w.logger, operation, serviceErr.Code(), err)
		return err
	}
	logError(w.logger, operation, "storage_failed", err)
	return newServiceError(operation, "storage_failed", err)
}

func (w entityWriter) journal(ctx context.Context, tx *database.Store, operation, table, id, action string, snapshot any) error {
	if _, err := w.queue.Bind(tx).Enqueue(ctx, table, id, action, snapshot); err != nil {
		return newServiceError(operation, "enqueue_failed", err)
	}
	return nil
}

// insert creates model and journals an INSERT.
func (w entityWriter) insert(ctx context.Context, operation, table, id string, model any) error {
	return w.within(ctx, operation, func(tx *database.Store, db *gorm.DB) error {
		if err := db.Create(model).Error; err != nil {
			return newServiceError(operation, "insert_failed", err)
		}
		return w.journal(ctx, tx, operation, table, id, models.ActionInsert, model)
	})
}

// remove deletes the row and journals a DELETE. A missing row returns false
// and journals nothing.
func (w entityWriter) remove(ctx context.Context, operation, table, id string, model any) (bool, error) {
	deleted := false
	err := w.within(ctx, operation, func(tx *database.Store, db *gorm.DB) error {
		result := db.Where("id = ?", id).Delete(model)
		if result.Error != nil {
			return newServiceError(operation, "delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return w.journal(ctx, tx, operation, table, id, models.ActionDelete, nil)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// update loads the row, lets mutate change it, then saves and journals an
// UPDATE. A missing row returns nil without error.
func update[T any](ctx context.Context, w entityWriter, operation, table, id string, mutate func(*T) error) (*T, error) {
	var updated *T
	err := w.within(ctx, operation, func(tx *database.Store, db *gorm.DB) error {
		var existing T
		err := db.Where("id = ?", id).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return newServiceError(operation, "select_failed", err)
		}
		if err := mutate(&existing); err != nil {
			return err
		}
		if err := db.Save(&existing).Error; err != nil {
			return newServiceError(operation, "save_failed", err)
		}
		if err := w.journal(ctx, tx, operation, table, id, models.ActionUpdate, &existing); err != nil {
			return err
		}
		updated = &existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func findByID[T any](ctx context.Context, store *database.Store, id any) (*T, error) {
	db, err := store.DB(ctx)
	if err != nil {
		return nil, err
	}
	var value T
	err = db.Where("id = ?", id).Take(&value).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func findAll[T any](ctx context.Context, store *database.Store, order string, conditions ...any) ([]T, error) {
	db, err := store.DB(ctx)
	if err != nil {
		return nil, err
	}
	query := db.Order(order)
	if len(conditions) > 0 {
		query = query.Where(conditions[0], conditions[1:]...)
	}
	values := make([]T, 0)
	if err := query.Find(&values).Error; err != nil {
		return nil, err
	}
	return values, nil
}

func (w entityWriter) read(operation string, err error) error {
	logError(w.logger, operation, "select_failed", err)
	return newServiceError(operation, "select_failed", err)
}
