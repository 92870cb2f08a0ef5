package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotInitialized is returned when the store is used before Initialize.
	ErrNotInitialized = errors.New("database: store is not initialized")
	// ErrMissingRecordID indicates an upsert row without a usable id column.
	ErrMissingRecordID = errors.New("database: record id is required")
	// ErrNotCacheTable indicates a synced upsert into a local-only table.
	ErrNotCacheTable = errors.New("database: table is not a cache table")
)

// Row is one result row keyed by column name.
type Row map[string]any

// String returns the column as text; NULL and missing columns yield "".
func (r Row) String(column string) string {
	switch value := r[column].(type) {
	case nil:
		return ""
	case string:
		return value
	case []byte:
		return string(value)
	default:
		return fmt.Sprint(value)
	}
}

// Int64 returns the column as an integer; non-numeric values yield 0.
func (r Row) Int64(column string) int64 {
	switch value := r[column].(type) {
	case int64:
		return value
	case int:
		return int64(value)
	case float64:
		return int64(value)
	case bool:
		if value {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Bool interprets the column as a SQLite boolean.
func (r Row) Bool(column string) bool {
	return r.Int64(column) != 0
}

// Result describes the effect of a mutating statement.
type Result struct {
	Changes      int64
	LastInsertID int64
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Path   string
	Logger *zap.Logger
	Clock  func() time.Time
}

// Store is the single gateway to persisted state. A Store obtained inside
// Transaction is bound to that transaction and must not escape the callback.
type Store struct {
	path   string
	logger *zap.Logger
	clock  func() time.Time

	mu sync.Mutex
	db *gorm.DB

	inTransaction bool
}

// NewStore constructs an uninitialized Store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{path: cfg.Path, logger: logger, clock: clock}
}

// OpenStore constructs and initializes a Store in one step.
func OpenStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	store := NewStore(cfg)
	if err := store.Initialize(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Initialize opens the database and applies the schema. Repeated calls are no-ops.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := OpenSQLite(s.path, s.logger)
	if err != nil {
		s.logger.Error("database open failed", zap.String("path", s.path), zap.Error(err))
		return fmt.Errorf("database: open %s: %w", s.path, err)
	}
	s.db = db
	return nil
}

// DB exposes the gorm handle, bound to the current transaction if any.
func (s *Store) DB(ctx context.Context) (*gorm.DB, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	return db.WithContext(ctx), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.inTransaction {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.db = nil
	return sqlDB.Close()
}

// Now returns the store clock reading in unix seconds.
func (s *Store) Now() int64 {
	return s.clock().UTC().Unix()
}

// Execute runs a single mutating statement.
func (s *Store) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	db, err := s.handle()
	if err != nil {
		return Result{}, err
	}
	outcome, err := db.Statement.ConnPool.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	changes, err := outcome.RowsAffected()
	if err != nil {
		return Result{}, err
	}
	lastInsertID, err := outcome.LastInsertId()
	if err != nil {
		return Result{}, err
	}
	return Result{Changes: changes, LastInsertID: lastInsertID}, nil
}

// SelectAll returns every row produced by query.
func (s *Store) SelectAll(ctx context.Context, query string, args ...any) ([]Row, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.Statement.ConnPool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// SelectFirst returns the first row produced by query, or nil when there is none.
func (s *Store) SelectFirst(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := s.SelectAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Transaction runs fn atomically. Nested calls join the outer transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTransaction {
		return fn(s)
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Transaction(func(gormTx *gorm.DB) error {
		return fn(&Store{
			path:          s.path,
			logger:        s.logger,
			clock:         s.clock,
			db:            gormTx,
			inTransaction: true,
		})
	})
}

// ClearAll deletes every row of every registered table except preserved ones,
// so the device identity outlives a reset.
func (s *Store) ClearAll(ctx context.Context) error {
	tables := models.AllTables()
	return s.Transaction(ctx, func(tx *Store) error {
		for index := len(tables) - 1; index >= 0; index-- {
			if tables[index].Preserve {
				continue
			}
			statement := "DELETE FROM " + quoteIdent(tables[index].Name)
			if _, err := tx.Execute(ctx, statement); err != nil {
				return fmt.Errorf("database: clear %s: %w", tables[index].Name, err)
			}
		}
		return nil
	})
}

// Columns returns the column names of a registered table.
func (s *Store) Columns(table string) ([]string, error) {
	spec, err := models.LookupTable(table)
	if err != nil {
		return nil, err
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	statement := &gorm.Statement{DB: db}
	if err := statement.Parse(spec.Model); err != nil {
		return nil, fmt.Errorf("database: parse schema for %s: %w", table, err)
	}
	columns := make([]string, len(statement.Schema.DBNames))
	copy(columns, statement.Schema.DBNames)
	return columns, nil
}

// UpsertSynced writes a server-confirmed row into a cache table with
// INSERT OR REPLACE, forcing is_synced=1 and needs_sync=0. Unknown columns are
// dropped and JSON columns are serialized. It reports whether the replaced row
// still carried an unpushed local mutation.
func (s *Store) UpsertSynced(ctx context.Context, table string, record map[string]any) (bool, error) {
	spec, err := models.LookupTable(table)
	if err != nil {
		return false, err
	}
	if !spec.Cache {
		return false, fmt.Errorf("%w: %s", ErrNotCacheTable, table)
	}
	columns, err := s.Columns(table)
	if err != nil {
		return false, err
	}

	id := recordID(record["id"])
	if id == "" {
		return false, fmt.Errorf("%w: %s", ErrMissingRecordID, table)
	}

	values := make(map[string]any, len(columns))
	for _, column := range columns {
		if value, ok := record[column]; ok {
			values[column] = value
		}
	}
	if err := spec.EncodeJSONColumns(values); err != nil {
		return false, err
	}
	values["id"] = id
	values["is_synced"] = true
	values["needs_sync"] = false
	now := s.Now()
	if _, ok := values["updated_at"]; !ok {
		values["updated_at"] = now
	}
	if _, ok := values["created_at"]; !ok {
		values["created_at"] = values["updated_at"]
	}

	existing, err := s.SelectFirst(ctx,
		"SELECT needs_sync FROM "+quoteIdent(table)+" WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	overwrotePending := existing != nil && existing.Bool("needs_sync")

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	quoted := make([]string, len(names))
	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for index, name := range names {
		quoted[index] = quoteIdent(name)
		placeholders[index] = "?"
		args[index] = values[name]
	}
	statement := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if _, err := s.Execute(ctx, statement, args...); err != nil {
		return false, fmt.Errorf("database: upsert %s %s: %w", table, id, err)
	}
	return overwrotePending, nil
}

func (s *Store) handle() (*gorm.DB, error) {
	if s.inTransaction {
		return s.db, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for index := range values {
			pointers[index] = &values[index]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for index, column := range columns {
			if raw, ok := values[index].([]byte); ok {
				row[column] = string(raw)
				continue
			}
			row[column] = values[index]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func recordID(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return fmt.Sprintf("%.0f", typed)
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteIdent quotes a SQLite identifier.
func QuoteIdent(name string) string {
	return quoteIdent(name)
}
