package devserver

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"github.com/google/uuid"
)

var (
	errUnknownTable    = errors.New("unknown table")
	errRecordMissingID = errors.New("record id is required")
	errRecordNotFound  = errors.New("record not found")
	errInvalidLastSync = errors.New("last_sync must be a revision number")
)

// Record is one entity as stored by the server.
type Record = map[string]any

type storedRecord struct {
	fields   Record
	revision int64
	// writer is the device that last pushed the row; empty for REST writes.
	writer string
}

// Dataset is the in-memory record store, partitioned by user. Every write
// bumps a global revision which doubles as the pull watermark.
type Dataset struct {
	mu       sync.Mutex
	clock    func() time.Time
	revision int64
	users    map[string]map[string]map[string]*storedRecord
}

// NewDataset constructs an empty Dataset.
func NewDataset(clock func() time.Time) *Dataset {
	if clock == nil {
		clock = time.Now
	}
	return &Dataset{
		clock: clock,
		users: make(map[string]map[string]map[string]*storedRecord),
	}
}

// syncedTables are the tables the server accepts and serves.
func syncedTables() []string {
	tables := make([]string, 0)
	for _, spec := range models.CacheTables() {
		tables = append(tables, spec.Name)
	}
	return tables
}

func knownTable(table string) bool {
	for _, name := range syncedTables() {
		if name == table {
			return true
		}
	}
	return false
}

// Revision returns the current watermark.
func (d *Dataset) Revision() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revision
}

// Push upserts records written by deviceID.
func (d *Dataset) Push(userID, table, deviceID string, records []Record) error {
	if !knownTable(table) {
		return fmt.Errorf("%w: %s", errUnknownTable, table)
	}
	for index, record := range records {
		if recordID(record) == "" {
			return fmt.Errorf("%w: %s[%d]", errRecordMissingID, table, index)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	rows := d.tableLocked(userID, table)
	for _, record := range records {
		d.revision++
		rows[recordID(record)] = &storedRecord{
			fields:   sanitize(record),
			revision: d.revision,
			writer:   deviceID,
		}
	}
	return nil
}

// Pull returns the rows of tables changed after lastSync. With an empty
// lastSync every row is returned; otherwise rows last pushed by deviceID
// are skipped. An empty tables list means every table.
func (d *Dataset) Pull(userID, deviceID, lastSync string, tables []string) (map[string][]Record, string, error) {
	since := int64(-1)
	if trimmed := strings.TrimSpace(lastSync); trimmed != "" {
		parsed, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil || parsed < 0 {
			return nil, "", fmt.Errorf("%w: %q", errInvalidLastSync, lastSync)
		}
		since = parsed
	}
	if len(tables) == 0 {
		tables = syncedTables()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	result := make(map[string][]Record, len(tables))
	for _, table := range tables {
		if !knownTable(table) {
			return nil, "", fmt.Errorf("%w: %s", errUnknownTable, table)
		}
		stored := d.users[userID][table]
		changed := make([]*storedRecord, 0, len(stored))
		for _, row := range stored {
			if row.revision <= since {
				continue
			}
			if since >= 0 && deviceID != "" && row.writer == deviceID {
				continue
			}
			changed = append(changed, row)
		}
		sort.Slice(changed, func(i, j int) bool { return changed[i].revision < changed[j].revision })
		records := make([]Record, 0, len(changed))
		for _, row := range changed {
			records = append(records, copyRecord(row.fields))
		}
		result[table] = records
	}
	return result, strconv.FormatInt(d.revision, 10), nil
}

// Create stores a REST-created record, generating an id when absent.
func (d *Dataset) Create(userID, table string, fields Record) (Record, error) {
	if !knownTable(table) {
		return nil, fmt.Errorf("%w: %s", errUnknownTable, table)
	}
	record := sanitize(fields)
	if recordID(record) == "" {
		record["id"] = uuid.NewString()
	}
	now := d.clock().UTC().Unix()
	if _, ok := record["created_at"]; !ok {
		record["created_at"] = now
	}
	if _, ok := record["updated_at"]; !ok {
		record["updated_at"] = now
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.revision++
	d.tableLocked(userID, table)[recordID(record)] = &storedRecord{fields: record, revision: d.revision}
	return copyRecord(record), nil
}

// Update merges fields into an existing record.
func (d *Dataset) Update(userID, table, id string, fields Record) (Record, error) {
	if !knownTable(table) {
		return nil, fmt.Errorf("%w: %s", errUnknownTable, table)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	row, ok := d.users[userID][table][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", errRecordNotFound, table, id)
	}
	for key, value := range sanitize(fields) {
		if key == "id" {
			continue
		}
		row.fields[key] = value
	}
	if _, ok := fields["updated_at"]; !ok {
		row.fields["updated_at"] = d.clock().UTC().Unix()
	}
	d.revision++
	row.revision = d.revision
	row.writer = ""
	return copyRecord(row.fields), nil
}

// Delete removes a record.
func (d *Dataset) Delete(userID, table, id string) error {
	if !knownTable(table) {
		return fmt.Errorf("%w: %s", errUnknownTable, table)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	rows := d.users[userID][table]
	if _, ok := rows[id]; !ok {
		return fmt.Errorf("%w: %s/%s", errRecordNotFound, table, id)
	}
	delete(rows, id)
	return nil
}

// Get returns a copy of one record.
func (d *Dataset) Get(userID, table, id string) (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	row, ok := d.users[userID][table][id]
	if !ok {
		return nil, false
	}
	return copyRecord(row.fields), true
}

func (d *Dataset) tableLocked(userID, table string) map[string]*storedRecord {
	tables, ok := d.users[userID]
	if !ok {
		tables = make(map[string]map[string]*storedRecord)
		d.users[userID] = tables
	}
	rows, ok := tables[table]
	if !ok {
		rows = make(map[string]*storedRecord)
		tables[table] = rows
	}
	return rows
}

// sanitize copies record without the client-side sync flags.
func sanitize(record Record) Record {
	clean := copyRecord(record)
	delete(clean, "is_synced")
	delete(clean, "needs_sync")
	return clean
}

func copyRecord(record Record) Record {
	clone := make(Record, len(record))
	for key, value := range record {
		clone[key] = value
	}
	return clone
}

func recordID(record Record) string {
	switch id := record["id"].(type) {
	case string:
		return strings.TrimSpace(id)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(id))
	}
}
