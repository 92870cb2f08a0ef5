package models

import (
	"errors"
	"fmt"
)

// Table names for every persisted table.
const (
	TableClasses        = "classes"
	TableTasks          = "tasks"
	TableCalendarEvents = "calendar_events"
	TableHabits         = "habits"
	TableHabitLogs      = "habit_logs"
	TableLocalNotes     = "local_notes"
	TableLocalFiles     = "local_files"
	TableSyncQueue      = "sync_queue"
	TableSyncStatus     = "sync_status"
	TableAppSettings    = "app_settings"
)

// ErrUnknownTable indicates a table name outside the fixed schema.
var ErrUnknownTable = errors.New("models: unknown table")

// TableSpec describes a persisted table and its role in synchronization.
type TableSpec struct {
	Name        string
	Model       any
	JSONColumns []string
	BoolColumns []string
	// Cache marks tables that mirror server entities and carry sync flags.
	Cache bool
	// Pushable tables have local mutations pushed by the sync manager.
	Pushable bool
	// Preserve keeps the table intact across Store.ClearAll.
	Preserve bool
}

// HasJSONColumn reports whether the column is serialized JSON text.
func (spec TableSpec) HasJSONColumn(column string) bool {
	for _, name := range spec.JSONColumns {
		if name == column {
			return true
		}
	}
	return false
}

var tableSpecs = []TableSpec{
	{Name: TableClasses, Model: &ClassInfo{}, JSONColumns: []string{"schedule"}, Cache: true},
	{Name: TableTasks, Model: &Task{}, JSONColumns: []string{"tags"}, Cache: true, Pushable: true},
	{Name: TableCalendarEvents, Model: &CalendarEvent{}, JSONColumns: []string{"recurrence_pattern"}, BoolColumns: []string{"all_day"}, Cache: true, Pushable: true},
	{Name: TableHabits, Model: &Habit{}, JSONColumns: []string{"recurrence_pattern"}, BoolColumns: []string{"is_active"}, Cache: true, Pushable: true},
	{Name: TableHabitLogs, Model: &HabitLog{}, Cache: true, Pushable: true},
	{Name: TableLocalNotes, Model: &LocalNote{}, JSONColumns: []string{"tags"}},
	{Name: TableLocalFiles, Model: &LocalFile{}},
	{Name: TableSyncQueue, Model: &SyncQueueEntry{}},
	{Name: TableSyncStatus, Model: &SyncStatus{}},
	{Name: TableAppSettings, Model: &AppSetting{}, Preserve: true},
}

// AllTables returns every table in migration order; parents precede children.
func AllTables() []TableSpec {
	specs := make([]TableSpec, len(tableSpecs))
	copy(specs, tableSpecs)
	return specs
}

// CacheTables returns the tables mirrored from the server, in pull apply order.
func CacheTables() []TableSpec {
	return filterTables(func(spec TableSpec) bool { return spec.Cache })
}

// PushTables returns the tables whose local mutations are pushed.
func PushTables() []TableSpec {
	return filterTables(func(spec TableSpec) bool { return spec.Pushable })
}

// LookupTable returns the table registered under name.
func LookupTable(name string) (TableSpec, error) {
	for _, spec := range tableSpecs {
		if spec.Name == name {
			return spec, nil
		}
	}
	return TableSpec{}, fmt.Errorf("%w: %q", ErrUnknownTable, name)
}

// Models returns the gorm models for AutoMigrate.
func Models() []any {
	result := make([]any, 0, len(tableSpecs))
	for _, spec := range tableSpecs {
		result = append(result, spec.Model)
	}
	return result
}

func filterTables(keep func(TableSpec) bool) []TableSpec {
	result := make([]TableSpec, 0, len(tableSpecs))
	for _, spec := range tableSpecs {
		if keep(spec) {
			result = append(result, spec)
		}
	}
	return result
}
