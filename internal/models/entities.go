package models

import "gorm.io/datatypes"

// Task statuses understood by the task service.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Habit frequencies.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// SyncFlags carries the two sync-control columns shared by every cache table.
// A row is never synced and pending at the same time under normal operation.
type SyncFlags struct {
	IsSynced  bool `gorm:"column:is_synced;not null;default:false" json:"is_synced"`
	NeedsSync bool `gorm:"column:needs_sync;not null;default:true" json:"needs_sync"`
}

// MarkPending flags the row as carrying an unpushed local mutation.
func (f *SyncFlags) MarkPending() {
	f.IsSynced = false
	f.NeedsSync = true
}

// MarkSynced flags the row as acknowledged by the server.
func (f *SyncFlags) MarkSynced() {
	f.IsSynced = true
	f.NeedsSync = false
}

// ClassInfo mirrors a server-owned class (course) entry.
type ClassInfo struct {
	ID               string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name             string         `gorm:"column:name;not null" json:"name"`
	Code             string         `gorm:"column:code" json:"code"`
	Instructor       string         `gorm:"column:instructor" json:"instructor"`
	Room             string         `gorm:"column:room" json:"room"`
	Color            string         `gorm:"column:color" json:"color"`
	Semester         string         `gorm:"column:semester" json:"semester"`
	Schedule         datatypes.JSON `gorm:"column:schedule" json:"schedule"`
	CreatedAtSeconds int64          `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at;not null" json:"updated_at"`
	SyncFlags
}

// TableName provides the explicit table binding for GORM.
func (ClassInfo) TableName() string {
	return TableClasses
}

// Task mirrors a server-owned study task.
type Task struct {
	ID                   string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	ClassID              *string        `gorm:"column:class_id;size:64;index:idx_tasks_class_id" json:"class_id"`
	Class                *ClassInfo     `gorm:"foreignKey:ClassID;references:ID;constraint:OnDelete:SET NULL" json:"-"`
	Title                string         `gorm:"column:title;not null" json:"title"`
	Description          string         `gorm:"column:description" json:"description"`
	DueDate              *int64         `gorm:"column:due_date;index:idx_tasks_due_date" json:"due_date"`
	Priority             string         `gorm:"column:priority;not null;default:medium" json:"priority"`
	Status               string         `gorm:"column:status;not null;default:pending;index:idx_tasks_status" json:"status"`
	CompletionPercentage int            `gorm:"column:completion_percentage;not null;default:0" json:"completion_percentage"`
	CompletedAt          *int64         `gorm:"column:completed_at" json:"completed_at"`
	Tags                 datatypes.JSON `gorm:"column:tags" json:"tags"`
	EstimatedMinutes     *int           `gorm:"column:estimated_minutes" json:"estimated_minutes"`
	CreatedAtSeconds     int64          `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAtSeconds     int64          `gorm:"column:updated_at;not null" json:"updated_at"`
	SyncFlags
}

// TableName provides the explicit table binding for GORM.
func (Task) TableName() string {
	return TableTasks
}

// CalendarEvent mirrors a server-owned calendar entry.
type CalendarEvent struct {
	ID                string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	ClassID           *string        `gorm:"column:class_id;size:64;index:idx_calendar_events_class_id" json:"class_id"`
	Class             *ClassInfo     `gorm:"foreignKey:ClassID;references:ID;constraint:OnDelete:SET NULL" json:"-"`
	Title             string         `gorm:"column:title;not null" json:"title"`
	Description       string         `gorm:"column:description" json:"description"`
	Location          string         `gorm:"column:location" json:"location"`
	StartTime         int64          `gorm:"column:start_time;not null;index:idx_calendar_events_start_time" json:"start_time"`
	EndTime           *int64         `gorm:"column:end_time" json:"end_time"`
	AllDay            bool           `gorm:"column:all_day;not null;default:false" json:"all_day"`
	EventType         string         `gorm:"column:event_type" json:"event_type"`
	RecurrencePattern datatypes.JSON `gorm:"column:recurrence_pattern" json:"recurrence_pattern"`
	ReminderMinutes   *int           `gorm:"column:reminder_minutes" json:"reminder_minutes"`
	CreatedAtSeconds  int64          `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAtSeconds  int64          `gorm:"column:updated_at;not null" json:"updated_at"`
	SyncFlags
}

// TableName provides the explicit table binding for GORM.
func (CalendarEvent) TableName() string {
	return TableCalendarEvents
}

// Habit mirrors a server-owned habit definition.
type Habit struct {
	ID                string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name              string         `gorm:"column:name;not null" json:"name"`
	Description       string         `gorm:"column:description" json:"description"`
	Frequency         string         `gorm:"column:frequency;not null;default:daily" json:"frequency"`
	TargetCount       int            `gorm:"column:target_count;not null;default:1" json:"target_count"`
	Color             string         `gorm:"column:color" json:"color"`
	Icon              string         `gorm:"column:icon" json:"icon"`
	RecurrencePattern datatypes.JSON `gorm:"column:recurrence_pattern" json:"recurrence_pattern"`
	IsActive          bool           `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAtSeconds  int64          `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAtSeconds  int64          `gorm:"column:updated_at;not null" json:"updated_at"`
	SyncFlags
}

// TableName provides the explicit table binding for GORM.
func (Habit) TableName() string {
	return TableHabits
}

// HabitLog records one completion of a habit.
type HabitLog struct {
	ID               string `gorm:"column:id;primaryKey;size:64" json:"id"`
	HabitID          string `gorm:"column:habit_id;size:64;not null;index:idx_habit_logs_habit_id" json:"habit_id"`
	Habit            *Habit `gorm:"foreignKey:HabitID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	LoggedAt         int64  `gorm:"column:logged_at;not null" json:"logged_at"`
	Count            int    `gorm:"column:count;not null;default:1" json:"count"`
	Note             string `gorm:"column:note" json:"note"`
	CreatedAtSeconds int64  `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at;not null" json:"updated_at"`
	SyncFlags
}

// TableName provides the explicit table binding for GORM.
func (HabitLog) TableName() string {
	return TableHabitLogs
}
