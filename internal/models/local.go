package models

import "gorm.io/datatypes"

// Queue actions recorded in the sync queue.
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// Queue entry statuses.
const (
	QueueStatusPending = "pending"
)

// GlobalSyncScope is the only sync status scope written by the sync manager.
const GlobalSyncScope = "global"

// SyncQueueEntry is one append-only journal row describing a local mutation.
type SyncQueueEntry struct {
	ID               int64   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Table            string  `gorm:"column:table_name;not null;index:idx_sync_queue_record,priority:1" json:"table_name"`
	RecordID         string  `gorm:"column:record_id;not null;index:idx_sync_queue_record,priority:2" json:"record_id"`
	Action           string  `gorm:"column:action;not null" json:"action"`
	Data             *string `gorm:"column:data;type:text" json:"data"`
	CreatedAtSeconds int64   `gorm:"column:created_at;not null;index:idx_sync_queue_created_at" json:"created_at"`
	RetryCount       int     `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	LastError        *string `gorm:"column:last_error" json:"last_error"`
	Status           string  `gorm:"column:status;not null;default:pending;index:idx_sync_queue_status" json:"status"`
}

// TableName provides the explicit table binding for GORM.
func (SyncQueueEntry) TableName() string {
	return TableSyncQueue
}

// SyncStatus tracks the pull watermark of one sync scope.
type SyncStatus struct {
	Scope            string  `gorm:"column:table_name;primaryKey;size:64" json:"table_name"`
	LastSync         *string `gorm:"column:last_sync" json:"last_sync"`
	LastPullSeconds  *int64  `gorm:"column:last_pull" json:"last_pull"`
	PendingPushCount int     `gorm:"column:pending_push_count;not null;default:0" json:"pending_push_count"`
	LastError        *string `gorm:"column:last_error" json:"last_error"`
}

// TableName provides the explicit table binding for GORM.
func (SyncStatus) TableName() string {
	return TableSyncStatus
}

// AppSetting is a key/value row for installation-scoped values such as the device identity.
type AppSetting struct {
	Key              string `gorm:"column:key;primaryKey;size:190" json:"key"`
	Value            string `gorm:"column:value;type:text;not null" json:"value"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (AppSetting) TableName() string {
	return TableAppSettings
}

// LocalNote is a note kept only on this device.
type LocalNote struct {
	ID               int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title            string         `gorm:"column:title;not null" json:"title"`
	Content          string         `gorm:"column:content;type:text" json:"content"`
	ClassID          *string        `gorm:"column:class_id;size:64;index:idx_local_notes_class_id" json:"class_id"`
	Tags             datatypes.JSON `gorm:"column:tags" json:"tags"`
	CreatedAtSeconds int64          `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (LocalNote) TableName() string {
	return TableLocalNotes
}

// LocalFile is an attachment reference kept only on this device.
type LocalFile struct {
	ID               int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	NoteID           *int64     `gorm:"column:note_id;index:idx_local_files_note_id" json:"note_id"`
	Note             *LocalNote `gorm:"foreignKey:NoteID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	ClassID          *string    `gorm:"column:class_id;size:64" json:"class_id"`
	Name             string     `gorm:"column:name;not null" json:"name"`
	URI              string     `gorm:"column:uri;not null" json:"uri"`
	MimeType         string     `gorm:"column:mime_type" json:"mime_type"`
	SizeBytes        int64      `gorm:"column:size_bytes;not null;default:0" json:"size_bytes"`
	CreatedAtSeconds int64      `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (LocalFile) TableName() string {
	return TableLocalFiles
}
