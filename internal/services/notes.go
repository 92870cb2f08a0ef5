package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/database"
	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opNoteServiceNew = "notes.service.new"
	opNoteCreate     = "notes.create"
	opNoteUpdate     = "notes.update"
	opNoteDelete     = "notes.delete"
	opNoteList       = "notes.list"
	opFileAdd        = "notes.add_file"
	opFileDelete     = "notes.delete_file"
	opFileList       = "notes.list_files"
)

var (
	errMissingFileName = errors.New("file name is required")
	errMissingFileURI  = errors.New("file uri is required")
)

// NoteInput holds the fields of a new local note.
type NoteInput struct {
	Title   string
	Content string
	ClassID *string
	Tags    []string
}

// NotePatch holds a partial note update; nil fields are left unchanged.
type NotePatch struct {
	Title   *string
	Content *string
	ClassID *string
	Tags    *[]string
}

// FileInput describes an attachment reference.
type FileInput struct {
	NoteID    *int64
	ClassID   *string
	Name      string
	URI       string
	MimeType  string
	SizeBytes int64
}

// NoteService manages device-local notes and attachments. Nothing it writes
// is journaled or pushed.
type NoteService struct {
	store  *database.Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewNoteService constructs a NoteService.
func NewNoteService(store *database.Store, clock func() time.Time, logger *zap.Logger) (*NoteService, error) {
	if store == nil {
		return nil, newServiceError(opNoteServiceNew, "missing_store", errMissingStore)
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoteService{store: store, clock: clock, logger: logger}, nil
}

// Create stores a local note. Notes are never journaled.
func (s *NoteService) Create(ctx context.Context, input NoteInput) (*models.LocalNote, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, newServiceError(opNoteCreate, "missing_title", errMissingTitle)
	}
	tags, err := models.EncodeJSON(nonNilTags(input.Tags))
	if err != nil {
		return nil, newServiceError(opNoteCreate, "encode_tags_failed", err)
	}
	now := s.clock().UTC().Unix()
	note := &models.LocalNote{
		Title:            title,
		Content:          input.Content,
		ClassID:          input.ClassID,
		Tags:             tags,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	db, err := s.store.DB(ctx)
	if err != nil {
		return nil, newServiceError(opNoteCreate, "storage_failed", err)
	}
	if err := db.Create(note).Error; err != nil {
		logError(s.logger, opNoteCreate, "insert_failed", err)
		return nil, newServiceError(opNoteCreate, "insert_failed", err)
	}
	return note, nil
}

// Update merges patch into the note. It returns nil, nil when id is unknown.
func (s *NoteService) Update(ctx context.Context, id int64, patch NotePatch) (*models.LocalNote, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, newServiceError(opNoteUpdate, "missing_title", errMissingTitle)
	}
	var updated *models.LocalNote
	err := s.store.Transaction(ctx, func(tx *database.Store) error {
		db, err := tx.DB(ctx)
		if err != nil {
			return err
		}
		var note models.LocalNote
		err = db.Where("id = ?", id).Take(&note).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if patch.Title != nil {
			note.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Content != nil {
			note.Content = *patch.Content
		}
		if patch.ClassID != nil {
			note.ClassID = patch.ClassID
		}
		if patch.Tags != nil {
			tags, err := models.EncodeJSON(nonNilTags(*patch.Tags))
			if err != nil {
				return err
			}
			note.Tags = tags
		}
		note.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := db.Save(&note).Error; err != nil {
			return err
		}
		updated = &note
		return nil
	})
	if err != nil {
		logError(s.logger, opNoteUpdate, "storage_failed", err, zap.Int64("note_id", id))
		return nil, newServiceError(opNoteUpdate, "storage_failed", err)
	}
	return updated, nil
}

// Delete removes the note together with its attachments.
func (s *NoteService) Delete(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := s.store.Transaction(ctx, func(tx *database.Store) error {
		if _, err := tx.Execute(ctx, "DELETE FROM local_files WHERE note_id = ?", id); err != nil {
			return err
		}
		result, err := tx.Execute(ctx, "DELETE FROM local_notes WHERE id = ?", id)
		if err != nil {
			return err
		}
		deleted = result.Changes > 0
		return nil
	})
	if err != nil {
		logError(s.logger, opNoteDelete, "storage_failed", err, zap.Int64("note_id", id))
		return false, newServiceError(opNoteDelete, "storage_failed", err)
	}
	return deleted, nil
}

// GetAll returns every local note.
func (s *NoteService) GetAll(ctx context.Context) ([]models.LocalNote, error) {
	notes, err := findAll[models.LocalNote](ctx, s.store, "updated_at DESC, id DESC")
	if err != nil {
		return nil, newServiceError(opNoteList, "select_failed", err)
	}
	return notes, nil
}

// GetByID returns the note or nil when id is unknown.
func (s *NoteService) GetByID(ctx context.Context, id int64) (*models.LocalNote, error) {
	note, err := findByID[models.LocalNote](ctx, s.store, id)
	if err != nil {
		return nil, newServiceError(opNoteList, "select_failed", err)
	}
	return note, nil
}

// ByClass returns the notes attached to a class.
func (s *NoteService) ByClass(ctx context.Context, classID string) ([]models.LocalNote, error) {
	notes, err := findAll[models.LocalNote](ctx, s.store, "updated_at DESC, id DESC", "class_id = ?", classID)
	if err != nil {
		return nil, newServiceError(opNoteList, "select_failed", err)
	}
	return notes, nil
}

// AddFile records an attachment reference.
func (s *NoteService) AddFile(ctx context.Context, input FileInput) (*models.LocalFile, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, newServiceError(opFileAdd, "missing_name", errMissingFileName)
	}
	if strings.TrimSpace(input.URI) == "" {
		return nil, newServiceError(opFileAdd, "missing_uri", errMissingFileURI)
	}
	file := &models.LocalFile{
		NoteID:           input.NoteID,
		ClassID:          input.ClassID,
		Name:             strings.TrimSpace(input.Name),
		URI:              input.URI,
		MimeType:         input.MimeType,
		SizeBytes:        input.SizeBytes,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	db, err := s.store.DB(ctx)
	if err != nil {
		return nil, newServiceError(opFileAdd, "storage_failed", err)
	}
	if err := db.Create(file).Error; err != nil {
		logError(s.logger, opFileAdd, "insert_failed", err)
		return nil, newServiceError(opFileAdd, "insert_failed", err)
	}
	return file, nil
}

// FilesForNote lists a note's attachments, oldest first.
func (s *NoteService) FilesForNote(ctx context.Context, noteID int64) ([]models.LocalFile, error) {
	files, err := findAll[models.LocalFile](ctx, s.store, "created_at ASC, id ASC", "note_id = ?", noteID)
	if err != nil {
		return nil, newServiceError(opFileList, "select_failed", err)
	}
	return files, nil
}

// DeleteFile removes an attachment reference.
func (s *NoteService) DeleteFile(ctx context.Context, id int64) (bool, error) {
	result, err := s.store.Execute(ctx, "DELETE FROM local_files WHERE id = ?", id)
	if err != nil {
		logError(s.logger, opFileDelete, "storage_failed", err, zap.Int64("file_id", id))
		return false, newServiceError(opFileDelete, "storage_failed", err)
	}
	return result.Changes > 0, nil
}
