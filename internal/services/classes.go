package services

import (
	"context"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/api"
	"github.com/MarcoPoloResearchLab/studysync/internal/database"
	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"go.uber.org/zap"
)

const (
	opClassServiceNew = "classes.service.new"
	opClassCreate     = "classes.create"
	opClassUpdate     = "classes.update"
	opClassDelete     = "classes.delete"
	opClassList       = "classes.list"
	opClassGet        = "classes.get"
)

// ClassClient is the remote CRUD surface used for classes.
type ClassClient interface {
	CreateClass(ctx context.Context, fields api.Record) (api.Record, error)
	UpdateClass(ctx context.Context, id string, fields api.Record) (api.Record, error)
	DeleteClass(ctx context.Context, id string) error
}

// ClassServiceConfig wires a ClassService.
type ClassServiceConfig struct {
	Store      *database.Store
	Client     ClassClient
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// ClassInput holds the fields of a new class.
type ClassInput struct {
	Name       string
	Code       string
	Instructor string
	Room       string
	Color      string
	Semester   string
	Schedule   any
}

// ClassPatch holds a partial class update; nil fields are left unchanged.
type ClassPatch struct {
	Name       *string
	Code       *string
	Instructor *string
	Room       *string
	Color      *string
	Semester   *string
	Schedule   any
}

// ClassService writes classes through the remote API and caches the server
// response as synced. Reads come from the cache. Classes are never journaled.
type ClassService struct {
	store  *database.Store
	client ClassClient
	ids    IDProvider
	clock  func() time.Time
	logger *zap.Logger
}

// NewClassService constructs a ClassService.
func NewClassService(cfg ClassServiceConfig) (*ClassService, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opClassServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Client == nil {
		return nil, newServiceError(opClassServiceNew, "missing_client", errMissingClient)
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{store: cfg.Store, client: cfg.Client, ids: ids, clock: clock, logger: logger}, nil
}

// Create posts the class to the API and caches the server record as synced.
func (s *ClassService) Create(ctx context.Context, input ClassInput) (*models.ClassInfo, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, newServiceError(opClassCreate, "missing_name", errMissingName)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return nil, newServiceError(opClassCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC().Unix()
	fields := api.Record{
		"id":         id,
		"name":       name,
		"code":       input.Code,
		"instructor": input.Instructor,
		"room":       input.Room,
		"color":      input.Color,
		"semester":   input.Semester,
		"created_at": now,
		"updated_at": now,
	}
	if input.Schedule != nil {
		fields["schedule"] = input.Schedule
	}

	record, err := s.client.CreateClass(ctx, fields)
	if err != nil {
		logError(s.logger, opClassCreate, "remote_failed", err)
		return nil, newServiceError(opClassCreate, "remote_failed", err)
	}
	return s.cache(ctx, opClassCreate, record)
}

// Update sends patch to the server and caches the result. It returns nil, nil
// when the class is unknown locally or on the server.
func (s *ClassService) Update(ctx context.Context, id string, patch ClassPatch) (*models.ClassInfo, error) {
	existing, err := s.GetByID(ctx, id)
	if err != nil || existing == nil {
		return nil, err
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, newServiceError(opClassUpdate, "missing_name", errMissingName)
	}

	fields := api.Record{"updated_at": s.clock().UTC().Unix()}
	setIfPresent(fields, "name", trimmed(patch.Name))
	setIfPresent(fields, "code", patch.Code)
	setIfPresent(fields, "instructor", patch.Instructor)
	setIfPresent(fields, "room", patch.Room)
	setIfPresent(fields, "color", patch.Color)
	setIfPresent(fields, "semester", patch.Semester)
	if patch.Schedule != nil {
		fields["schedule"] = patch.Schedule
	}

	record, err := s.client.UpdateClass(ctx, id, fields)
	if err != nil {
		if apiErr, ok := api.AsAPIError(err); ok && apiErr.IsNotFound() {
			s.logger.Info("class missing on server, dropping cached copy", zap.String("class_id", id))
			if _, err := s.dropCached(ctx, id); err != nil {
				return nil, newServiceError(opClassUpdate, "storage_failed", err)
			}
			return nil, nil
		}
		logError(s.logger, opClassUpdate, "remote_failed", err, zap.String("class_id", id))
		return nil, newServiceError(opClassUpdate, "remote_failed", err)
	}
	return s.cache(ctx, opClassUpdate, record)
}

// Delete removes the class on the server and from the cache. It returns false
// when neither side knew the id.
func (s *ClassService) Delete(ctx context.Context, id string) (bool, error) {
	remoteDeleted := true
	if err := s.client.DeleteClass(ctx, id); err != nil {
		apiErr, ok := api.AsAPIError(err)
		if !ok || !apiErr.IsNotFound() {
			logError(s.logger, opClassDelete, "remote_failed", err, zap.String("class_id", id))
			return false, newServiceError(opClassDelete, "remote_failed", err)
		}
		remoteDeleted = false
	}
	localDeleted, err := s.dropCached(ctx, id)
	if err != nil {
		logError(s.logger, opClassDelete, "storage_failed", err, zap.String("class_id", id))
		return false, newServiceError(opClassDelete, "storage_failed", err)
	}
	return remoteDeleted || localDeleted, nil
}

// GetAll returns every cached class.
func (s *ClassService) GetAll(ctx context.Context) ([]models.ClassInfo, error) {
	classes, err := findAll[models.ClassInfo](ctx, s.store, "name ASC, id ASC")
	if err != nil {
		logError(s.logger, opClassList, "select_failed", err)
		return nil, newServiceError(opClassList, "select_failed", err)
	}
	return classes, nil
}

// GetByID returns the cached class or nil when id is unknown.
func (s *ClassService) GetByID(ctx context.Context, id string) (*models.ClassInfo, error) {
	class, err := findByID[models.ClassInfo](ctx, s.store, id)
	if err != nil {
		logError(s.logger, opClassGet, "select_failed", err)
		return nil, newServiceError(opClassGet, "select_failed", err)
	}
	return class, nil
}

func (s *ClassService) cache(ctx context.Context, operation string, record api.Record) (*models.ClassInfo, error) {
	if len(record) == 0 {
		return nil, newServiceError(operation, "empty_response", errEmptyServerRecord)
	}
	if _, err := s.store.UpsertSynced(ctx, models.TableClasses, record); err != nil {
		logError(s.logger, operation, "cache_failed", err)
		return nil, newServiceError(operation, "cache_failed", err)
	}
	id, _ := record["id"].(string)
	class, err := findByID[models.ClassInfo](ctx, s.store, id)
	if err != nil {
		return nil, newServiceError(operation, "select_failed", err)
	}
	return class, nil
}

func (s *ClassService) dropCached(ctx context.Context, id string) (bool, error) {
	result, err := s.store.Execute(ctx, "DELETE FROM classes WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	return result.Changes > 0, nil
}

func setIfPresent(fields api.Record, key string, value *string) {
	if value != nil {
		fields[key] = *value
	}
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	result := strings.TrimSpace(*value)
	return &result
}
