package services

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"go.uber.org/zap"
)

const (
	opTaskServiceNew = "tasks.service.new"
	opTaskCreate     = "tasks.create"
	opTaskUpdate     = "tasks.update"
	opTaskComplete   = "tasks.complete"
	opTaskDelete     = "tasks.delete"
	opTaskList       = "tasks.list"
	opTaskGet        = "tasks.get"
)

// TaskInput holds the fields of a new task.
type TaskInput struct {
	ClassID              *string
	Title                string
	Description          string
	DueDate              *int64
	Priority             string
	Status               string
	CompletionPercentage int
	Tags                 []string
	EstimatedMinutes     *int
}

// TaskPatch holds a partial task update; nil fields are left unchanged.
type TaskPatch struct {
	ClassID              *string
	ClearClassID         bool
	Title                *string
	Description          *string
	DueDate              *int64
	ClearDueDate         bool
	Priority             *string
	Status               *string
	CompletionPercentage *int
	CompletedAt          *int64
	Tags                 *[]string
	EstimatedMinutes     *int
}

// TaskService is the offline-first service for tasks.
type TaskService struct {
	writer entityWriter
}

// NewTaskService constructs a TaskService.
func NewTaskService(deps Dependencies) (*TaskService, error) {
	writer, err := newEntityWriter(opTaskServiceNew, deps)
	if err != nil {
		return nil, err
	}
	return &TaskService{writer: writer}, nil
}

// Create stores a new pending task and journals an INSERT.
func (s *TaskService) Create(ctx context.Context, input TaskInput) (*models.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, newServiceError(opTaskCreate, "missing_title", errMissingTitle)
	}
	priority, err := normalizePriority(opTaskCreate, input.Priority)
	if err != nil {
		return nil, err
	}
	status, err := normalizeStatus(opTaskCreate, input.Status)
	if err != nil {
		return nil, err
	}
	if err := validatePercentage(opTaskCreate, input.CompletionPercentage); err != nil {
		return nil, err
	}
	tags, err := models.EncodeJSON(nonNilTags(input.Tags))
	if err != nil {
		return nil, newServiceError(opTaskCreate, "encode_tags_failed", err)
	}
	id, err := s.writer.newID(opTaskCreate)
	if err != nil {
		return nil, err
	}

	now := s.writer.now()
	task := &models.Task{
		ID:                   id,
		ClassID:              input.ClassID,
		Title:                title,
		Description:          input.Description,
		DueDate:              input.DueDate,
		Priority:             priority,
		Status:               status,
		CompletionPercentage: input.CompletionPercentage,
		Tags:                 tags,
		EstimatedMinutes:     input.EstimatedMinutes,
		CreatedAtSeconds:     now,
		UpdatedAtSeconds:     now,
	}
	task.MarkPending()
	if status == models.TaskStatusCompleted {
		markCompleted(task, now)
	}

	if err := s.writer.insert(ctx, opTaskCreate, models.TableTasks, id, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Update merges patch into the task. It returns nil, nil when id is unknown.
// Moving to completed without an explicit completed_at stamps it and sets the
// completion percentage to 100; leaving completed clears completed_at.
func (s *TaskService) Update(ctx context.Context, id string, patch TaskPatch) (*models.Task, error) {
	return s.update(ctx, opTaskUpdate, id, patch)
}

// Complete marks the task completed.
func (s *TaskService) Complete(ctx context.Context, id string) (*models.Task, error) {
	status := models.TaskStatusCompleted
	return s.update(ctx, opTaskComplete, id, TaskPatch{Status: &status})
}

func (s *TaskService) update(ctx context.Context, operation, id string, patch TaskPatch) (*models.Task, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, newServiceError(operation, "missing_title", errMissingTitle)
	}
	if patch.Priority != nil {
		priority, err := normalizePriority(operation, *patch.Priority)
		if err != nil {
			return nil, err
		}
		patch.Priority = &priority
	}
	if patch.Status != nil {
		status, err := normalizeStatus(operation, *patch.Status)
		if err != nil {
			return nil, err
		}
		patch.Status = &status
	}
	if patch.CompletionPercentage != nil {
		if err := validatePercentage(operation, *patch.CompletionPercentage); err != nil {
			return nil, err
		}
	}

	return update(ctx, s.writer, operation, models.TableTasks, id, func(task *models.Task) error {
		now := s.writer.now()
		if patch.ClearClassID {
			task.ClassID = nil
		} else if patch.ClassID != nil {
			task.ClassID = patch.ClassID
		}
		if patch.Title != nil {
			task.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			task.Description = *patch.Description
		}
		if patch.ClearDueDate {
			task.DueDate = nil
		} else if patch.DueDate != nil {
			task.DueDate = patch.DueDate
		}
		if patch.Priority != nil {
			task.Priority = *patch.Priority
		}
		if patch.CompletionPercentage != nil {
			task.CompletionPercentage = *patch.CompletionPercentage
		}
		if patch.CompletedAt != nil {
			task.CompletedAt = patch.CompletedAt
		}
		if patch.Tags != nil {
			tags, err := models.EncodeJSON(nonNilTags(*patch.Tags))
			if err != nil {
				return newServiceError(operation, "encode_tags_failed", err)
			}
			task.Tags = tags
		}
		if patch.EstimatedMinutes != nil {
			task.EstimatedMinutes = patch.EstimatedMinutes
		}
		if patch.Status != nil {
			task.Status = *patch.Status
			switch {
			case task.Status == models.TaskStatusCompleted && patch.CompletedAt == nil:
				markCompleted(task, now)
			case task.Status != models.TaskStatusCompleted:
				task.CompletedAt = nil
			}
		}
		task.UpdatedAtSeconds = now
		task.MarkPending()
		return nil
	})
}

// Delete removes the task. It returns false, without journaling, when id is unknown.
func (s *TaskService) Delete(ctx context.Context, id string) (bool, error) {
	return s.writer.remove(ctx, opTaskDelete, models.TableTasks, id, &models.Task{})
}

// GetAll returns every cached task ordered by due date, undated last.
func (s *TaskService) GetAll(ctx context.Context) ([]models.Task, error) {
	tasks, err := findAll[models.Task](ctx, s.writer.store, taskOrder)
	if err != nil {
		return nil, s.writer.read(opTaskList, err)
	}
	return tasks, nil
}

// GetByID returns the task or nil when it is not cached.
func (s *TaskService) GetByID(ctx context.Context, id string) (*models.Task, error) {
	task, err := findByID[models.Task](ctx, s.writer.store, id)
	if err != nil {
		return nil, s.writer.read(opTaskGet, err)
	}
	return task, nil
}

// ByClass returns the tasks attached to a class.
func (s *TaskService) ByClass(ctx context.Context, classID string) ([]models.Task, error) {
	tasks, err := findAll[models.Task](ctx, s.writer.store, taskOrder, "class_id = ?", classID)
	if err != nil {
		return nil, s.writer.read(opTaskList, err)
	}
	return tasks, nil
}

// ByStatus returns the tasks in a status.
func (s *TaskService) ByStatus(ctx context.Context, status string) ([]models.Task, error) {
	normalized, err := normalizeStatus(opTaskList, status)
	if err != nil {
		return nil, err
	}
	tasks, err := findAll[models.Task](ctx, s.writer.store, taskOrder, "status = ?", normalized)
	if err != nil {
		return nil, s.writer.read(opTaskList, err)
	}
	return tasks, nil
}

// DueBetween returns tasks due within [start, end] unix seconds.
func (s *TaskService) DueBetween(ctx context.Context, start, end int64) ([]models.Task, error) {
	if end < start {
		return nil, newServiceError(opTaskList, "invalid_range", errInvalidRange)
	}
	tasks, err := findAll[models.Task](ctx, s.writer.store, taskOrder, "due_date BETWEEN ? AND ?", start, end)
	if err != nil {
		return nil, s.writer.read(opTaskList, err)
	}
	s.writer.logger.Debug("tasks due in range", zap.Int64("start", start), zap.Int64("end", end), zap.Int("count", len(tasks)))
	return tasks, nil
}

const taskOrder = "due_date IS NULL, due_date ASC, created_at ASC"

func markCompleted(task *models.Task, now int64) {
	completedAt := now
	task.CompletedAt = &completedAt
	task.CompletionPercentage = 100
}

func normalizePriority(operation, value string) (string, error) {
	switch normalized := strings.ToLower(strings.TrimSpace(value)); normalized {
	case "":
		return models.PriorityMedium, nil
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
		return normalized, nil
	default:
		return "", newServiceError(operation, "invalid_priority", errInvalidPriority)
	}
}

func normalizeStatus(operation, value string) (string, error) {
	switch normalized := strings.ToLower(strings.TrimSpace(value)); normalized {
	case "":
		return models.TaskStatusPending, nil
	case models.TaskStatusPending, models.TaskStatusInProgress, models.TaskStatusCompleted:
		return normalized, nil
	default:
		return "", newServiceError(operation, "invalid_status", errInvalidStatus)
	}
}

func validatePercentage(operation string, value int) error {
	if value < 0 || value > 100 {
		return newServiceError(operation, "invalid_percentage", errInvalidPercentage)
	}
	return nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
