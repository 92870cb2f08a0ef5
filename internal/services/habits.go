package services

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/studysync/internal/models"
)

const (
	opHabitServiceNew = "habits.service.new"
	opHabitCreate     = "habits.create"
	opHabitUpdate     = "habits.update"
	opHabitDelete     = "habits.delete"
	opHabitList       = "habits.list"
	opHabitGet        = "habits.get"
	opHabitLogCreate  = "habits.log_completion"
	opHabitLogUpdate  = "habits.update_log"
	opHabitLogDelete  = "habits.delete_log"
	opHabitLogList    = "habits.list_logs"
)

// HabitInput holds the fields of a new habit.
type HabitInput struct {
	Name              string
	Description       string
	Frequency         string
	TargetCount       int
	Color             string
	Icon              string
	RecurrencePattern map[string]any
	// Inactive creates the habit paused; habits are active by default.
	Inactive bool
}

// HabitPatch holds a partial habit update; nil fields are left unchanged.
type HabitPatch struct {
	Name              *string
	Description       *string
	Frequency         *string
	TargetCount       *int
	Color             *string
	Icon              *string
	RecurrencePattern *map[string]any
	IsActive          *bool
}

// HabitLogPatch holds a partial habit log update.
type HabitLogPatch struct {
	LoggedAt *int64
	Count    *int
	Note     *string
}

// HabitService is the offline-first service for habits and their completion logs.
type HabitService struct {
	writer entityWriter
}

// NewHabitService constructs a HabitService.
func NewHabitService(deps Dependencies) (*HabitService, error) {
	writer, err := newEntityWriter(opHabitServiceNew, deps)
	if err != nil {
		return nil, err
	}
	return &HabitService{writer: writer}, nil
}

// Create stores a new habit pending push and journals an INSERT.
func (s *HabitService) Create(ctx context.Context, input HabitInput) (*models.Habit, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, newServiceError(opHabitCreate, "missing_name", errMissingName)
	}
	frequency, err := normalizeFrequency(opHabitCreate, input.Frequency)
	if err != nil {
		return nil, err
	}
	target := input.TargetCount
	if target == 0 {
		target = 1
	}
	if target < 0 {
		return nil, newServiceError(opHabitCreate, "invalid_target", errInvalidTarget)
	}
	recurrence, err := encodeRecurrence(input.RecurrencePattern)
	if err != nil {
		return nil, newServiceError(opHabitCreate, "encode_recurrence_failed", err)
	}
	id, err := s.writer.newID(opHabitCreate)
	if err != nil {
		return nil, err
	}

	now := s.writer.now()
	habit := &models.Habit{
		ID:                id,
		Name:              name,
		Description:       input.Description,
		Frequency:         frequency,
		TargetCount:       target,
		Color:             input.Color,
		Icon:              input.Icon,
		RecurrencePattern: recurrence,
		IsActive:          !input.Inactive,
		CreatedAtSeconds:  now,
		UpdatedAtSeconds:  now,
	}
	habit.MarkPending()

	if err := s.writer.insert(ctx, opHabitCreate, models.TableHabits, id, habit); err != nil {
		return nil, err
	}
	return habit, nil
}

// Update merges patch into the habit. It returns nil, nil when id is unknown.
func (s *HabitService) Update(ctx context.Context, id string, patch HabitPatch) (*models.Habit, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, newServiceError(opHabitUpdate, "missing_name", errMissingName)
	}
	if patch.Frequency != nil {
		frequency, err := normalizeFrequency(opHabitUpdate, *patch.Frequency)
		if err != nil {
			return nil, err
		}
		patch.Frequency = &frequency
	}
	if patch.TargetCount != nil && *patch.TargetCount <= 0 {
		return nil, newServiceError(opHabitUpdate, "invalid_target", errInvalidTarget)
	}
	return update(ctx, s.writer, opHabitUpdate, models.TableHabits, id, func(habit *models.Habit) error {
		if patch.Name != nil {
			habit.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			habit.Description = *patch.Description
		}
		if patch.Frequency != nil {
			habit.Frequency = *patch.Frequency
		}
		if patch.TargetCount != nil {
			habit.TargetCount = *patch.TargetCount
		}
		if patch.Color != nil {
			habit.Color = *patch.Color
		}
		if patch.Icon != nil {
			habit.Icon = *patch.Icon
		}
		if patch.RecurrencePattern != nil {
			recurrence, err := encodeRecurrence(*patch.RecurrencePattern)
			if err != nil {
				return newServiceError(opHabitUpdate, "encode_recurrence_failed", err)
			}
			habit.RecurrencePattern = recurrence
		}
		if patch.IsActive != nil {
			habit.IsActive = *patch.IsActive
		}
		habit.UpdatedAtSeconds = s.writer.now()
		habit.MarkPending()
		return nil
	})
}

// Delete removes the habit. Its logs are left for the server to cascade.
func (s *HabitService) Delete(ctx context.Context, id string) (bool, error) {
	return s.writer.remove(ctx, opHabitDelete, models.TableHabits, id, &models.Habit{})
}

// GetAll returns every cached habit.
func (s *HabitService) GetAll(ctx context.Context) ([]models.Habit, error) {
	habits, err := findAll[models.Habit](ctx, s.writer.store, habitOrder)
	if err != nil {
		return nil, s.writer.read(opHabitList, err)
	}
	return habits, nil
}

// GetByID returns the habit or nil when id is unknown.
func (s *HabitService) GetByID(ctx context.Context, id string) (*models.Habit, error) {
	habit, err := findByID[models.Habit](ctx, s.writer.store, id)
	if err != nil {
		return nil, s.writer.read(opHabitGet, err)
	}
	return habit, nil
}

// Active returns the habits that are not paused.
func (s *HabitService) Active(ctx context.Context) ([]models.Habit, error) {
	habits, err := findAll[models.Habit](ctx, s.writer.store, habitOrder, "is_active = ?", true)
	if err != nil {
		return nil, s.writer.read(opHabitList, err)
	}
	return habits, nil
}

// LogCompletion records count completions of a habit at loggedAt (now when zero).
func (s *HabitService) LogCompletion(ctx context.Context, habitID string, loggedAt int64, count int, note string) (*models.HabitLog, error) {
	if strings.TrimSpace(habitID) == "" {
		return nil, newServiceError(opHabitLogCreate, "missing_habit_id", errMissingHabitID)
	}
	if count == 0 {
		count = 1
	}
	if count < 0 {
		return nil, newServiceError(opHabitLogCreate, "invalid_target", errInvalidTarget)
	}
	id, err := s.writer.newID(opHabitLogCreate)
	if err != nil {
		return nil, err
	}
	now := s.writer.now()
	if loggedAt == 0 {
		loggedAt = now
	}
	entry := &models.HabitLog{
		ID:               id,
		HabitID:          habitID,
		LoggedAt:         loggedAt,
		Count:            count,
		Note:             note,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	entry.MarkPending()
	if err := s.writer.insert(ctx, opHabitLogCreate, models.TableHabitLogs, id, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// UpdateLog merges patch into a log entry. It returns nil, nil when id is unknown.
func (s *HabitService) UpdateLog(ctx context.Context, id string, patch HabitLogPatch) (*models.HabitLog, error) {
	if patch.Count != nil && *patch.Count <= 0 {
		return nil, newServiceError(opHabitLogUpdate, "invalid_target", errInvalidTarget)
	}
	return update(ctx, s.writer, opHabitLogUpdate, models.TableHabitLogs, id, func(entry *models.HabitLog) error {
		if patch.LoggedAt != nil {
			entry.LoggedAt = *patch.LoggedAt
		}
		if patch.Count != nil {
			entry.Count = *patch.Count
		}
		if patch.Note != nil {
			entry.Note = *patch.Note
		}
		entry.UpdatedAtSeconds = s.writer.now()
		entry.MarkPending()
		return nil
	})
}

// DeleteLog removes a log entry. It returns false, without journaling, when id is unknown.
func (s *HabitService) DeleteLog(ctx context.Context, id string) (bool, error) {
	return s.writer.remove(ctx, opHabitLogDelete, models.TableHabitLogs, id, &models.HabitLog{})
}

// LogsForHabit returns a habit's log entries, newest first.
func (s *HabitService) LogsForHabit(ctx context.Context, habitID string) ([]models.HabitLog, error) {
	logs, err := findAll[models.HabitLog](ctx, s.writer.store, "logged_at DESC, id ASC", "habit_id = ?", habitID)
	if err != nil {
		return nil, s.writer.read(opHabitLogList, err)
	}
	return logs, nil
}

const habitOrder = "name ASC, id ASC"

func normalizeFrequency(operation, value string) (string, error) {
	switch normalized := strings.ToLower(strings.TrimSpace(value)); normalized {
	case "":
		return models.FrequencyDaily, nil
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly:
		return normalized, nil
	default:
		return "", newServiceError(operation, "invalid_frequency", errInvalidFrequency)
	}
}
