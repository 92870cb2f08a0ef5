package services

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"gorm.io/datatypes"
)

const (
	opEventServiceNew = "events.service.new"
	opEventCreate     = "events.create"
	opEventUpdate     = "events.update"
	opEventDelete     = "events.delete"
	opEventList       = "events.list"
	opEventGet        = "events.get"
)

// EventInput holds the fields of a new calendar event.
type EventInput struct {
	ClassID           *string
	Title             string
	Description       string
	Location          string
	StartTime         int64
	EndTime           *int64
	AllDay            bool
	EventType         string
	RecurrencePattern map[string]any
	ReminderMinutes   *int
}

// EventPatch holds a partial event update; nil fields are left unchanged.
type EventPatch struct {
	ClassID           *string
	ClearClassID      bool
	Title             *string
	Description       *string
	Location          *string
	StartTime         *int64
	EndTime           *int64
	ClearEndTime      bool
	AllDay            *bool
	EventType         *string
	RecurrencePattern *map[string]any
	ReminderMinutes   *int
}

// EventService is the offline-first service for calendar events.
type EventService struct {
	writer entityWriter
}

// NewEventService constructs an EventService.
func NewEventService(deps Dependencies) (*EventService, error) {
	writer, err := newEntityWriter(opEventServiceNew, deps)
	if err != nil {
		return nil, err
	}
	return &EventService{writer: writer}, nil
}

// Create stores a new event pending push and journals an INSERT.
func (s *EventService) Create(ctx context.Context, input EventInput) (*models.CalendarEvent, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, newServiceError(opEventCreate, "missing_title", errMissingTitle)
	}
	if input.EndTime != nil && *input.EndTime < input.StartTime {
		return nil, newServiceError(opEventCreate, "invalid_range", errInvalidRange)
	}
	recurrence, err := encodeRecurrence(input.RecurrencePattern)
	if err != nil {
		return nil, newServiceError(opEventCreate, "encode_recurrence_failed", err)
	}
	id, err := s.writer.newID(opEventCreate)
	if err != nil {
		return nil, err
	}

	now := s.writer.now()
	event := &models.CalendarEvent{
		ID:                id,
		ClassID:           input.ClassID,
		Title:             title,
		Description:       input.Description,
		Location:          input.Location,
		StartTime:         input.StartTime,
		EndTime:           input.EndTime,
		AllDay:            input.AllDay,
		EventType:         input.EventType,
		RecurrencePattern: recurrence,
		ReminderMinutes:   input.ReminderMinutes,
		CreatedAtSeconds:  now,
		UpdatedAtSeconds:  now,
	}
	event.MarkPending()

	if err := s.writer.insert(ctx, opEventCreate, models.TableCalendarEvents, id, event); err != nil {
		return nil, err
	}
	return event, nil
}

// Update merges patch into the event. It returns nil, nil when id is unknown.
func (s *EventService) Update(ctx context.Context, id string, patch EventPatch) (*models.CalendarEvent, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, newServiceError(opEventUpdate, "missing_title", errMissingTitle)
	}
	return update(ctx, s.writer, opEventUpdate, models.TableCalendarEvents, id, func(event *models.CalendarEvent) error {
		if patch.ClearClassID {
			event.ClassID = nil
		} else if patch.ClassID != nil {
			event.ClassID = patch.ClassID
		}
		if patch.Title != nil {
			event.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			event.Description = *patch.Description
		}
		if patch.Location != nil {
			event.Location = *patch.Location
		}
		if patch.StartTime != nil {
			event.StartTime = *patch.StartTime
		}
		if patch.ClearEndTime {
			event.EndTime = nil
		} else if patch.EndTime != nil {
			event.EndTime = patch.EndTime
		}
		if event.EndTime != nil && *event.EndTime < event.StartTime {
			return newServiceError(opEventUpdate, "invalid_range", errInvalidRange)
		}
		if patch.AllDay != nil {
			event.AllDay = *patch.AllDay
		}
		if patch.EventType != nil {
			event.EventType = *patch.EventType
		}
		if patch.RecurrencePattern != nil {
			recurrence, err := encodeRecurrence(*patch.RecurrencePattern)
			if err != nil {
				return newServiceError(opEventUpdate, "encode_recurrence_failed", err)
			}
			event.RecurrencePattern = recurrence
		}
		if patch.ReminderMinutes != nil {
			event.ReminderMinutes = patch.ReminderMinutes
		}
		event.UpdatedAtSeconds = s.writer.now()
		event.MarkPending()
		return nil
	})
}

// Delete removes the event. It returns false, without journaling, when id is unknown.
func (s *EventService) Delete(ctx context.Context, id string) (bool, error) {
	return s.writer.remove(ctx, opEventDelete, models.TableCalendarEvents, id, &models.CalendarEvent{})
}

// GetAll returns every cached event.
func (s *EventService) GetAll(ctx context.Context) ([]models.CalendarEvent, error) {
	events, err := findAll[models.CalendarEvent](ctx, s.writer.store, eventOrder)
	if err != nil {
		return nil, s.writer.read(opEventList, err)
	}
	return events, nil
}

// GetByID returns the event or nil when id is unknown.
func (s *EventService) GetByID(ctx context.Context, id string) (*models.CalendarEvent, error) {
	event, err := findByID[models.CalendarEvent](ctx, s.writer.store, id)
	if err != nil {
		return nil, s.writer.read(opEventGet, err)
	}
	return event, nil
}

// ByClass returns the events attached to a class.
func (s *EventService) ByClass(ctx context.Context, classID string) ([]models.CalendarEvent, error) {
	events, err := findAll[models.CalendarEvent](ctx, s.writer.store, eventOrder, "class_id = ?", classID)
	if err != nil {
		return nil, s.writer.read(opEventList, err)
	}
	return events, nil
}

// Between returns events starting within [start, end] unix seconds.
func (s *EventService) Between(ctx context.Context, start, end int64) ([]models.CalendarEvent, error) {
	if end < start {
		return nil, newServiceError(opEventList, "invalid_range", errInvalidRange)
	}
	events, err := findAll[models.CalendarEvent](ctx, s.writer.store, eventOrder, "start_time BETWEEN ? AND ?", start, end)
	if err != nil {
		return nil, s.writer.read(opEventList, err)
	}
	return events, nil
}

const eventOrder = "start_time ASC, id ASC"

func encodeRecurrence(pattern map[string]any) (datatypes.JSON, error) {
	if len(pattern) == 0 {
		return nil, nil
	}
	return models.EncodeJSON(pattern)
}
