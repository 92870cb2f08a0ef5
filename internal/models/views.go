package models

// TagList parses the task tags.
func (t Task) TagList() []string {
	return ParseTags(t.Tags)
}

// Recurrence parses the event recurrence pattern; nil when unset or malformed.
func (e CalendarEvent) Recurrence() map[string]any {
	pattern, err := DecodeJSON[map[string]any](e.RecurrencePattern)
	if err != nil {
		return nil
	}
	return pattern
}

// Recurrence parses the habit recurrence pattern; nil when unset or malformed.
func (h Habit) Recurrence() map[string]any {
	pattern, err := DecodeJSON[map[string]any](h.RecurrencePattern)
	if err != nil {
		return nil
	}
	return pattern
}

// ScheduleValue parses the class schedule into its native JSON shape.
func (c ClassInfo) ScheduleValue() any {
	return DecodeColumnValue(c.Schedule)
}

// TagList parses the note tags.
func (n LocalNote) TagList() []string {
	return ParseTags(n.Tags)
}
