package api

import (
	"context"
	"net/http"
	"net/url"
)

// REST resources exposed by the remote API.
const (
	ResourceClasses = "classes"
	ResourceTasks   = "tasks"
	ResourceEvents  = "events"
	ResourceHabits  = "habits"
)

type recordEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    Record `json:"data"`
}

func (c *Client) createRecord(ctx context.Context, resource string, fields Record) (Record, error) {
	operation := "create_" + resource
	var envelope recordEnvelope
	if err := c.do(ctx, operation, http.MethodPost, "/"+resource, fields, &envelope); err != nil {
		return nil, err
	}
	return unwrapRecord(operation, envelope)
}

func (c *Client) updateRecord(ctx context.Context, resource, id string, fields Record) (Record, error) {
	operation := "update_" + resource
	var envelope recordEnvelope
	if err := c.do(ctx, operation, http.MethodPatch, "/"+resource+"/"+url.PathEscape(id), fields, &envelope); err != nil {
		return nil, err
	}
	return unwrapRecord(operation, envelope)
}

func (c *Client) deleteRecord(ctx context.Context, resource, id string) error {
	operation := "delete_" + resource
	var envelope recordEnvelope
	if err := c.do(ctx, operation, http.MethodDelete, "/"+resource+"/"+url.PathEscape(id), nil, &envelope); err != nil {
		return err
	}
	if !envelope.Success {
		return &APIError{Operation: operation, Message: envelope.Error}
	}
	return nil
}

func unwrapRecord(operation string, envelope recordEnvelope) (Record, error) {
	if !envelope.Success {
		return nil, &APIError{Operation: operation, Message: envelope.Error}
	}
	if envelope.Data == nil {
		return nil, &APIError{Operation: operation, Message: "response carried no record"}
	}
	return envelope.Data, nil
}

func (c *Client) CreateClass(ctx context.Context, fields Record) (Record, error) {
	return c.createRecord(ctx, ResourceClasses, fields)
}

func (c *Client) UpdateClass(ctx context.Context, id string, fields Record) (Record, error) {
	return c.updateRecord(ctx, ResourceClasses, id, fields)
}

func (c *Client) DeleteClass(ctx context.Context, id string) error {
	return c.deleteRecord(ctx, ResourceClasses, id)
}

func (c *Client) CreateTask(ctx context.Context, fields Record) (Record, error) {
	return c.createRecord(ctx, ResourceTasks, fields)
}

func (c *Client) UpdateTask(ctx context.Context, id string, fields Record) (Record, error) {
	return c.updateRecord(ctx, ResourceTasks, id, fields)
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.deleteRecord(ctx, ResourceTasks, id)
}

func (c *Client) CreateEvent(ctx context.Context, fields Record) (Record, error) {
	return c.createRecord(ctx, ResourceEvents, fields)
}

func (c *Client) UpdateEvent(ctx context.Context, id string, fields Record) (Record, error) {
	return c.updateRecord(ctx, ResourceEvents, id, fields)
}

func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	return c.deleteRecord(ctx, ResourceEvents, id)
}

func (c *Client) CreateHabit(ctx context.Context, fields Record) (Record, error) {
	return c.createRecord(ctx, ResourceHabits, fields)
}

func (c *Client) UpdateHabit(ctx context.Context, id string, fields Record) (Record, error) {
	return c.updateRecord(ctx, ResourceHabits, id, fields)
}

func (c *Client) DeleteHabit(ctx context.Context, id string) error {
	return c.deleteRecord(ctx, ResourceHabits, id)
}
