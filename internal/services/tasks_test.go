package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/models"
)

func newTaskService(t *testing.T) (*TaskService, *testEnv) {
	t.Helper()
	env := newTestEnv(t, "task")
	service, err := NewTaskService(env.deps)
	if err != nil {
		t.Fatalf("new task service: %v", err)
	}
	return service, env
}

func TestNewTaskServiceRequiresDependencies(t *testing.T) {
	_, err := NewTaskService(Dependencies{})
	if ErrorCode(err) != "tasks.service.new.missing_store" {
		t.Fatalf("unexpected error code %q", ErrorCode(err))
	}
}

func TestTaskCreateStoresPendingRowAndJournalsInsert(t *testing.T) {
	service, env := newTaskService(t)
	ctx := context.Background()

	task, err := service.Create(ctx, TaskInput{
		Title:   "  Problem set 3 ",
		DueDate: int64Pointer(1700086400),
		Tags:    []string{"math", "weekly"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID != "task-1" || task.Title != "Problem set 3" {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.Priority != models.PriorityMedium || task.Status != models.TaskStatusPending {
		t.Fatalf("expected defaults, got priority %q status %q", task.Priority, task.Status)
	}
	if task.CreatedAtSeconds != 1700000000 || task.UpdatedAtSeconds != 1700000000 {
		t.Fatalf("unexpected timestamps: %+v", task)
	}

	synced, pending := env.flags(t, models.TableTasks, task.ID)
	if synced || !pending {
		t.Fatalf("expected (false,true), got (%v,%v)", synced, pending)
	}

	stored, err := service.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(stored.TagList(), []string{"math", "weekly"}) {
		t.Fatalf("expected parsed tags, got %v", stored.TagList())
	}

	entries, err := env.queue.ForRecord(ctx, models.TableTasks, task.ID)
	if err != nil {
		t.Fatalf("queue entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != models.ActionInsert || entries[0].Data == nil {
		t.Fatalf("unexpected queue entries: %+v", entries)
	}
}

func TestTaskCreateValidatesInput(t *testing.T) {
	service, env := newTaskService(t)
	ctx := context.Background()

	testCases := []struct {
		name  string
		input TaskInput
		code  string
	}{
		{name: "title", input: TaskInput{Title: " "}, code: "tasks.create.missing_title"},
		{name: "priority", input: TaskInput{Title: "x", Priority: "urgent"}, code: "tasks.create.invalid_priority"},
		{name: "status", input: TaskInput{Title: "x", Status: "blocked"}, code: "tasks.create.invalid_status"},
		{name: "percentage", input: TaskInput{Title: "x", CompletionPercentage: 120}, code: "tasks.create.invalid_percentage"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Create(ctx, testCase.input)
			if ErrorCode(err) != testCase.code {
				t.Fatalf("expected %s, got %v", testCase.code, err)
			}
		})
	}
	if env.queueCount(t) != 0 {
		t.Fatalf("expected no journal entries for rejected input")
	}
}

func TestTaskCreateSurfacesIDFailure(t *testing.T) {
	env := newTestEnv(t, "task")
	env.deps.IDProvider = failingIDs{}
	service, err := NewTaskService(env.deps)
	if err != nil {
		t.Fatalf("new task service: %v", err)
	}
	_, err = service.Create(context.Background(), TaskInput{Title: "x"})
	if ErrorCode(err) != "tasks.create.id_generation_failed" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTaskUpdateResetsFlagsAndMergesFields(t *testing.T) {
	service, env := newTaskService(t)
	ctx := context.Background()
	task, err := service.Create(ctx, TaskInput{Title: "Essay", Priority: models.PriorityLow, Description: "draft"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.markSynced(t, models.TableTasks, task.ID)
	env.clock.Advance(time.Minute)

	updated, err := service.Update(ctx, task.ID, TaskPatch{
		Title: stringPointer("Essay final"),
		Tags:  &[]string{"english"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Essay final" || updated.Description != "draft" || updated.Priority != models.PriorityLow {
		t.Fatalf("unexpected merge result: %+v", updated)
	}
	if updated.UpdatedAtSeconds != 1700000060 || updated.CreatedAtSeconds != 1700000000 {
		t.Fatalf("unexpected timestamps: %+v", updated)
	}

	synced, pending := env.flags(t, models.TableTasks, task.ID)
	if synced || !pending {
		t.Fatalf("expected update to reset flags, got (%v,%v)", synced, pending)
	}
}

func TestTaskUpdateMissingReturnsNil(t *testing.T) {
	service, env := newTaskService(t)
	updated, err := service.Update(context.Background(), "absent", TaskPatch{Title: stringPointer("x")})
	if err != nil || updated != nil {
		t.Fatalf("expected nil, nil for a missing task, got %v, %v", updated, err)
	}
	if env.queueCount(t) != 0 {
		t.Fatalf("expected no journal entry for a missing task")
	}
}

func TestTaskCompletionSideEffects(t *testing.T) {
	service, env := newTaskService(t)
	ctx := context.Background()
	task, err := service.Create(ctx, TaskInput{Title: "Reading", CompletionPercentage: 40})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	env.clock.Advance(time.Hour)
	completed, err := service.Complete(ctx, task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != models.TaskStatusCompleted || completed.CompletionPercentage != 100 {
		t.Fatalf("unexpected completion: %+v", completed)
	}
	if completed.CompletedAt == nil || *completed.CompletedAt != 1700003600 {
		t.Fatalf("expected completed_at stamp, got %v", completed.CompletedAt)
	}

	explicit, err := service.Update(ctx, task.ID, TaskPatch{
		Status:      stringPointer(models.TaskStatusCompleted),
		CompletedAt: int64Pointer(1690000000),
	})
	if err != nil {
		t.Fatalf("update explicit completion: %v", err)
	}
	if *explicit.CompletedAt != 1690000000 {
		t.Fatalf("expected explicit completed_at to win, got %d", *explicit.CompletedAt)
	}

	reopened, err := service.Update(ctx, task.ID, TaskPatch{Status: stringPointer(models.TaskStatusInProgress)})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.CompletedAt != nil {
		t.Fatalf("expected reopening to clear completed_at")
	}
}

func TestTaskDeleteIsIdempotent(t *testing.T) {
	service, env := newTaskService(t)
	ctx := context.Background()

	deleted, err := service.Delete(ctx, "absent")
	if err != nil || deleted {
		t.Fatalf("expected false for a missing task, got %v, %v", deleted, err)
	}
	if env.queueCount(t) != 0 {
		t.Fatalf("expected no journal entry for a missing delete")
	}

	task, err := service.Create(ctx, TaskInput{Title: "Quiz"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	deleted, err = service.Delete(ctx, task.ID)
	if err != nil || !deleted {
		t.Fatalf("expected delete to succeed, got %v, %v", deleted, err)
	}
	deleted, err = service.Delete(ctx, task.ID)
	if err != nil || deleted {
		t.Fatalf("expected second delete to be a no-op, got %v, %v", deleted, err)
	}

	entries, err := env.queue.ForRecord(ctx, models.TableTasks, task.ID)
	if err != nil {
		t.Fatalf("queue entries: %v", err)
	}
	if len(entries) != 2 || entries[1].Action != models.ActionDelete {
		t.Fatalf("expected INSERT then DELETE, got %+v", entries)
	}
}

func TestQueueGrowsByOneEntryPerMutation(t *testing.T) {
	service, env := newTaskService(t)
	ctx := context.Background()

	mutations := 0
	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		task, err := service.Create(ctx, TaskInput{Title: title})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, task.ID)
		mutations++
	}
	for _, id := range ids {
		if _, err := service.Update(ctx, id, TaskPatch{Description: stringPointer("more")}); err != nil {
			t.Fatalf("update: %v", err)
		}
		mutations++
		env.markSynced(t, models.TableTasks, id)
	}
	if _, err := service.Delete(ctx, ids[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mutations++

	if got := env.queueCount(t); got != int64(mutations) {
		t.Fatalf("expected %d journal entries, got %d", mutations, got)
	}
}

func TestTaskQueries(t *testing.T) {
	service, env := newTaskService(t)
	ctx := context.Background()
	classID := "class-bio"
	if _, err := env.store.UpsertSynced(ctx, models.TableClasses, map[string]any{"id": classID, "name": "Biology"}); err != nil {
		t.Fatalf("seed class: %v", err)
	}

	early, err := service.Create(ctx, TaskInput{Title: "early", ClassID: &classID, DueDate: int64Pointer(100)})
	if err != nil {
		t.Fatalf("create early: %v", err)
	}
	late, err := service.Create(ctx, TaskInput{Title: "late", DueDate: int64Pointer(500), Status: models.TaskStatusInProgress})
	if err != nil {
		t.Fatalf("create late: %v", err)
	}
	undated, err := service.Create(ctx, TaskInput{Title: "undated", ClassID: &classID})
	if err != nil {
		t.Fatalf("create undated: %v", err)
	}

	all, err := service.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 3 || all[0].ID != early.ID || all[1].ID != late.ID || all[2].ID != undated.ID {
		t.Fatalf("unexpected order: %+v", all)
	}

	byClass, err := service.ByClass(ctx, classID)
	if err != nil || len(byClass) != 2 {
		t.Fatalf("expected 2 tasks for class, got %d (%v)", len(byClass), err)
	}

	inProgress, err := service.ByStatus(ctx, "IN_PROGRESS")
	if err != nil || len(inProgress) != 1 || inProgress[0].ID != late.ID {
		t.Fatalf("unexpected status query: %+v (%v)", inProgress, err)
	}

	due, err := service.DueBetween(ctx, 50, 200)
	if err != nil || len(due) != 1 || due[0].ID != early.ID {
		t.Fatalf("unexpected range query: %+v (%v)", due, err)
	}
	if _, err := service.DueBetween(ctx, 10, 5); ErrorCode(err) != "tasks.list.invalid_range" {
		t.Fatalf("expected invalid range error, got %v", err)
	}

	missing, err := service.GetByID(ctx, "absent")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for a missing task, got %v, %v", missing, err)
	}
}

func TestServiceErrorUnwrapsCause(t *testing.T) {
	err := newServiceError("tasks.update", "save_failed", errMissingTitle)
	if !errors.Is(err, errMissingTitle) {
		t.Fatalf("expected cause to unwrap")
	}
	if err.Error() != "tasks.update.save_failed: title is required" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
