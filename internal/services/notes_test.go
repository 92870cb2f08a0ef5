package services

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestNoteLifecycleIsNeverJournaled(t *testing.T) {
	env := newTestEnv(t, "note")
	service, err := NewNoteService(env.store, env.clock.Now, nil)
	if err != nil {
		t.Fatalf("new note service: %v", err)
	}
	ctx := context.Background()

	classID := "class-chem"
	note, err := service.Create(ctx, NoteInput{Title: "Lab notes", Content: "titration", ClassID: &classID, Tags: []string{"lab"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if note.ID == 0 {
		t.Fatalf("expected autoincrement id")
	}

	env.clock.Advance(time.Minute)
	updated, err := service.Update(ctx, note.ID, NotePatch{Content: stringPointer("titration, second run"), Tags: &[]string{"lab", "chem"}})
	if err != nil || updated == nil {
		t.Fatalf("update: %+v (%v)", updated, err)
	}
	if updated.UpdatedAtSeconds != 1700000060 || !reflect.DeepEqual(updated.TagList(), []string{"lab", "chem"}) {
		t.Fatalf("unexpected update: %+v", updated)
	}

	byClass, err := service.ByClass(ctx, classID)
	if err != nil || len(byClass) != 1 {
		t.Fatalf("expected one note for class, got %+v (%v)", byClass, err)
	}

	missing, err := service.Update(ctx, note.ID+100, NotePatch{Title: stringPointer("x")})
	if err != nil || missing != nil {
		t.Fatalf("expected nil for a missing note, got %+v (%v)", missing, err)
	}
	if _, err := service.Create(ctx, NoteInput{}); ErrorCode(err) != "notes.create.missing_title" {
		t.Fatalf("expected missing title, got %v", err)
	}

	if got := env.queueCount(t); got != 0 {
		t.Fatalf("expected local notes to stay out of the journal, got %d entries", got)
	}
}

func TestNoteDeleteCascadesFiles(t *testing.T) {
	env := newTestEnv(t, "note")
	service, err := NewNoteService(env.store, env.clock.Now, nil)
	if err != nil {
		t.Fatalf("new note service: %v", err)
	}
	ctx := context.Background()

	note, err := service.Create(ctx, NoteInput{Title: "Slides"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	noteID := note.ID
	for _, name := range []string{"week1.pdf", "week2.pdf"} {
		if _, err := service.AddFile(ctx, FileInput{NoteID: &noteID, Name: name, URI: "file:///tmp/" + name, MimeType: "application/pdf", SizeBytes: 2048}); err != nil {
			t.Fatalf("add file %s: %v", name, err)
		}
	}
	loose, err := service.AddFile(ctx, FileInput{Name: "syllabus.pdf", URI: "file:///tmp/syllabus.pdf"})
	if err != nil {
		t.Fatalf("add loose file: %v", err)
	}
	if _, err := service.AddFile(ctx, FileInput{Name: "x"}); ErrorCode(err) != "notes.add_file.missing_uri" {
		t.Fatalf("expected missing uri, got %v", err)
	}

	files, err := service.FilesForNote(ctx, noteID)
	if err != nil || len(files) != 2 || files[0].Name != "week1.pdf" {
		t.Fatalf("unexpected files: %+v (%v)", files, err)
	}

	deleted, err := service.Delete(ctx, noteID)
	if err != nil || !deleted {
		t.Fatalf("delete: %v, %v", deleted, err)
	}
	files, err = service.FilesForNote(ctx, noteID)
	if err != nil || len(files) != 0 {
		t.Fatalf("expected attachments to be removed, got %+v (%v)", files, err)
	}

	deleted, err = service.DeleteFile(ctx, loose.ID)
	if err != nil || !deleted {
		t.Fatalf("delete loose file: %v, %v", deleted, err)
	}
	deleted, err = service.Delete(ctx, noteID)
	if err != nil || deleted {
		t.Fatalf("expected repeated delete to report false, got %v, %v", deleted, err)
	}
}
