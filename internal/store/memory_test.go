package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ttsengine/internal/state"
)

func TestMemory_GetMissing(t *testing.T) {
	t.Parallel()
	s := NewMemory()

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_PutGet(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()

	rec := state.NewRecord("job-1")
	rec.CurrentState = state.StateProcessing
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CurrentState != state.StateProcessing {
		t.Errorf("expected processing, got %s", got.CurrentState)
	}

	// Mutating the returned copy must not leak into the store.
	got.CurrentState = state.StateFailed
	again, _ := s.Get(ctx, "job-1")
	if again.CurrentState != state.StateProcessing {
		t.Error("store returned a shared record instead of a copy")
	}
}

func TestMemory_PutIfAbsent(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()

	created, err := s.PutIfAbsent(ctx, state.NewRecord("job-1"))
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if !created {
		t.Fatal("expected first PutIfAbsent to create the record")
	}

	// An existing record, applied or not, must never be replaced.
	rec, _ := s.Get(ctx, "job-1")
	rec.CurrentState = state.StateCompleted
	rec.TerminalHandled = true
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	created, err = s.PutIfAbsent(ctx, state.NewRecord("job-1"))
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if created {
		t.Fatal("expected second PutIfAbsent to be a no-op")
	}
	got, _ := s.Get(ctx, "job-1")
	if got.CurrentState != state.StateCompleted || !got.TerminalHandled {
		t.Errorf("PutIfAbsent replaced an existing record: state=%s handled=%v",
			got.CurrentState, got.TerminalHandled)
	}
}

func TestMemory_Delete(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()

	if err := s.Put(ctx, state.NewRecord("job-1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing record is a no-op.
	if err := s.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
}

func TestMemory_IDs(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, state.NewRecord(id)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	ids, err := s.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs failed: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 ids, got %d", len(ids))
	}
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := state.NewRecord("job-shared")
			_ = s.Put(ctx, rec)
			_, _ = s.Get(ctx, "job-shared")
		}()
	}
	wg.Wait()

	if _, err := s.Get(ctx, "job-shared"); err != nil {
		t.Fatalf("expected record to exist, got %v", err)
	}
}
