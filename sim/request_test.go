package sim

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRequest_GeneratesIDWhenEmpty(t *testing.T) {
	r := NewRequest("", "A", "hello", 10, 5, 0)
	if r.ID == "" {
		t.Error("expected a generated ID when none was supplied")
	}
	if r.State != StateQueued {
		t.Errorf("expected initial state queued, got %v", r.State)
	}
}

func TestNewRequest_UsesSuppliedID(t *testing.T) {
	r := NewRequest("custom-id", "A", "hello", 10, 5, 0)
	if r.ID != "custom-id" {
		t.Errorf("got %q, want %q", r.ID, "custom-id")
	}
}

func TestNewRequest_PanicsOnInvalidInput(t *testing.T) {
	cases := []func(){
		func() { NewRequest("", "", "p", 10, 5, 0) },
		func() { NewRequest("", "A", "p", 0, 5, 0) },
		func() { NewRequest("", "A", "p", 10, 0, 0) },
		func() { NewRequest("", "A", "p", 10, 11, 0) },
	}
	for i, fn := range cases {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("case %d: expected panic", i)
				}
			}()
			fn()
		}()
	}
}

func TestCompletionHandle_ResolveThenWait(t *testing.T) {
	r := NewRequest("", "A", "", 10, 5, 0)
	want := Result{TokensProduced: 10, LatencyS: 0.5}
	r.Handle.resolve(want)

	got, err := r.Handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestCompletionHandle_FailThenWait(t *testing.T) {
	r := NewRequest("", "A", "", 10, 5, 0)
	cause := errors.New("boom")
	r.Handle.fail(cause)

	_, err := r.Handle.Wait(context.Background())
	if !errors.Is(err, cause) {
		t.Errorf("got %v, want %v", err, cause)
	}
}

func TestCompletionHandle_ContextCancelledBeforeResolve(t *testing.T) {
	r := NewRequest("", "A", "", 10, 5, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Handle.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestCompletionHandle_WaitBlocksUntilResolved(t *testing.T) {
	r := NewRequest("", "A", "", 10, 5, 0)
	done := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		r.Handle.resolve(Result{TokensProduced: 1})
		close(done)
	}()

	got, err := r.Handle.Wait(context.Background())
	<-done
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TokensProduced != 1 {
		t.Errorf("got %+v", got)
	}
}
