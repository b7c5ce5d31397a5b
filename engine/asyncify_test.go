package engine

import (
	"context"
	"testing"
)

type fakeOp struct {
	value uint64
	err   error
	runs  *int
}

func (o *fakeOp) Execute(context.Context) (uint64, error) {
	if o.runs != nil {
		*o.runs++
	}
	return o.value, o.err
}

func TestAsyncifyStateMachine(t *testing.T) {
	a := newIdleAsyncify()
	ctx := context.Background()

	if !a.IsNormal() {
		t.Fatal("fresh asyncify must be in normal state")
	}
	if err := a.StartUnwind(ctx); err != nil {
		t.Fatalf("StartUnwind error: %v", err)
	}
	if !a.IsUnwinding() {
		t.Error("expected unwinding state")
	}
	if err := a.StopUnwind(ctx); err != nil {
		t.Fatalf("StopUnwind error: %v", err)
	}
	if err := a.StartRewind(ctx); err != nil {
		t.Fatalf("StartRewind error: %v", err)
	}
	if !a.IsRewinding() {
		t.Error("expected rewinding state")
	}
	if err := a.StopRewind(ctx); err != nil {
		t.Fatalf("StopRewind error: %v", err)
	}
	if !a.IsNormal() {
		t.Error("expected normal state after rewind")
	}
}

func TestSchedulerRequiresExecute(t *testing.T) {
	s := NewScheduler(newIdleAsyncify())
	if _, err := s.Step(context.Background(), nil); err == nil {
		t.Error("Step before Execute must fail")
	}
}

func TestSchedulerRejectsBusyState(t *testing.T) {
	a := newIdleAsyncify()
	s := NewScheduler(a)
	ctx := context.Background()

	if err := a.StartUnwind(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Execute(ctx, nil); err == nil {
		t.Error("Execute must reject a non-normal asyncify state")
	}
}

func TestSuspendResumeContextHelpers(t *testing.T) {
	a := newIdleAsyncify()
	s := NewScheduler(a)
	ctx := WithScheduler(WithAsyncify(context.Background(), a), s)

	if err := Suspend(ctx, &fakeOp{value: 42}); err != nil {
		t.Fatalf("Suspend error: %v", err)
	}
	if !a.IsUnwinding() {
		t.Error("Suspend must start unwinding")
	}
	if s.pendingOp == nil {
		t.Error("Suspend must register the pending op")
	}

	// Host loop resolves the op and starts the rewind.
	if err := a.StopUnwind(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.result = 42
	if err := a.StartRewind(context.Background()); err != nil {
		t.Fatal(err)
	}

	val, err := Resume(ctx)
	if err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	if val != 42 {
		t.Errorf("Resume = %d, want 42", val)
	}
	if !a.IsNormal() {
		t.Error("Resume must stop the rewind")
	}
}

func TestSuspendWithoutContextFails(t *testing.T) {
	if err := Suspend(context.Background(), &fakeOp{}); err == nil {
		t.Error("Suspend without scheduler in context must fail")
	}
	if _, err := Resume(context.Background()); err == nil {
		t.Error("Resume without scheduler in context must fail")
	}
}

// buildExports assembles a minimal module whose export section names
// the given functions.
func buildExports(names []string) []byte {
	mod := []byte("\x00asm\x01\x00\x00\x00")
	var body []byte
	body = append(body, byte(len(names)))
	for i, name := range names {
		body = append(body, byte(len(name)))
		body = append(body, name...)
		body = append(body, 0, byte(i)) // func kind
	}
	mod = append(mod, 7, byte(len(body)))
	return append(mod, body...)
}

func TestIsAsyncified(t *testing.T) {
	plain := buildExports([]string{"_start", "memory"})
	if IsAsyncified(plain) {
		t.Error("plain module must not look asyncified")
	}

	instrumented := buildExports(append([]string{"_start"}, asyncifyExports...))
	if !IsAsyncified(instrumented) {
		t.Error("instrumented module must look asyncified")
	}

	if IsAsyncified([]byte("asyncify_start_unwind asyncify_stop_unwind asyncify_start_rewind asyncify_stop_rewind")) {
		t.Error("export names in data are not exports")
	}
}
