package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestRecover_WithPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		panic("test panic message")
	}

	err := testFunc()
	if err == nil {
		t.Fatal("Expected error from recovered panic, got nil")
	}

	var panicErr *PanicError
	if !As(err, &panicErr) {
		t.Fatalf("Expected PanicError, got %T", err)
	}

	if panicErr.Operation != "TestOperation" {
		t.Errorf("Expected operation 'TestOperation', got '%s'", panicErr.Operation)
	}
	if panicErr.PanicValue != "test panic message" {
		t.Errorf("Expected panic value 'test panic message', got '%v'", panicErr.PanicValue)
	}
	if panicErr.StackTrace == "" {
		t.Error("Expected non-empty stack trace")
	}
	if err.Error() != "panic in TestOperation: test panic message" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestRecover_WithoutPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		return nil
	}

	if err := testFunc(); err != nil {
		t.Fatalf("Expected no error when no panic occurs, got: %v", err)
	}
}

func TestRecover_WithExistingError(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		err = ErrEmptyData
		panic("panic after error")
	}

	err := testFunc()
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "panic in TestOperation") {
		t.Errorf("Error message should contain panic info: %s", err.Error())
	}
	if !Is(err, ErrEmptyData) {
		t.Error("original error should remain in the chain")
	}
}

func TestRecover_PanicWithError(t *testing.T) {
	cause := fmt.Errorf("index out of range")
	err := SafeExecute("Tree.build", func() error {
		panic(cause)
	})

	if !Is(err, cause) {
		t.Errorf("panic value error should be reachable with Is, got %v", err)
	}
}

func TestSafeExecute_ReturnsFnError(t *testing.T) {
	want := NewValueError("Fit", "bad input")
	err := SafeExecute("Fit", func() error { return want })
	if err != want {
		t.Errorf("SafeExecute() = %v, want %v", err, want)
	}
}

func TestPanicError_String(t *testing.T) {
	p := NewPanicError("Predict", "boom")
	s := p.String()
	if !strings.Contains(s, "panic in Predict: boom") || !strings.Contains(s, "Stack trace:") {
		t.Errorf("unexpected String(): %s", s)
	}
}
