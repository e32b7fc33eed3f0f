package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeTransportOpen, "backend unreachable")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}

	if err.Code != ErrCodeTransportOpen {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeTransportOpen)
	}

	if err.Message != "backend unreachable" {
		t.Errorf("Message = %v, want 'backend unreachable'", err.Message)
	}

	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}

	if len(err.Stack) == 0 {
		t.Error("Stack should be captured")
	}

	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("original error")
	err := Wrap(underlying, ErrCodeStorageRead, "failed to read history")

	if err == nil {
		t.Fatal("Wrap should return non-nil error")
	}

	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}

	if err.Code != ErrCodeStorageRead {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeStorageRead)
	}

	if !strings.Contains(err.Error(), "original error") {
		t.Error("Error string should include underlying error")
	}
}

func TestWrap_Nil(t *testing.T) {
	err := Wrap(nil, ErrCodeInternal, "test")

	if err != nil {
		t.Error("Wrap of nil should return nil")
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeInvalidState, "reply outside awaiting input")
	err.WithContext("state", "streaming")
	err.WithContext("attempt", 1)

	if err.Context["state"] != "streaming" {
		t.Error("Context should contain 'state' key")
	}

	if err.Context["attempt"] != 1 {
		t.Error("Context should contain 'attempt' key")
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "state") || !strings.Contains(errStr, "streaming") {
		t.Error("Error string should include context")
	}
}

func TestWithRetryable(t *testing.T) {
	err := New(ErrCodeTransportDropped, "connection reset")
	err.WithRetryable(true)

	if !err.Retryable {
		t.Error("WithRetryable should set Retryable to true")
	}

	if !err.IsRetryable() {
		t.Error("IsRetryable should return true")
	}
}

func TestUnwrap(t *testing.T) {
	underlying := errors.New("disk full")
	err := Wrap(underlying, ErrCodeStorageWrite, "persist failed")

	if !errors.Is(err, underlying) {
		t.Error("errors.Is should find the underlying error")
	}
}

func TestIsCode(t *testing.T) {
	err := New(ErrCodeInvalidInput, "prompt cannot be empty")

	if !IsCode(err, ErrCodeInvalidInput) {
		t.Error("IsCode should match the error's code")
	}

	if IsCode(err, ErrCodeInternal) {
		t.Error("IsCode should not match a different code")
	}

	if IsCode(nil, ErrCodeInternal) {
		t.Error("IsCode of nil should be false")
	}

	if IsCode(errors.New("plain"), ErrCodeInternal) {
		t.Error("IsCode of a plain error should be false")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(ErrCodeUserCancelled, "cancelled")); got != ErrCodeUserCancelled {
		t.Errorf("GetCode = %v, want %v", got, ErrCodeUserCancelled)
	}

	if got := GetCode(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("GetCode of plain error = %v, want %v", got, ErrCodeInternal)
	}

	if got := GetCode(nil); got != ErrorCode("") {
		t.Errorf("GetCode of nil = %v, want empty", got)
	}
}

func TestStackTrace(t *testing.T) {
	err := New(ErrCodeInternal, "boom")

	trace := err.StackTrace()
	if !strings.Contains(trace, "Stack trace:") {
		t.Error("StackTrace should include header")
	}
	if !strings.Contains(trace, "TestStackTrace") {
		t.Error("StackTrace should include the calling function")
	}
}
