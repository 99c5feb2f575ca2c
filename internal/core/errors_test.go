package core

import (
	"errors"
	"os/exec"
	"testing"
)

func TestDomainError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := (&DomainError{
		Category: ErrCatValidation,
		Code:     "CODE",
		Message:  "message",
	}).WithCause(cause)

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be unwrapped")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}

	match := &DomainError{Category: ErrCatValidation, Code: "CODE"}
	if !errors.Is(err, match) {
		t.Fatalf("expected errors.Is to match category and code")
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := &DomainError{Category: ErrCatExecution, Code: "X", Message: "msg"}
	err.WithDetail("k", "v")
	if err.Details == nil || err.Details["k"] != "v" {
		t.Fatalf("expected details to be set")
	}
}

func TestErrorFactories(t *testing.T) {
	if ErrValidation("C", "m").Retryable {
		t.Fatalf("validation should not be retryable")
	}
	if !ErrExecution("C", "m").Retryable {
		t.Fatalf("execution should be retryable")
	}
	if !ErrTimeout("m").Retryable {
		t.Fatalf("timeout should be retryable")
	}
	if ErrProcessSpawn("act", exec.ErrNotFound).Retryable {
		t.Fatalf("spawn should not be retryable")
	}
	if !ErrConnectivity(CodeEngineDown, "m").Retryable {
		t.Fatalf("connectivity should be retryable")
	}
}

func TestErrProcessSpawn(t *testing.T) {
	err := ErrProcessSpawn("/no/such/act", exec.ErrNotFound)

	if !IsCategory(err, ErrCatSpawn) {
		t.Fatalf("category = %s, want spawn", GetCategory(err))
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected cause to be preserved")
	}
	if RemediationOf(err) == "" {
		t.Fatalf("expected remediation text")
	}
	if err.Details["path"] != "/no/such/act" {
		t.Fatalf("expected path detail, got %v", err.Details)
	}
}

func TestGetCategory_PlainError(t *testing.T) {
	if got := GetCategory(errors.New("x")); got != ErrCatInternal {
		t.Fatalf("GetCategory = %s, want internal", got)
	}
	if RemediationOf(errors.New("x")) != "" {
		t.Fatalf("plain errors carry no remediation")
	}
}
