package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("add record: %w", Invalid("title", "is required"))

	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected errors.Is(err, ErrValidation)")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected errors.As to find *ValidationError")
	}
	if verr.Field != "title" {
		t.Fatalf("unexpected field %q", verr.Field)
	}
	if got := verr.Error(); got != "title: is required" {
		t.Fatalf("unexpected message %q", got)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("validation error must not match ErrNotFound")
	}
}
