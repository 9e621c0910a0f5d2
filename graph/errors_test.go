package graph

import (
	"errors"
	"testing"
)

// TestTypedErrorHandling verifies the package's sentinel errors work with errors.Is.
func TestTypedErrorHandling(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   error
		shouldBe bool
	}{
		{"ErrMaxStepsExceeded identity", ErrMaxStepsExceeded, ErrMaxStepsExceeded, true},
		{"ErrBackpressure identity", ErrBackpressure, ErrBackpressure, true},
		{"ErrInvalidRetryPolicy identity", ErrInvalidRetryPolicy, ErrInvalidRetryPolicy, true},
		{"different errors don't match", ErrMaxStepsExceeded, ErrBackpressure, false},
		{"nil error doesn't match", nil, ErrMaxStepsExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if errors.Is(tt.err, tt.target) != tt.shouldBe {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, !tt.shouldBe, tt.shouldBe)
			}
		})
	}
}

// TestEngineErrorWrapping verifies EngineError can be detected with errors.As.
func TestEngineErrorWrapping(t *testing.T) {
	t.Run("EngineError matches with errors.As", func(t *testing.T) {
		originalErr := &EngineError{Message: "test error", Code: "TEST_ERROR"}

		var engineErr *EngineError
		if !errors.As(originalErr, &engineErr) {
			t.Fatal("errors.As failed to match EngineError")
		}
		if engineErr.Code != "TEST_ERROR" {
			t.Errorf("Code = %s, want TEST_ERROR", engineErr.Code)
		}
	})

	t.Run("EngineError.Error() includes code", func(t *testing.T) {
		err := &EngineError{Message: "something went wrong", Code: "ERR_CODE"}
		if got, want := err.Error(), "ERR_CODE: something went wrong"; got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	})

	t.Run("EngineError.Error() without code", func(t *testing.T) {
		err := &EngineError{Message: "something went wrong"}
		if got, want := err.Error(), "something went wrong"; got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	})
}
