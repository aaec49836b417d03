package errors

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	err := New(ErrCodeInvalidConfig, "configuration is invalid")
	if err.Code != ErrCodeInvalidConfig {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
	}
	if err.Category != CategoryConfiguration {
		t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
	}
	if err.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	if err.Retryable {
		t.Error("ErrCodeInvalidConfig should not be retryable by default")
	}
}

func TestNewRetryableDefaults(t *testing.T) {
	t.Parallel()

	for _, code := range []ErrorCode{ErrCodeOperationTimeout, ErrCodeResourceExhausted, ErrCodeWorkerBusy} {
		if !New(code, "x").Retryable {
			t.Errorf("%s should be retryable by default", code)
		}
	}
}

func TestCategoryOf(t *testing.T) {
	t.Parallel()

	cases := map[ErrorCode]ErrorCategory{
		ErrCodeInodeMismatch:     CategoryCache,
		ErrCodeStatsCorrupt:      CategoryCache,
		ErrCodeSparseProbe:       CategoryCache,
		ErrCodeReconcileFail:     CategoryCache,
		ErrCodeObjectNotFound:    CategoryStorage,
		ErrCodeWorkerBusy:        CategoryResource,
		ErrCodeAlreadyStarted:    CategoryState,
		ErrCodeOperationTimeout:  CategoryOperation,
		ErrCodeInternalError:     CategoryInternal,
	}
	for code, want := range cases {
		if got := New(code, "x").Category; got != want {
			t.Errorf("category of %s = %v, want %v", code, got, want)
		}
	}
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := New(ErrCodeInodeMismatch, "inode changed").WithComponent("pagestats").WithOperation("Deserialize")
	got := err.Error()
	want := "[pagestats:Deserialize] INODE_MISMATCH: inode changed"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUnwrapAndIs(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := New(ErrCodeStorageRead, "read failed").WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	other := New(ErrCodeStorageRead, "different message, same code")
	if !errors.Is(err, other) {
		t.Error("errors.Is should match on error code")
	}

	differentCode := New(ErrCodeInternalError, "read failed")
	if errors.Is(err, differentCode) {
		t.Error("errors.Is should not match on differing code")
	}
}

func TestWithContext(t *testing.T) {
	t.Parallel()

	err := New(ErrCodeInvalidRange, "bad range").WithContext("offset", "100").WithContext("length", "-1")
	if err.Context["offset"] != "100" || err.Context["length"] != "-1" {
		t.Errorf("Context = %v, missing expected keys", err.Context)
	}
}
