package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/vovakirdan/wiredm/internal/store"
)

func TestToCoreErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
		msg  string
	}{
		{"validation", Validation("message cannot be empty"), ErrCodeValidation, "message cannot be empty"},
		{"wrapped validation", fmt.Errorf("send: %w", Validation("too long")), ErrCodeValidation, "too long"},
		{"forbidden", fmt.Errorf("edit: %w", ErrForbidden), ErrCodeForbidden, "permission denied"},
		{"not found", fmt.Errorf("delete: %w", ErrNotFound), ErrCodeNotFound, "not found"},
		{"storage", Storage("send", errors.New("disk I/O error")), ErrCodeStorage, "internal server error"},
		{"unknown", store.ErrNotFound, ErrCodeStorage, "internal server error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ce := ToCoreError(tc.err)
			if ce.Code != tc.code || ce.Message != tc.msg {
				t.Fatalf("got %s/%q, want %s/%q", ce.Code, ce.Message, tc.code, tc.msg)
			}
		})
	}

	if ToCoreError(nil) != nil {
		t.Fatalf("nil error should map to nil")
	}
}
