package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"classified transient", NewError(ClassTransient, "reset"), ClassTransient},
		{"classified permanent", NewError(ClassPermanent, "bad input"), ClassPermanent},
		{"wrapped classified", fmt.Errorf("run: %w", NewError(ClassEnvironment, "no binary")), ClassEnvironment},
		{"deadline exceeded", context.DeadlineExceeded, ClassTransient},
		{"context cancelled", context.Canceled, ClassTransient},
		{"connection refused", syscall.ECONNREFUSED, ClassTransient},
		{"connection reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), ClassTransient},
		{"binary not found", exec.ErrNotFound, ClassEnvironment},
		{"permission denied", fs.ErrPermission, ClassResource},
		{"disk full", syscall.ENOSPC, ClassResource},
		{"unknown error", errors.New("something odd"), ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestPartialRef(t *testing.T) {
	err := &Error{Class: ClassResource, Message: "disk full", PartialRef: "/tmp/partial.pdf"}
	if got := PartialRef(fmt.Errorf("compress: %w", err)); got != "/tmp/partial.pdf" {
		t.Errorf("PartialRef = %q, want /tmp/partial.pdf", got)
	}
	if got := PartialRef(errors.New("plain")); got != "" {
		t.Errorf("PartialRef on unclassified error = %q, want empty", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("exit status 1")
	wrapped := WrapError(ClassPermanent, cause, "gs failed")
	if !errors.Is(wrapped, cause) {
		t.Error("WrapError must preserve the cause chain")
	}
}

func TestResultJSONRoundTrip(t *testing.T) {
	r := &Result{OutputRef: "/tmp/out.pdf", Fields: map[string]any{"ratio": 0.5}}
	raw, err := r.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if got := OutputRef(raw); got != "/tmp/out.pdf" {
		t.Errorf("OutputRef = %q, want /tmp/out.pdf", got)
	}
	if OutputRef(nil) != "" {
		t.Error("OutputRef(nil) should be empty")
	}
}

func TestRegistryResolveMissing(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("compress")
	if Classify(err) != ClassEnvironment {
		t.Errorf("missing engine should classify as environment, got %s", Classify(err))
	}
}
