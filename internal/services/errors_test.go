package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"mediaflow/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrUpstream, "runninghub", "create", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrUpstream) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"runninghub", "create", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transient", err: services.Wrap(services.ErrTransient, "feishu", "read", "reset", nil), want: false},
		{name: "timeout", err: services.Wrap(services.ErrTimeout, "runninghub", "status", "", nil), want: false},
		{name: "validation", err: services.Wrap(services.ErrValidation, "sheet", "row", "bad", nil), want: true},
		{name: "configuration", err: services.Wrap(services.ErrConfiguration, "feishu", "write", "no column", nil), want: true},
		{name: "wrapped not found", err: fmt.Errorf("lookup: %w", services.Wrap(services.ErrNotFound, "feishu", "query sheets", "", nil)), want: true},
		{name: "plain", err: errors.New("plain"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Permanent(tc.err); got != tc.want {
				t.Fatalf("Permanent(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapMessageNamesServiceAndCall(t *testing.T) {
	err := services.Wrap(services.ErrUpstream, " runninghub ", "create", "", errors.New("queue full"))
	want := "upstream service error: runninghub: create: queue full"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if services.Permanent(err) {
		t.Fatal("upstream rejection should be retried")
	}
}
