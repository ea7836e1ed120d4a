// SPDX-License-Identifier: MIT

package log

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Fatalf("got %q, want %q", got, "req-123")
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}

func TestJobIDRoundTrip(t *testing.T) {
	ctx := ContextWithJobID(context.Background(), "job-9")
	if got := JobIDFromContext(ctx); got != "job-9" {
		t.Fatalf("got %q, want %q", got, "job-9")
	}
}

func TestNilContextIsSafe(t *testing.T) {
	//nolint:staticcheck // exercising the nil-context guard on purpose
	if got := RequestIDFromContext(nil); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	l := FromContext(nil)
	if l == nil {
		t.Fatal("expected a usable logger")
	}
}
