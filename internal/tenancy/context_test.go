package tenancy

import (
	"context"
	"testing"
)

func TestClinicIDRoundTrip(t *testing.T) {
	ctx := WithClinicID(context.Background(), "clinic-1")
	got, ok := ClinicIDFromContext(ctx)
	if !ok || got != "clinic-1" {
		t.Fatalf("expected clinic-1, got %q ok=%v", got, ok)
	}
}

func TestClinicIDMissing(t *testing.T) {
	if _, ok := ClinicIDFromContext(context.Background()); ok {
		t.Fatal("expected no clinic id in empty context")
	}
	if _, ok := ClinicIDFromContext(WithClinicID(context.Background(), "")); ok {
		t.Fatal("expected empty clinic id to be treated as absent")
	}
}
