package correlation

import (
	"context"
	"strings"
	"testing"
)

func TestNewFormat(t *testing.T) {
	id := New()
	parts := strings.Split(id, "-")
	if len(parts) != 2 {
		t.Fatalf("expected prefix-suffix format, got %q", id)
	}
	if len(parts[0]) != 15 { // 20060102T150405
		t.Errorf("unexpected time prefix %q", parts[0])
	}
	if len(parts[1]) != 8 {
		t.Errorf("unexpected random suffix %q", parts[1])
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate correlation ID %q", id)
		}
		seen[id] = true
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithID(context.Background(), "test-id")
	if got := FromContext(ctx); got != "test-id" {
		t.Errorf("FromContext = %q, want test-id", got)
	}
}

func TestFromContextMintsWhenAbsent(t *testing.T) {
	if got := FromContext(context.Background()); got == "" {
		t.Error("expected a minted ID for empty context")
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" {
		t.Fatal("expected non-empty ID")
	}
	ctx2, id2 := Ensure(ctx)
	if id2 != id {
		t.Errorf("Ensure minted a new ID %q over existing %q", id2, id)
	}
	if ctx2 != ctx {
		t.Error("Ensure should return the same context when an ID exists")
	}
}
