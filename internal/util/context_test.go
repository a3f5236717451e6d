package util

import (
	"context"
	"testing"
)

func TestWithReason(t *testing.T) {
	ctx := context.Background()
	reason := "network-change"

	ctx = WithReason(ctx, reason)
	result := GetReason(ctx)

	if result != reason {
		t.Errorf("GetReason() = %s, want %s", result, reason)
	}
}

func TestGetReason_Empty(t *testing.T) {
	ctx := context.Background()
	result := GetReason(ctx)

	if result != "" {
		t.Errorf("GetReason() from empty context = %s, want empty string", result)
	}
}

func TestWithReason_Overwrite(t *testing.T) {
	ctx := WithReason(context.Background(), "network-change")
	ctx = WithReason(ctx, "link-recovery")

	if got := GetReason(ctx); got != "link-recovery" {
		t.Errorf("GetReason() = %s, want link-recovery", got)
	}
}
