package env

import (
	"testing"
	"time"
)

func TestDurationDefaultAndOverride(t *testing.T) {
	t.Setenv("FLEETCHECK_TEST_DURATION", "")
	if _, err := Duration("FLEETCHECK_TEST_DURATION", time.Second); err == nil {
		t.Fatalf("expected error for empty duration")
	}

	t.Setenv("FLEETCHECK_TEST_DURATION", " 90s ")
	got, err := Duration("FLEETCHECK_TEST_DURATION", time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 90*time.Second {
		t.Fatalf("Duration()=%s, want 90s", got)
	}

	got, err = Duration("FLEETCHECK_TEST_DURATION_UNSET", 3*time.Second)
	if err != nil || got != 3*time.Second {
		t.Fatalf("Duration() default=%s err=%v", got, err)
	}
}

func TestIntRejectsGarbage(t *testing.T) {
	t.Setenv("FLEETCHECK_TEST_INT", "ten")
	if _, err := Int("FLEETCHECK_TEST_INT", 1); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestBoolTrimsAndRejects(t *testing.T) {
	t.Setenv("FLEETCHECK_TEST_BOOL", " true ")
	got, err := Bool("FLEETCHECK_TEST_BOOL", false)
	if err != nil || !got {
		t.Fatalf("Bool()=%t err=%v", got, err)
	}

	t.Setenv("FLEETCHECK_TEST_BOOL", "sometimes")
	if _, err := Bool("FLEETCHECK_TEST_BOOL", false); err == nil {
		t.Fatalf("expected parse error")
	}
}
