package clock

import (
	"errors"
	"testing"
	"time"
)

func mustLoad(t *testing.T, zone string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(zone)
	if err != nil {
		t.Fatalf("load %s: %v", zone, err)
	}
	return loc
}

func TestLoadLocationRejectsUnknownZones(t *testing.T) {
	for _, zone := range []string{"", "  ", "Local", "Mars/Olympus_Mons"} {
		if _, err := LoadLocation(zone); !errors.Is(err, ErrInvalidTimeZone) {
			t.Fatalf("LoadLocation(%q) err=%v, want ErrInvalidTimeZone", zone, err)
		}
	}
	if _, err := LoadLocation("America/Los_Angeles"); err != nil {
		t.Fatalf("LoadLocation() err=%v", err)
	}
}

func TestResolveLosAngelesMorningTrigger(t *testing.T) {
	la := mustLoad(t, "America/Los_Angeles")
	trigger := Trigger{Hour: 8, Minute: 0}

	before, err := Resolve("America/Los_Angeles", trigger, time.Date(2024, 6, 1, 7, 59, 0, 0, la))
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if before.Due {
		t.Fatalf("expected 07:59 not due")
	}
	if before.DayKey != "2024-06-01" {
		t.Fatalf("DayKey=%q, want 2024-06-01", before.DayKey)
	}

	after, err := Resolve("America/Los_Angeles", trigger, time.Date(2024, 6, 1, 8, 1, 0, 0, la))
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if !after.Due {
		t.Fatalf("expected 08:01 due")
	}
	if !after.TriggerAt.Equal(time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)) {
		t.Fatalf("TriggerAt=%s, want 15:00 UTC", after.TriggerAt.UTC())
	}

	exact, err := Resolve("America/Los_Angeles", trigger, time.Date(2024, 6, 1, 8, 0, 0, 0, la))
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if !exact.Due {
		t.Fatalf("expected trigger instant itself to be due")
	}
}

func TestResolveUsesZoneLocalDay(t *testing.T) {
	// 23:30 UTC on May 31 is already June 1 in Kolkata (+05:30).
	now := time.Date(2024, 5, 31, 23, 30, 0, 0, time.UTC)

	kolkata, err := Resolve("Asia/Kolkata", Trigger{Hour: 4, Minute: 45}, now)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if kolkata.DayKey != "2024-06-01" {
		t.Fatalf("DayKey=%q, want 2024-06-01", kolkata.DayKey)
	}
	if !kolkata.Due {
		t.Fatalf("expected 05:00 local to be past 04:45 trigger")
	}

	utc, err := Resolve("UTC", Trigger{Hour: 4, Minute: 45}, now)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if utc.DayKey != "2024-05-31" {
		t.Fatalf("DayKey=%q, want 2024-05-31", utc.DayKey)
	}
}

func TestResolveHalfHourOffset(t *testing.T) {
	adelaide := mustLoad(t, "Australia/Adelaide")
	now := time.Date(2024, 1, 15, 6, 29, 0, 0, adelaide)
	res, err := Resolve("Australia/Adelaide", Trigger{Hour: 6, Minute: 30}, now)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if res.Due {
		t.Fatalf("expected 06:29 not due")
	}
	if got := res.TriggerAt.Sub(now); got != time.Minute {
		t.Fatalf("TriggerAt-now=%s, want 1m", got)
	}
}

func TestResolveTriggerInsideSpringForwardGap(t *testing.T) {
	la := mustLoad(t, "America/Los_Angeles")
	// 2024-03-10 02:30 does not exist in Los Angeles.
	now := time.Date(2024, 3, 10, 3, 15, 0, 0, la)
	res, err := Resolve("America/Los_Angeles", Trigger{Hour: 2, Minute: 30}, now)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if res.DayKey != "2024-03-10" {
		t.Fatalf("DayKey=%q", res.DayKey)
	}
	if !res.Due {
		t.Fatalf("expected gap trigger to be due by 03:15")
	}
	early, err := Resolve("America/Los_Angeles", Trigger{Hour: 2, Minute: 30}, time.Date(2024, 3, 10, 1, 0, 0, 0, la))
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if early.Due {
		t.Fatalf("expected gap trigger not due at 01:00")
	}
}

func TestResolveIsPure(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a, err := Resolve("Europe/Berlin", Trigger{Hour: 9}, now)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	b, err := Resolve("Europe/Berlin", Trigger{Hour: 9}, now)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if a.DayKey != b.DayKey || !a.TriggerAt.Equal(b.TriggerAt) || a.Due != b.Due {
		t.Fatalf("expected identical resolutions: %+v vs %+v", a, b)
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	now := time.Now()
	if _, err := Resolve("Nowhere/City", Trigger{Hour: 8}, now); !errors.Is(err, ErrInvalidTimeZone) {
		t.Fatalf("err=%v, want ErrInvalidTimeZone", err)
	}
	if _, err := Resolve("UTC", Trigger{Hour: 24}, now); err == nil {
		t.Fatalf("expected error for hour 24")
	}
}

func TestParseTrigger(t *testing.T) {
	got, err := ParseTrigger(" 08:05 ")
	if err != nil {
		t.Fatalf("ParseTrigger() err=%v", err)
	}
	if got != (Trigger{Hour: 8, Minute: 5}) || got.String() != "08:05" {
		t.Fatalf("ParseTrigger()=%+v", got)
	}
	for _, bad := range []string{"8", "25:00", "08:60", "aa:bb"} {
		if _, err := ParseTrigger(bad); err == nil {
			t.Fatalf("ParseTrigger(%q) expected error", bad)
		}
	}
}

func TestIsOverdue(t *testing.T) {
	la := mustLoad(t, "America/Los_Angeles")

	cases := []struct {
		name   string
		dayKey string
		now    time.Time
		want   bool
	}{
		{"same day late evening", "2024-06-01", time.Date(2024, 6, 1, 23, 59, 0, 0, la), false},
		{"next local day", "2024-06-01", time.Date(2024, 6, 2, 0, 1, 0, 0, la), true},
		{"utc already next day", "2024-06-01", time.Date(2024, 6, 2, 3, 0, 0, 0, time.UTC), false},
		{"future key", "2024-06-03", time.Date(2024, 6, 2, 12, 0, 0, 0, la), false},
	}
	for _, tc := range cases {
		got, err := IsOverdue(tc.dayKey, "America/Los_Angeles", tc.now)
		if err != nil {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: overdue=%v, want %v", tc.name, got, tc.want)
		}
	}

	if _, err := IsOverdue("06/01/2024", "UTC", time.Now()); err == nil {
		t.Fatalf("expected error for malformed day key")
	}
}
