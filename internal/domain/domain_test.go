package domain

import (
	"errors"
	"testing"
)

func TestRunStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunStatusOpen, RunStatusAssigned, true},
		{RunStatusOpen, RunStatusSubmitted, true},
		{RunStatusAssigned, RunStatusOpen, true},
		{RunStatusAssigned, RunStatusSubmitted, true},
		{RunStatusSubmitted, RunStatusOpen, false},
		{RunStatusSubmitted, RunStatusAssigned, false},
		{RunStatusOpen, RunStatusOpen, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
	if RunStatusSubmitted.Mutable() {
		t.Fatalf("submitted runs must be immutable")
	}
}

func TestResponseValueAffirmative(t *testing.T) {
	if !BoolValue(true).Affirmative() {
		t.Fatalf("true should be affirmative")
	}
	if BoolValue(false).Affirmative() {
		t.Fatalf("false should not be affirmative")
	}
	if !TextValue("tyres fine").Affirmative() {
		t.Fatalf("non-blank text should be affirmative")
	}
	if TextValue("   ").Affirmative() {
		t.Fatalf("blank text should not be affirmative")
	}
}

func TestResponseValueValidate(t *testing.T) {
	if err := (ResponseValue{}).Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, want ErrInvalidInput", err)
	}
	yes := true
	if err := (ResponseValue{Bool: &yes, Text: "x"}).Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, want ErrInvalidInput", err)
	}
	if err := BoolValue(false).Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestReminderConfigValidate(t *testing.T) {
	cfg := ReminderConfig{UnitID: "u1", TemplateID: "t1", TimeZone: "UTC", TriggerHour: 8}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	cfg.TriggerMinute = 60
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, want ErrInvalidInput", err)
	}
}

func TestNormalizeEvidenceKind(t *testing.T) {
	if NormalizeEvidenceKind(" Photo ") != EvidencePhoto {
		t.Fatalf("expected photo")
	}
	if NormalizeEvidenceKind("video") != "" {
		t.Fatalf("expected unknown kind to normalize to empty")
	}
}

func TestMetadataWithLeavesInputsAlone(t *testing.T) {
	base := Metadata{"run_id": "r1", "status": "open"}
	extra := Metadata{"status": "assigned", "to": "driver-1"}
	got := base.With(extra)
	if got["status"] != "assigned" || got["to"] != "driver-1" || got["run_id"] != "r1" {
		t.Fatalf("unexpected merge %v", got)
	}
	if base["status"] != "open" || len(base) != 2 {
		t.Fatalf("base modified: %v", base)
	}
	if len(Metadata(nil).With(nil)) != 0 {
		t.Fatalf("expected empty result for nil inputs")
	}
}
