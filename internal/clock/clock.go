// Package clock converts a unit's IANA time zone and a local wall-clock
// trigger into absolute instants and calendar-day keys.
//
// Every function here is pure over its arguments: there is no cached "today"
// and no dependency on the process time zone, so repeated evaluation with
// the same (zone, trigger, now) always yields the same answer.
package clock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DayKeyLayout is the layout of a calendar-day key ("2024-06-01").
const DayKeyLayout = "2006-01-02"

var ErrInvalidTimeZone = errors.New("invalid time zone")

// LoadLocation resolves an IANA zone identifier. The empty string and
// "Local" are rejected so that a unit never inherits the host's zone.
func LoadLocation(zone string) (*time.Location, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" || zone == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeZone, zone)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimeZone, zone, err)
	}
	return loc, nil
}

// Trigger is a local wall-clock time of day.
type Trigger struct {
	Hour   int
	Minute int
}

func (t Trigger) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("trigger hour out of range: %d", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("trigger minute out of range: %d", t.Minute)
	}
	return nil
}

func (t Trigger) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTrigger parses "HH:MM" (24h).
func ParseTrigger(value string) (Trigger, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return Trigger{}, fmt.Errorf("trigger must be HH:MM: %q", value)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return Trigger{}, fmt.Errorf("trigger hour: %w", err)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return Trigger{}, fmt.Errorf("trigger minute: %w", err)
	}
	t := Trigger{Hour: hour, Minute: minute}
	if err := t.Validate(); err != nil {
		return Trigger{}, err
	}
	return t, nil
}

// Resolution is the outcome of evaluating a trigger at a reference instant.
type Resolution struct {
	Location  *time.Location
	DayKey    string
	TriggerAt time.Time
	Due       bool
}

// Resolve reports the calendar-day key of now in zone, the absolute instant
// of today's trigger, and whether now is at or after it.
//
// A trigger that falls inside a DST gap resolves to the instant time.Date
// normalises it to; it is due by the end of the gap at the latest.
func Resolve(zone string, trigger Trigger, now time.Time) (Resolution, error) {
	if err := trigger.Validate(); err != nil {
		return Resolution{}, err
	}
	loc, err := LoadLocation(zone)
	if err != nil {
		return Resolution{}, err
	}
	local := now.In(loc)
	y, m, d := local.Date()
	triggerAt := time.Date(y, m, d, trigger.Hour, trigger.Minute, 0, 0, loc)
	return Resolution{
		Location:  loc,
		DayKey:    local.Format(DayKeyLayout),
		TriggerAt: triggerAt,
		Due:       !now.Before(triggerAt),
	}, nil
}

// DayKey returns the calendar-day key of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayKeyLayout)
}

// DayKeyIn is DayKey with the zone given by name.
func DayKeyIn(zone string, t time.Time) (string, error) {
	loc, err := LoadLocation(zone)
	if err != nil {
		return "", err
	}
	return DayKey(t, loc), nil
}

// ParseDayKey validates a calendar-day key and returns its canonical form.
func ParseDayKey(value string) (string, error) {
	value = strings.TrimSpace(value)
	parsed, err := time.Parse(DayKeyLayout, value)
	if err != nil {
		return "", fmt.Errorf("invalid day key %q: %w", value, err)
	}
	return parsed.Format(DayKeyLayout), nil
}

// IsOverdue reports whether a run keyed by dayKey has been left behind:
// the calendar day in zone has moved past dayKey at now.
func IsOverdue(dayKey, zone string, now time.Time) (bool, error) {
	key, err := ParseDayKey(dayKey)
	if err != nil {
		return false, err
	}
	today, err := DayKeyIn(zone, now)
	if err != nil {
		return false, err
	}
	// Keys are zero-padded ISO dates, so string order is calendar order.
	return today > key, nil
}
