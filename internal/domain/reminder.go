package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReminderConfig is the recurrence rule for one (unit, template) pair.
type ReminderConfig struct {
	ID               string
	OrgID            string
	UnitID           string
	TemplateID       string
	TimeZone         string
	TriggerHour      int
	TriggerMinute    int
	Enabled          bool
	LastEvaluatedDay string
	CreatedBy        string
	CreatedAt        time.Time
}

func (c ReminderConfig) Validate() error {
	if strings.TrimSpace(c.UnitID) == "" {
		return fmt.Errorf("%w: unit id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.TemplateID) == "" {
		return fmt.Errorf("%w: template id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.TimeZone) == "" {
		return fmt.Errorf("%w: time zone is required", ErrInvalidInput)
	}
	if c.TriggerHour < 0 || c.TriggerHour > 23 {
		return fmt.Errorf("%w: trigger hour out of range", ErrInvalidInput)
	}
	if c.TriggerMinute < 0 || c.TriggerMinute > 59 {
		return fmt.Errorf("%w: trigger minute out of range", ErrInvalidInput)
	}
	return nil
}
