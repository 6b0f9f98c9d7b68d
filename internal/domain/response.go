package domain

import (
	"fmt"
	"strings"
	"time"
)

// ResponseValue is either a boolean answer or free text.
type ResponseValue struct {
	Bool *bool
	Text string
}

func BoolValue(v bool) ResponseValue {
	return ResponseValue{Bool: &v}
}

func TextValue(v string) ResponseValue {
	return ResponseValue{Text: v}
}

func (v ResponseValue) Validate() error {
	if v.Bool != nil && v.Text != "" {
		return fmt.Errorf("%w: response is either boolean or text", ErrInvalidInput)
	}
	if v.Bool == nil && strings.TrimSpace(v.Text) == "" {
		return fmt.Errorf("%w: response value is required", ErrInvalidInput)
	}
	return nil
}

// Affirmative reports whether the value counts as ok in a submit tally:
// true for booleans, non-blank for text.
func (v ResponseValue) Affirmative() bool {
	if v.Bool != nil {
		return *v.Bool
	}
	return strings.TrimSpace(v.Text) != ""
}

// Response is the answer to one template item within a run.
type Response struct {
	RunID      string
	ItemID     string
	Value      ResponseValue
	RecordedBy string
	RecordedAt time.Time
}
