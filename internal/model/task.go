package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dolores/internal/dateutil"
)

type TaskID = string

// Frequency is a task template's recurrence cadence.
type Frequency string

const (
	FreqNone    Frequency = "none"
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqCustom  Frequency = "custom"
)

var ErrUnknownFrequency = errors.New("unknown frequency")

// ParseFrequency validates a wire-format frequency. An empty string is
// treated as "none" to match rows written before the column existed.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqCustom, FreqNone:
		return f, nil
	case "":
		return FreqNone, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFrequency, s)
	}
}

// IsRecurring reports whether the frequency projects instances past the
// origin date.
func (f Frequency) IsRecurring() bool {
	return f != FreqNone && f != ""
}

// Task is the stored template for a to-do item. Date anchors recurrence.
// Completed is authoritative only when Frequency is none; recurring
// completion lives in per-instance completion records.
type Task struct {
	ID          TaskID    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	Date        string    `json:"date"` // YYYY-MM-DD, origin anchor
	CategoryID  string    `json:"categoryId,omitempty"`
	UserID      string    `json:"userId"`
	Frequency   Frequency `json:"frequency"`

	// CustomFrequencyMonths is the month interval; set iff Frequency is custom.
	CustomFrequencyMonths int `json:"customFrequencyMonths,omitempty"`

	Value int64  `json:"value,omitempty"` // cents, 0 = no value
	Time  string `json:"time,omitempty"`  // HH:MM

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var (
	ErrMissingTitle  = errors.New("task title is required")
	ErrBadCustom     = errors.New("custom frequency requires a month interval >= 1")
	ErrNegativeValue = errors.New("task value must not be negative")
	ErrBadTime       = errors.New("task time must be HH:MM")
)

// Validate enforces template invariants before any store write.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrMissingTitle
	}
	if _, err := dateutil.Parse(t.Date); err != nil {
		return err
	}
	f, err := ParseFrequency(string(t.Frequency))
	if err != nil {
		return err
	}
	t.Frequency = f
	if f == FreqCustom && t.CustomFrequencyMonths < 1 {
		return ErrBadCustom
	}
	if f != FreqCustom {
		t.CustomFrequencyMonths = 0
	}
	if t.Value < 0 {
		return ErrNegativeValue
	}
	if t.Time != "" {
		if _, err := time.Parse("15:04", t.Time); err != nil {
			return ErrBadTime
		}
	}
	return nil
}

// TaskUpsert carries the client-submitted fields of a create request.
type TaskUpsert struct {
	Title                 string    `json:"title"`
	Description           string    `json:"description,omitempty"`
	Completed             bool      `json:"completed"`
	Date                  string    `json:"date"`
	CategoryID            string    `json:"categoryId,omitempty"`
	Frequency             Frequency `json:"frequency"`
	CustomFrequencyMonths int       `json:"customFrequencyMonths,omitempty"`
	Value                 int64     `json:"value,omitempty"`
	Time                  string    `json:"time,omitempty"`
}

// TaskPatch is a partial update. nil pointer => no change.
type TaskPatch struct {
	Title                 *string    `json:"title,omitempty"`
	Description           *string    `json:"description,omitempty"`
	Completed             *bool      `json:"completed,omitempty"`
	Date                  *string    `json:"date,omitempty"`
	CategoryID            *string    `json:"categoryId,omitempty"`
	Frequency             *Frequency `json:"frequency,omitempty"`
	CustomFrequencyMonths *int       `json:"customFrequencyMonths,omitempty"`
	Value                 *int64     `json:"value,omitempty"`
	Time                  *string    `json:"time,omitempty"`
}
