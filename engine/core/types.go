package core

import "time"

// -----------------------------------------------------------------------------
// Trigger Type
// -----------------------------------------------------------------------------

type TriggerType string

const (
	TriggerWebhook  TriggerType = "webhook"
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
)

func (t TriggerType) String() string {
	return string(t)
}

func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerWebhook, TriggerManual, TriggerSchedule:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Clock
// -----------------------------------------------------------------------------

// Clock returns the current time. Services take a Clock so tests can pin time.
type Clock func() time.Time

// SystemClock is the default Clock, always in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// ClockOrDefault returns c, or SystemClock when c is nil.
func ClockOrDefault(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}
