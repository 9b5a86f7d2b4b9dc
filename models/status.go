package models

import "fmt"

// Status is the lifecycle state of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// ValidateStatus rejects values outside the known lifecycle states.
func ValidateStatus(status Status) error {
	switch status {
	case StatusPending, StatusConfirmed, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid message status %q", status)
	}
}

// Terminal reports whether no further transition is allowed from status.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// CanTransition reports whether a message may move from one status to another.
// A pending message may stay pending (to attach a tx hash) or settle once.
func CanTransition(from, to Status) bool {
	if from != StatusPending {
		return false
	}
	switch to {
	case StatusPending, StatusConfirmed, StatusFailed:
		return true
	default:
		return false
	}
}
