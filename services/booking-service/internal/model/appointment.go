package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// BlockingStatuses are the statuses whose appointments occupy their interval.
// Cancelled and rejected appointments never block a slot.
var BlockingStatuses = []Status{StatusPending, StatusConfirmed, StatusCompleted}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRejected, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the status machine allows from -> to.
// Completed, rejected and cancelled are terminal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

type Appointment struct {
	ID          string
	BusinessID  string
	ServiceID   string
	ClientRef   string
	EmployeeRef string
	StartTime   time.Time
	EndTime     time.Time
	Status      Status
	CancelledAt *time.Time
	CreatedAt   time.Time
}
