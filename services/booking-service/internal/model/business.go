package model

import "time"

// Business carries the settings the scheduling core reads. Everything else
// about a business lives outside this service.
type Business struct {
	ID                  string
	Timezone            string
	SlotGranularityMins int
	AutoAssignEmployees bool
}

// Location resolves the business timezone, defaulting to UTC when the stored
// name is empty or unknown.
func (b Business) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (b Business) Granularity() time.Duration {
	if b.SlotGranularityMins <= 0 {
		return 0
	}
	return time.Duration(b.SlotGranularityMins) * time.Minute
}

// Service is a bookable offering. Read-only input to the scheduler.
type Service struct {
	ID              string
	BusinessID      string
	Name            string
	DurationMinutes int
	PriceMinor      int64
	Currency        string
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Employee is a bookable staff member; Active employees participate in
// auto-assignment.
type Employee struct {
	ID         string
	BusinessID string
	Name       string
	Active     bool
}
