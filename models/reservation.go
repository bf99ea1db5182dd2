package models

import (
	"time"
)

type Status string

const (
	StatusReserved  Status = "reserved"
	StatusInUse     Status = "in-use"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusReserved, StatusInUse, StatusCompleted:
		return true
	}
	return false
}

// Reservation is a booking of the instrument by a team. Report is set only
// once the reservation has reached StatusCompleted.
type Reservation struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	StartTime string    `json:"startTime,omitempty"`
	EndTime   string    `json:"endTime,omitempty"`
	Team      string    `json:"team"`
	Status    Status    `json:"status"`
	Report    *Report   `json:"report,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Completion returns the usage report of a completed reservation.
func (r Reservation) Completion() (Report, bool) {
	if r.Status != StatusCompleted || r.Report == nil {
		return Report{}, false
	}
	return *r.Report, true
}

type Report struct {
	Participants     []string          `json:"participants"`
	Target           string            `json:"target,omitempty"`
	Shots            int               `json:"shots"`
	Notes            string            `json:"notes,omitempty"`
	TemporaryMembers []TemporaryMember `json:"temporaryMembers,omitempty"`
}

// TemporaryMember is an ad-hoc participant who does not belong to any team.
type TemporaryMember struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StudentID string `json:"studentId,omitempty"`
}
