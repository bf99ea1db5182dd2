package models

import (
	"time"
)

type Color struct {
	Fill   string `json:"fill"`
	Border string `json:"border"`
}

type Team struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Members   []TeamMember `json:"members"`
	Color     *Color       `json:"color,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type TeamMember struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StudentID string `json:"studentId"`
}

// Member returns the member with the given display name.
func (t Team) Member(name string) (TeamMember, bool) {
	for _, m := range t.Members {
		if m.Name == name {
			return m, true
		}
	}
	return TeamMember{}, false
}
