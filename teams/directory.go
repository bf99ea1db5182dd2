package teams

import (
	"github.com/aweist/lab-booking/models"
)

// Directory answers "which student id belongs to this participant" for a
// fixed snapshot of teams.
type Directory struct {
	byTeam map[string]map[string]string
}

func NewDirectory(teams []models.Team) *Directory {
	d := &Directory{byTeam: make(map[string]map[string]string, len(teams))}
	for _, t := range teams {
		members := make(map[string]string, len(t.Members))
		for _, m := range t.Members {
			if _, dup := members[m.Name]; !dup {
				members[m.Name] = m.StudentID
			}
		}
		d.byTeam[t.Name] = members
	}
	return d
}

// StudentID looks a participant up by display name within the named team.
// Participants who are not team members, such as temporary members, are not
// found.
func (d *Directory) StudentID(team, participant string) (string, bool) {
	if d == nil {
		return "", false
	}
	id, ok := d.byTeam[team][participant]
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
