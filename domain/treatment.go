package domain

import "time"

// Treatment is one entry in a user's treatment plan.
type Treatment struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Name      string     `json:"treatmentName"`
	Type      string     `json:"treatmentType,omitempty"`
	Dosage    string     `json:"dosage,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	StartDate time.Time  `json:"startDate"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

func (t Treatment) RecordID() string  { return t.ID }
func (t Treatment) Owner() string     { return t.UserID }
func (t Treatment) Anchor() time.Time { return t.StartDate }
