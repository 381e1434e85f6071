package domain

import "time"

// Symptom is one logged symptom occurrence.
type Symptom struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Name       string    `json:"symptomName"`
	Severity   int       `json:"severity"`
	Notes      string    `json:"notes,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (s Symptom) RecordID() string  { return s.ID }
func (s Symptom) Owner() string     { return s.UserID }
func (s Symptom) Anchor() time.Time { return s.RecordedAt }
