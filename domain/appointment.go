package domain

import "time"

// Appointment is a scheduled visit with a provider.
type Appointment struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Provider    string    `json:"provider,omitempty"`
	Location    string    `json:"location,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

func (a Appointment) RecordID() string  { return a.ID }
func (a Appointment) Owner() string     { return a.UserID }
func (a Appointment) Anchor() time.Time { return a.ScheduledAt }
