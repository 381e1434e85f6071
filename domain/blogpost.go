package domain

import "time"

// BlogPost is an educational content entry. Posts are globally visible and
// carry HTML bodies that must be sanitized before they reach a projection.
type BlogPost struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	Content     string    `json:"content"`
	Tags        []string  `json:"tags,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

func (p BlogPost) RecordID() string  { return p.ID }
func (p BlogPost) Owner() string     { return "" }
func (p BlogPost) Anchor() time.Time { return p.PublishedAt }
