package domain

import (
	"strconv"
	"strings"
)

// ParsedNotes holds structured sub-fields extracted from a free-text notes
// value plus the remaining display text.
type ParsedNotes struct {
	Mood     string
	Location string
	Display  string
}

const (
	moodPrefix     = "mood:"
	locationPrefix = "location:"
)

// ParseNotes scans raw for `Key: value` lines. Recognized keys (Mood,
// Location; case-insensitive) are extracted and their lines stripped from the
// display text; everything else passes through untouched. The last occurrence
// of a recognized key wins. ParseNotes never fails: malformed input is simply
// display text.
func ParseNotes(raw string) ParsedNotes {
	if raw == "" {
		return ParsedNotes{}
	}
	var p ParsedNotes
	var display []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, moodPrefix):
			p.Mood = strings.TrimSpace(trimmed[len(moodPrefix):])
		case strings.HasPrefix(lower, locationPrefix):
			p.Location = strings.TrimSpace(trimmed[len(locationPrefix):])
		default:
			display = append(display, line)
		}
	}
	p.Display = strings.TrimSpace(strings.Join(display, "\n"))
	return p
}

// MoodScore returns the mood as a numeric metric value when the recorded
// mood is a number, e.g. "Mood: 7". Non-numeric moods carry no score.
func (p ParsedNotes) MoodScore() (float64, bool) {
	if p.Mood == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(p.Mood, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
