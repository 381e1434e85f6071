package views

import (
	"math"
	"sort"
	"time"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
)

// Metric names selectable for aggregation.
const (
	MetricSeverity = "severity"
	MetricMood     = "mood"
)

// Window is a half-open time interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// LastDays returns the window covering the n days ending at now.
func LastDays(now time.Time, n int) Window {
	return Window{From: now.AddDate(0, 0, -n), To: now}
}

// metricValue extracts one metric from a symptom record. Severity is always
// present; mood only when the notes carry a numeric mood line.
func metricValue(s domain.Symptom, metric string) (float64, bool) {
	switch metric {
	case MetricSeverity:
		return float64(s.Severity), true
	case MetricMood:
		return domain.ParseNotes(s.Notes).MoodScore()
	default:
		return 0, false
	}
}

// round1 rounds to one decimal place.
func round1(v float64) float64 { return math.Round(v*10) / 10 }

// Averages computes the arithmetic mean of each selected metric over the
// symptoms falling inside the window, rounded to one decimal place. Metrics
// with no values in the window are absent from the result rather than zero.
func Averages(symptoms []domain.Symptom, w Window, metrics []string) map[string]float64 {
	sums := make(map[string]float64, len(metrics))
	counts := make(map[string]int, len(metrics))
	for _, s := range symptoms {
		if !w.Contains(s.RecordedAt) {
			continue
		}
		for _, metric := range metrics {
			if v, ok := metricValue(s, metric); ok {
				sums[metric] += v
				counts[metric]++
			}
		}
	}
	out := make(map[string]float64, len(counts))
	for metric, n := range counts {
		if n == 0 {
			continue
		}
		out[metric] = round1(sums[metric] / float64(n))
	}
	return out
}

// DayPoint is one day's aggregate in a chart series.
type DayPoint struct {
	Day     string  `json:"day"` // YYYY-MM-DD
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// DailySeries buckets the windowed symptoms by calendar day (UTC) and
// averages the metric per bucket, returning points in chronological order.
// Days with no values produce no point.
func DailySeries(symptoms []domain.Symptom, w Window, metric string) []DayPoint {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, s := range symptoms {
		if !w.Contains(s.RecordedAt) {
			continue
		}
		v, ok := metricValue(s, metric)
		if !ok {
			continue
		}
		day := s.RecordedAt.UTC().Format("2006-01-02")
		sums[day] += v
		counts[day]++
	}
	out := make([]DayPoint, 0, len(counts))
	for day, n := range counts {
		out = append(out, DayPoint{Day: day, Average: round1(sums[day] / float64(n)), Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}
