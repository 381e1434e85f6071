package views

import (
	"time"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
)

// SymptomView is one symptom decorated for display: its category plus the
// mood/location sub-fields unpacked from the notes text.
type SymptomView struct {
	domain.Symptom
	Category Category `json:"category"`
	Mood     string   `json:"mood,omitempty"`
	Location string   `json:"location,omitempty"`
	// Notes is shadowed with the display text, known-prefix lines stripped.
	Notes string `json:"notes,omitempty"`
}

// PostView is a blog post with its HTML body sanitized.
type PostView struct {
	domain.BlogPost
	Content string `json:"content"`
}

// Projection is the full presentation state pushed to a connected client.
type Projection struct {
	Symptoms     []SymptomView              `json:"symptoms"`
	Categories   map[Category][]SymptomView `json:"categories"`
	Trends       map[string]float64         `json:"trends"`
	SeverityDays []DayPoint                 `json:"severityDays"`
	Treatments   []domain.Treatment         `json:"treatments"`
	Appointments []domain.Appointment       `json:"appointments"`
	Posts        []PostView                 `json:"posts"`
}

// trendDays is the chart window pushed with every projection.
const trendDays = 7

// BuildSymptomView decorates a single symptom record.
func BuildSymptomView(s domain.Symptom) SymptomView {
	parsed := domain.ParseNotes(s.Notes)
	return SymptomView{
		Symptom:  s,
		Category: Categorize(s.Name),
		Mood:     parsed.Mood,
		Location: parsed.Location,
		Notes:    parsed.Display,
	}
}

// Build assembles the projection for one client from sorted store snapshots.
// It never mutates its inputs.
func Build(now time.Time, symptoms []domain.Symptom, treatments []domain.Treatment, appointments []domain.Appointment, posts []domain.BlogPost) Projection {
	sv := make([]SymptomView, 0, len(symptoms))
	for _, s := range symptoms {
		sv = append(sv, BuildSymptomView(s))
	}

	cats := make(map[Category][]SymptomView, len(Categories))
	for _, cat := range Categories {
		cats[cat] = []SymptomView{}
	}
	for _, v := range sv {
		cats[v.Category] = append(cats[v.Category], v)
	}

	window := LastDays(now, trendDays)
	pv := make([]PostView, 0, len(posts))
	for _, p := range posts {
		pv = append(pv, PostView{BlogPost: p, Content: SanitizePostHTML(p.Content)})
	}

	return Projection{
		Symptoms:     sv,
		Categories:   cats,
		Trends:       Averages(symptoms, window, []string{MetricSeverity, MetricMood}),
		SeverityDays: DailySeries(symptoms, window, MetricSeverity),
		Treatments:   treatments,
		Appointments: appointments,
		Posts:        pv,
	}
}
