// Package views computes presentation projections from store snapshots.
// Everything here is a pure, synchronous function of its inputs.
package views

import (
	"strings"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
)

// Category is a symptom display group.
type Category string

const (
	CategoryPhysical     Category = "physical"
	CategoryDigestive    Category = "digestive"
	CategoryNeurological Category = "neurological"
	CategoryEmotional    Category = "emotional"
	CategoryOther        Category = "other"
)

// Categories lists the groups in display order.
var Categories = []Category{
	CategoryPhysical,
	CategoryDigestive,
	CategoryNeurological,
	CategoryEmotional,
	CategoryOther,
}

// categoryKeywords maps symptom-name keywords to their category. The tables
// are disjoint; membership is decided on the lowercased name containing a
// keyword, first matching category in Categories order wins.
var categoryKeywords = map[Category][]string{
	CategoryPhysical:     {"pain", "fatigue", "weakness", "numbness", "swelling", "fever", "rash"},
	CategoryDigestive:    {"nausea", "vomiting", "appetite", "diarrhea", "constipation", "bloating"},
	CategoryNeurological: {"headache", "dizziness", "confusion", "memory", "tingling", "seizure"},
	CategoryEmotional:    {"anxiety", "depression", "stress", "insomnia", "mood", "irritability"},
}

// Categorize assigns exactly one category to a symptom name. The mapping is
// total and deterministic; names matching no keyword map to CategoryOther.
func Categorize(name string) Category {
	lower := strings.ToLower(name)
	for _, cat := range Categories {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return CategoryOther
}

// ByCategory groups symptoms into their categories, preserving the input
// order within each group. Every category key is present in the result.
func ByCategory(symptoms []domain.Symptom) map[Category][]domain.Symptom {
	out := make(map[Category][]domain.Symptom, len(Categories))
	for _, cat := range Categories {
		out[cat] = []domain.Symptom{}
	}
	for _, s := range symptoms {
		cat := Categorize(s.Name)
		out[cat] = append(out[cat], s)
	}
	return out
}
