// Package triage converts symptoms and history into a Manchester acuity
// class with weighted keyword matching and a small set of fuzzy rules.
//
// The pipeline is four pure steps: ClassifySymptom, Aggregate, Adjust and
// Defuzzify. Engine wires them together and never fails.
package triage

import (
	"strings"

	"github.com/edflow/backend/internal/models"
)

type Engine struct {
	keywords Keywords
}

func NewEngine() *Engine {
	return &Engine{keywords: DefaultKeywords}
}

// NewEngineWithKeywords builds an engine over a custom table. The table is
// copied and normalised.
func NewEngineWithKeywords(k Keywords) *Engine {
	var table Keywords
	for i := range k {
		for _, kw := range k[i] {
			if v := models.NormalizeSymptom(kw); v != "" {
				table[i] = append(table[i], v)
			}
		}
	}
	return &Engine{keywords: table}
}

// Match records how one symptom was classified.
type Match struct {
	Symptom string        `json:"symptom"`
	Keyword string        `json:"keyword,omitempty"`
	Class   models.Acuity `json:"-"`
	Weight  float64       `json:"weight"`
}

type Explanation struct {
	Raw      Scores
	Adjusted Scores
	Chosen   models.Acuity
	Matches  []Match
}

// ScoreMap returns the scores keyed by wire label.
func (s Scores) ScoreMap() map[string]float64 {
	out := make(map[string]float64, models.NumAcuities)
	for _, a := range models.Acuities {
		out[a.Label()] = s[a]
	}
	return out
}

func (s Scores) Sum() float64 {
	total := 0.0
	for _, v := range s {
		total += v
	}
	return total
}

// Normalize scales s to unit sum. A zero vector is returned unchanged.
func (s Scores) Normalize() Scores {
	total := s.Sum()
	if total == 0 {
		return s
	}
	for i := range s {
		s[i] /= total
	}
	return s
}

// Triage returns the acuity class for p.
func (e *Engine) Triage(p *models.Patient) models.Acuity {
	return e.Explain(p).Chosen
}

// Explain runs the full pipeline and keeps the intermediate vectors.
func (e *Engine) Explain(p *models.Patient) Explanation {
	if p == nil || p.Symptoms.Len() == 0 {
		empty := Scores{models.Blue: 1.0}
		return Explanation{Raw: empty, Adjusted: empty, Chosen: models.Blue}
	}

	symptoms := p.Symptoms.Sorted()
	matches := make([]Match, 0, len(symptoms))
	for _, s := range symptoms {
		matches = append(matches, e.ClassifySymptom(s))
	}
	raw := Aggregate(matches)
	adjusted := Adjust(raw, len(symptoms), p.History)
	return Explanation{
		Raw:      raw,
		Adjusted: adjusted,
		Chosen:   Defuzzify(adjusted),
		Matches:  matches,
	}
}

// ClassifySymptom finds the first class, in urgency order, holding a keyword
// contained in the symptom. Unmatched symptoms go to Green with weight 0.
func (e *Engine) ClassifySymptom(symptom string) Match {
	s := models.NormalizeSymptom(symptom)
	for _, a := range models.Acuities {
		for _, kw := range e.keywords[a] {
			if strings.Contains(s, kw) {
				return Match{Symptom: s, Keyword: kw, Class: a, Weight: ClassWeights[a]}
			}
		}
	}
	return Match{Symptom: s, Class: models.Green, Weight: 0}
}

// Aggregate sums match weights per class and normalises to unit sum.
func Aggregate(matches []Match) Scores {
	if len(matches) == 0 {
		return Scores{models.Blue: 1.0}
	}
	var s Scores
	for _, m := range matches {
		s[m.Class] += m.Weight
	}
	return s.Normalize()
}

// Adjust applies the contextual rules to a normalised vector and
// renormalises the result.
func Adjust(s Scores, symptomCount int, history string) Scores {
	switch {
	case symptomCount > 3:
		s[models.Red] *= 1.2
		s[models.Orange] *= 1.1
	case symptomCount > 1:
		s[models.Orange] *= 1.1
		s[models.Yellow] *= 1.05
	}

	if hasRiskHistory(history) {
		s[models.Red] *= 1.1
		s[models.Orange] *= 1.05
	}

	if s.Sum() == 0 {
		s[models.Green] = 1.0
	}
	return s.Normalize()
}

// Defuzzify picks a class from an adjusted vector.
func Defuzzify(s Scores) models.Acuity {
	best := argmax(s, -1)
	m := s[best]
	if m > highConfidence {
		return best
	}
	if m > mediumConfidence {
		second := argmax(s, best)
		if s[second] > runnerUpFloor && second.MoreUrgent(best) {
			return second
		}
		return best
	}
	return models.Green
}

// argmax returns the highest-scoring class, skipping exclude. Ties go to the
// more urgent class.
func argmax(s Scores, exclude models.Acuity) models.Acuity {
	best := models.Acuity(-1)
	for _, a := range models.Acuities {
		if a == exclude {
			continue
		}
		if best < 0 || s[a] > s[best] {
			best = a
		}
	}
	return best
}

func hasRiskHistory(history string) bool {
	h := strings.ToLower(history)
	for _, term := range HistoryRiskTerms {
		if strings.Contains(h, term) {
			return true
		}
	}
	return false
}

// KeywordsFor returns the keyword list of one class.
func (e *Engine) KeywordsFor(a models.Acuity) []string {
	if !a.Valid() {
		return nil
	}
	return append([]string(nil), e.keywords[a]...)
}
