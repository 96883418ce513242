package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edflow/backend/internal/models"
)

func patient(history string, symptoms ...string) *models.Patient {
	return &models.Patient{ID: 1, Symptoms: models.NewSymptomSet(symptoms...), History: history}
}

func TestTriageBoundaries(t *testing.T) {
	e := NewEngine()

	cases := []struct {
		name     string
		p        *models.Patient
		expected models.Acuity
	}{
		{"empty symptoms", patient(""), models.Blue},
		{"cardiac arrest", patient("", "cardiac arrest"), models.Red},
		{"heart history does not invent mass", patient("history of heart failure", "mild pain"), models.Green},
		{"four orange symptoms", patient("", "chest pain", "severe headache", "high fever", "difficulty breathing"), models.Orange},
		{"empty set beats history rule", patient("chronic heart disease"), models.Blue},
		{"unmatched symptom falls to green", patient("", "itchy elbow"), models.Green},
		{"red and orange pair goes red", patient("", "cardiac arrest", "chest pain"), models.Red},
		{"case and whitespace are normalised", patient("", "  Cardiac ARREST "), models.Red},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, e.Triage(tc.p))
		})
	}
}

func TestClassifySymptomOrder(t *testing.T) {
	e := NewEngine()

	m := e.ClassifySymptom("severe headache")
	assert.Equal(t, models.Orange, m.Class, "orange is checked before yellow's headache")
	assert.Equal(t, 0.8, m.Weight)

	m = e.ClassifySymptom("minor headache")
	assert.Equal(t, models.Yellow, m.Class, "headache substring matches yellow first")

	m = e.ClassifySymptom("fatigue")
	assert.Equal(t, models.Blue, m.Class)
	assert.Equal(t, 0.2, m.Weight)

	m = e.ClassifySymptom("something else")
	assert.Equal(t, models.Green, m.Class)
	assert.Zero(t, m.Weight)
	assert.Empty(t, m.Keyword)
}

func TestSymptomSetCoalescesDuplicates(t *testing.T) {
	p := patient("", "Fever", "fever ", "FEVER")
	require.Equal(t, 1, p.Symptoms.Len())

	exp := NewEngine().Explain(p)
	assert.Equal(t, models.Yellow, exp.Chosen)
	assert.InDelta(t, 1.0, exp.Raw[models.Yellow], 1e-12)
}

func TestAggregateNormalises(t *testing.T) {
	s := Aggregate([]Match{
		{Class: models.Red, Weight: 1.0},
		{Class: models.Orange, Weight: 0.8},
	})
	assert.InDelta(t, 1.0, s.Sum(), 1e-12)
	assert.InDelta(t, 1.0/1.8, s[models.Red], 1e-12)

	zero := Aggregate([]Match{{Class: models.Green, Weight: 0}})
	assert.Zero(t, zero.Sum(), "zero vector is not normalised")

	empty := Aggregate(nil)
	assert.Equal(t, Scores{models.Blue: 1.0}, empty)
}

func TestAdjustRules(t *testing.T) {
	base := Scores{0.25, 0.25, 0.25, 0.25, 0}

	many := Adjust(base, 4, "")
	assert.Greater(t, many[models.Red], many[models.Yellow])
	assert.Greater(t, many[models.Orange], many[models.Yellow])
	assert.InDelta(t, 1.0, many.Sum(), 1e-12)

	few := Adjust(base, 2, "")
	assert.Greater(t, few[models.Orange], few[models.Yellow])
	assert.Greater(t, few[models.Yellow], few[models.Red])

	hist := Adjust(base, 1, "Prior SURGERY")
	assert.Greater(t, hist[models.Red], hist[models.Orange])
	assert.Greater(t, hist[models.Orange], hist[models.Yellow])

	zero := Adjust(Scores{}, 2, "heart")
	assert.Equal(t, Scores{models.Green: 1.0}, zero)
}

func TestDefuzzify(t *testing.T) {
	assert.Equal(t, models.Yellow, Defuzzify(Scores{0, 0.1, 0.8, 0.1, 0}))
	// medium confidence with a strong, more urgent runner-up
	assert.Equal(t, models.Orange, Defuzzify(Scores{0, 0.35, 0.6, 0.05, 0}))
	// medium confidence with a weak runner-up
	assert.Equal(t, models.Yellow, Defuzzify(Scores{0, 0.2, 0.6, 0.2, 0}))
	// runner-up less urgent keeps the winner
	assert.Equal(t, models.Orange, Defuzzify(Scores{0, 0.6, 0.4, 0, 0}))
	// low confidence falls back to green
	assert.Equal(t, models.Green, Defuzzify(Scores{0.45, 0.45, 0.1, 0, 0}))
	// 0.5 is not above the medium threshold
	assert.Equal(t, models.Green, Defuzzify(Scores{0.5, 0.5, 0, 0, 0}))
}

func TestTriageIdempotent(t *testing.T) {
	e := NewEngine()
	p := patient("diabetes", "abdominal pain", "nausea", "chest pain")
	first := e.Triage(p)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, e.Triage(p))
	}
}

func TestTriageMonotoneUnderMoreUrgentSymptom(t *testing.T) {
	e := NewEngine()
	var all []string
	for _, a := range models.Acuities {
		all = append(all, e.KeywordsFor(a)...)
	}

	for _, history := range []string{"", "heart condition"} {
		for _, base := range all {
			baseClass := e.ClassifySymptom(base).Class
			before := e.Triage(patient(history, base))
			for _, extra := range all {
				if !e.ClassifySymptom(extra).Class.MoreUrgent(baseClass) {
					continue
				}
				after := e.Triage(patient(history, base, extra))
				assert.False(t, before.MoreUrgent(after),
					"adding %q to %q lowered %s to %s (history=%q)", extra, base, before, after, history)
			}
		}
	}
}

func TestExplainKeepsMatches(t *testing.T) {
	exp := NewEngine().Explain(patient("", "sore throat", "cough"))
	require.Len(t, exp.Matches, 2)
	assert.Equal(t, "cough", exp.Matches[0].Symptom)
	assert.Equal(t, models.Yellow, exp.Matches[0].Class)
	assert.Equal(t, "sore throat", exp.Matches[1].Symptom)
	assert.Equal(t, models.Green, exp.Matches[1].Class)
	assert.InDelta(t, 1.0, exp.Adjusted.Sum(), 1e-12)

	scores := exp.Adjusted.ScoreMap()
	assert.Len(t, scores, 5)
	assert.Contains(t, scores, "yellow")
}

func TestCustomKeywords(t *testing.T) {
	e := NewEngineWithKeywords(Keywords{models.Red: {" Gunshot "}})
	assert.Equal(t, models.Red, e.Triage(patient("", "gunshot wound")))
	assert.Equal(t, models.Green, e.Triage(patient("", "cardiac arrest")))
}
