package routing

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edflow/backend/internal/models"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func TestRuleBasedPlans(t *testing.T) {
	p := RuleBased{}
	cases := []struct {
		name     string
		patient  models.Patient
		acuity   models.Acuity
		expected []models.ResourceKind
	}{
		{"plain", models.Patient{}, models.Yellow, []models.ResourceKind{models.Doctor, models.Bed}},
		{"red with mri", models.Patient{NeedsMRI: true}, models.Red, []models.ResourceKind{models.Doctor, models.MRI, models.Bed}},
		{"mri flag ignored below red", models.Patient{NeedsMRI: true}, models.Orange, []models.ResourceKind{models.Doctor, models.Bed}},
		{"ultrasound", models.Patient{NeedsUltrasound: true}, models.Green, []models.ResourceKind{models.Doctor, models.Ultrasonic, models.Bed}},
		{"everything", models.Patient{NeedsMRI: true, NeedsUltrasound: true}, models.Red, []models.ResourceKind{models.Doctor, models.MRI, models.Ultrasonic, models.Bed}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := p.Plan(&tc.patient, tc.acuity, nil)
			assert.Equal(t, tc.expected, d.Plan)
			assert.False(t, d.Bypass)
			assert.NotEmpty(t, d.Logic)
		})
	}
}

func TestRuleBasedTotality(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 500; i++ {
		p := models.Patient{NeedsMRI: rng.Float64() < 0.5, NeedsUltrasound: rng.Float64() < 0.2}
		a := models.Acuities[rng.IntN(models.NumAcuities)]
		plan := RuleBased{}.Plan(&p, a, rng).Plan
		require.NotEmpty(t, plan)
		require.Equal(t, models.Bed, plan[len(plan)-1])
	}
}

func TestStochasticBypass(t *testing.T) {
	urgent := models.Patient{NeedsMRI: true, NeedsUltrasound: true}

	always := NewSingleStochastic(1.0).Plan(&urgent, models.Red, fixedRand(0.999))
	assert.True(t, always.Bypass)
	assert.Equal(t, []models.ResourceKind{models.MRI, models.Doctor, models.Ultrasonic, models.Bed}, always.Plan)
	assert.True(t, IsBypass(always.Plan))

	never := NewSingleStochastic(0.0).Plan(&urgent, models.Red, fixedRand(0))
	assert.False(t, never.Bypass)
	assert.Equal(t, models.Doctor, never.Plan[0])

	ensemble := NewEnsembleStochastic(0.7)
	assert.True(t, ensemble.Plan(&urgent, models.Red, fixedRand(0.69)).Bypass)
	assert.False(t, ensemble.Plan(&urgent, models.Red, fixedRand(0.71)).Bypass)
}

type countingRand struct{ calls int }

func (c *countingRand) Float64() float64 { c.calls++; return 0 }

func TestStochasticOnlyDrawsForUrgentMRI(t *testing.T) {
	rng := &countingRand{}
	policy := NewSingleStochastic(0.8)

	d := policy.Plan(&models.Patient{NeedsMRI: true}, models.Orange, rng)
	assert.Zero(t, rng.calls)
	assert.Equal(t, []models.ResourceKind{models.Doctor, models.Bed}, d.Plan)

	policy.Plan(&models.Patient{NeedsMRI: true}, models.Red, rng)
	assert.Equal(t, 1, rng.calls)
}

func TestParsePolicy(t *testing.T) {
	for _, name := range PolicyNames {
		p, err := ParsePolicy(name, 0.8, 0.7)
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
	}

	p, err := ParsePolicy("Ensemble", 0.8, 0.7)
	require.NoError(t, err)
	assert.Equal(t, 0.7, p.(Stochastic).Accuracy)

	_, err = ParsePolicy("oracle", 0.8, 0.7)
	require.Error(t, err)
	assert.True(t, models.IsConfigError(err))
}
