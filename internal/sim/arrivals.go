package sim

import (
	"fmt"
	"math/rand/v2"

	"github.com/edflow/backend/internal/models"
	"github.com/edflow/backend/internal/triage"
)

// PresentingWeights is the mix of presenting classes R, O, Y, G, B.
var PresentingWeights = [models.NumAcuities]float64{0.10, 0.15, 0.25, 0.25, 0.25}

const (
	mriProbability        = 0.5
	ultrasoundProbability = 0.2
	maxSymptoms           = 3
)

var histories = []string{
	"",
	"",
	"no significant history",
	"asthma",
	"hypertension",
	"heart disease",
	"type 2 diabetes",
	"previous surgery",
	"chronic kidney disease",
	"cancer in remission",
}

// NewRand returns the generator every stochastic decision of a run draws from.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// interArrival draws the gap to the next arrival in minutes.
func interArrival(rng *rand.Rand, ratePerHour float64) float64 {
	return rng.ExpFloat64() * 60 / ratePerHour
}

func samplePresenting(rng *rand.Rand) models.Acuity {
	u := rng.Float64()
	acc := 0.0
	for _, a := range models.Acuities {
		acc += PresentingWeights[a]
		if u < acc {
			return a
		}
	}
	return models.Blue
}

// arrival holds a new patient and the raw imaging draws; needs_mri only
// applies once triage has confirmed a red class.
type arrival struct {
	patient    *models.Patient
	presenting models.Acuity
	mriDraw    bool
}

// newPatient synthesises a patient whose symptoms come from the keyword table
// of a sampled presenting class. Only keywords that classify back to that
// class are drawn ("mild rash" matches yellow's "rash" first), so triage
// returns the presenting class and the configured mix holds after triage.
func newPatient(rng *rand.Rand, engine *triage.Engine, id int, now float64) arrival {
	presenting := samplePresenting(rng)
	keywords := engine.KeywordsFor(presenting)

	symptoms := models.NewSymptomSet()
	if len(keywords) > 0 {
		n := 1 + rng.IntN(maxSymptoms)
		for _, idx := range rng.Perm(len(keywords)) {
			if symptoms.Len() == n {
				break
			}
			if engine.ClassifySymptom(keywords[idx]).Class != presenting {
				continue
			}
			symptoms.Add(keywords[idx])
		}
	}
	history := histories[rng.IntN(len(histories))]
	mri := rng.Float64() < mriProbability
	ultrasound := rng.Float64() < ultrasoundProbability

	return arrival{
		patient: &models.Patient{
			ID:              id,
			Name:            fmt.Sprintf("Patient %d", id),
			Symptoms:        symptoms,
			History:         history,
			NeedsUltrasound: ultrasound,
			ArrivedAt:       now,
		},
		presenting: presenting,
		mriDraw:    mri,
	}
}
