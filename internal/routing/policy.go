package routing

import (
	"strings"

	"github.com/edflow/backend/internal/models"
)

const (
	PolicyRuleBased          = "rule-based"
	PolicySingleStochastic   = "single-stochastic"
	PolicyEnsembleStochastic = "ensemble-stochastic"
)

// PolicyNames lists the accepted policy names.
var PolicyNames = []string{PolicyRuleBased, PolicySingleStochastic, PolicyEnsembleStochastic}

// RandomSource is the only state a policy may consume.
type RandomSource interface {
	Float64() float64
}

// Decision is a plan together with a short description of why it was chosen.
type Decision struct {
	Plan   []models.ResourceKind
	Logic  string
	Bypass bool
}

// Policy turns a triaged patient into an ordered task plan.
type Policy interface {
	Name() string
	Plan(p *models.Patient, acuity models.Acuity, rng RandomSource) Decision
}

// RuleBased always sees a doctor first and finishes in a bed.
type RuleBased struct{}

func (RuleBased) Name() string { return PolicyRuleBased }

func (RuleBased) Plan(p *models.Patient, acuity models.Acuity, _ RandomSource) Decision {
	return Decision{
		Plan:  standardPlan(p, acuity),
		Logic: "rule: doctor first, imaging as flagged, bed last",
	}
}

// Stochastic sends urgent MRI cases straight to imaging with probability
// Accuracy. Other patients follow the rule-based plan.
type Stochastic struct {
	Label    string
	Accuracy float64
}

func NewSingleStochastic(alpha float64) Stochastic {
	return Stochastic{Label: PolicySingleStochastic, Accuracy: alpha}
}

func NewEnsembleStochastic(beta float64) Stochastic {
	return Stochastic{Label: PolicyEnsembleStochastic, Accuracy: beta}
}

func (s Stochastic) Name() string { return s.Label }

func (s Stochastic) Plan(p *models.Patient, acuity models.Acuity, rng RandomSource) Decision {
	if acuity != models.Red || !p.NeedsMRI {
		return Decision{
			Plan:  standardPlan(p, acuity),
			Logic: s.Label + ": no urgent imaging, standard route",
		}
	}
	if rng.Float64() < s.Accuracy {
		plan := []models.ResourceKind{models.MRI, models.Doctor}
		if p.NeedsUltrasound {
			plan = append(plan, models.Ultrasonic)
		}
		return Decision{
			Plan:   append(plan, models.Bed),
			Logic:  s.Label + ": urgent MRI bypass",
			Bypass: true,
		}
	}
	return Decision{
		Plan:  standardPlan(p, acuity),
		Logic: s.Label + ": urgent MRI routed via doctor",
	}
}

func standardPlan(p *models.Patient, acuity models.Acuity) []models.ResourceKind {
	plan := []models.ResourceKind{models.Doctor}
	if acuity == models.Red && p.NeedsMRI {
		plan = append(plan, models.MRI)
	}
	if p.NeedsUltrasound {
		plan = append(plan, models.Ultrasonic)
	}
	return append(plan, models.Bed)
}

// ParsePolicy builds the policy registered under name.
func ParsePolicy(name string, alpha, beta float64) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PolicyRuleBased, "rule", "rules":
		return RuleBased{}, nil
	case PolicySingleStochastic, "single":
		return NewSingleStochastic(alpha), nil
	case PolicyEnsembleStochastic, "ensemble":
		return NewEnsembleStochastic(beta), nil
	default:
		return nil, &models.ConfigError{Field: "policy", Value: name, Reason: "unknown routing policy"}
	}
}

// IsBypass reports whether plan sends the patient to MRI before anything else.
func IsBypass(plan []models.ResourceKind) bool {
	return len(plan) > 0 && plan[0] == models.MRI
}

func Contains(plan []models.ResourceKind, kind models.ResourceKind) bool {
	for _, k := range plan {
		if k == kind {
			return true
		}
	}
	return false
}
