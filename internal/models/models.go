package models

import (
	"sort"
	"strings"
)

// Acuity is a Manchester triage class. Lower values are more urgent.
type Acuity int

const (
	Red Acuity = iota
	Orange
	Yellow
	Green
	Blue
)

// NumAcuities is the number of triage classes.
const NumAcuities = 5

// Acuities lists every class in priority order R, O, Y, G, B.
var Acuities = [NumAcuities]Acuity{Red, Orange, Yellow, Green, Blue}

type acuityInfo struct {
	code        string
	label       string
	name        string
	maxWait     int
	description string
}

var acuityTable = [NumAcuities]acuityInfo{
	{"R", "red", "Immediate", 0, "Life-threatening; resuscitation required now"},
	{"O", "orange", "Very Urgent", 10, "Risk to life or limb; seen within 10 minutes"},
	{"Y", "yellow", "Urgent", 60, "Serious but stable; seen within the hour"},
	{"G", "green", "Standard", 120, "Minor illness or injury"},
	{"B", "blue", "Non-Urgent", 240, "Could be managed outside the emergency department"},
}

func (a Acuity) Valid() bool { return a >= Red && a <= Blue }

// Rank is the position in the class order; 0 is the most urgent.
func (a Acuity) Rank() int { return int(a) }

func (a Acuity) String() string {
	if !a.Valid() {
		return "?"
	}
	return acuityTable[a].code
}

// Label is the lowercase wire name used in the event log.
func (a Acuity) Label() string {
	if !a.Valid() {
		return ""
	}
	return acuityTable[a].label
}

// DisplayName is the Manchester category name.
func (a Acuity) DisplayName() string {
	if !a.Valid() {
		return ""
	}
	return acuityTable[a].name
}

// MaxWait is the target maximum wait in minutes.
func (a Acuity) MaxWait() int {
	if !a.Valid() {
		return 0
	}
	return acuityTable[a].maxWait
}

func (a Acuity) Description() string {
	if !a.Valid() {
		return ""
	}
	return acuityTable[a].description
}

// MoreUrgent reports whether a is strictly more urgent than b.
func (a Acuity) MoreUrgent(b Acuity) bool { return a < b }

// Bump returns the class one band more urgent, clamped at Red.
func (a Acuity) Bump() Acuity {
	if a <= Red {
		return Red
	}
	return a - 1
}

// ParseAcuity accepts a short code (R) or a label (red), case-insensitively.
func ParseAcuity(s string) (Acuity, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, a := range Acuities {
		if v == strings.ToLower(acuityTable[a].code) || v == acuityTable[a].label {
			return a, nil
		}
	}
	return Blue, &ConfigError{Field: "acuity", Value: s, Reason: "unknown acuity class"}
}

// ResourceKind names a class of finite-capacity server.
type ResourceKind string

const (
	Doctor     ResourceKind = "doctor"
	MRI        ResourceKind = "mri"
	Ultrasonic ResourceKind = "ultrasonic"
	Bed        ResourceKind = "bed"
)

// ResourceKinds lists every kind in the order resources are built and reported.
var ResourceKinds = []ResourceKind{Doctor, MRI, Ultrasonic, Bed}

// SymptomSet is an unordered set of normalised symptom strings.
type SymptomSet map[string]struct{}

func NormalizeSymptom(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func NewSymptomSet(symptoms ...string) SymptomSet {
	set := make(SymptomSet, len(symptoms))
	for _, s := range symptoms {
		set.Add(s)
	}
	return set
}

func (s SymptomSet) Add(symptom string) {
	v := NormalizeSymptom(symptom)
	if v == "" {
		return
	}
	s[v] = struct{}{}
}

func (s SymptomSet) Contains(symptom string) bool {
	_, ok := s[NormalizeSymptom(symptom)]
	return ok
}

func (s SymptomSet) Len() int { return len(s) }

// Sorted returns the symptoms in lexical order.
func (s SymptomSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// TaskRecord holds the timestamps of one task in a patient's plan.
// Started and Finished are negative until the event happens.
type TaskRecord struct {
	Kind      ResourceKind `json:"kind"`
	Requested float64      `json:"requested"`
	Started   float64      `json:"started"`
	Finished  float64      `json:"finished"`
	Bumped    bool         `json:"bumped,omitempty"`
}

type Patient struct {
	ID              int            `json:"id"`
	Name            string         `json:"name"`
	Symptoms        SymptomSet     `json:"-"`
	History         string         `json:"history"`
	Acuity          Acuity         `json:"-"`
	Triaged         bool           `json:"triaged"`
	NeedsMRI        bool           `json:"needs_mri"`
	NeedsUltrasound bool           `json:"needs_ultrasound"`
	Plan            []ResourceKind `json:"plan"`
	Tasks           []TaskRecord   `json:"tasks"`
	ArrivedAt       float64        `json:"arrived_at"`

	// CurrentResource is the ID of the resource the patient is queued at or
	// being served by; empty when the patient is between tasks.
	CurrentResource string `json:"current_resource,omitempty"`
	Bumped          bool   `json:"bumped,omitempty"`
}

// CurrentTask returns the latest task record, or nil before the first request.
func (p *Patient) CurrentTask() *TaskRecord {
	if len(p.Tasks) == 0 {
		return nil
	}
	return &p.Tasks[len(p.Tasks)-1]
}

// UrgentMRI reports whether the patient is a red case that needs imaging.
func (p *Patient) UrgentMRI() bool {
	return p.Triaged && p.Acuity == Red && p.NeedsMRI
}
