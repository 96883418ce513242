package resource

import (
	"fmt"
	"math"

	"github.com/edflow/backend/internal/models"
)

// Occupant is a patient currently being served.
type Occupant struct {
	Patient *models.Patient
	Acuity  models.Acuity
	Start   float64
	Finish  float64
}

// Resource is a finite-capacity server with one FIFO queue per acuity class.
// It is not safe for concurrent use; the scheduler owns it.
type Resource struct {
	ID          string
	Name        string
	Kind        models.ResourceKind
	Capacity    int
	MeanService float64
	Preemptive  bool

	queues  [models.NumAcuities][]*models.Patient
	serving []*Occupant

	busy float64
}

func New(id, name string, kind models.ResourceKind, capacity int, meanService float64) (*Resource, error) {
	if capacity < 1 {
		return nil, &models.ConfigError{Field: string(kind) + ".capacity", Value: capacity, Reason: "capacity must be at least 1"}
	}
	if meanService <= 0 || math.IsNaN(meanService) || math.IsInf(meanService, 0) {
		return nil, &models.ConfigError{Field: string(kind) + ".mean_service", Value: meanService, Reason: "mean service time must be positive"}
	}
	return &Resource{
		ID:          id,
		Name:        name,
		Kind:        kind,
		Capacity:    capacity,
		MeanService: meanService,
	}, nil
}

func (r *Resource) Available() bool { return len(r.serving) < r.Capacity }

func (r *Resource) InUse() int { return len(r.serving) }

// Enqueue appends p to the queue of class a and returns its 1-based position
// in service order across all classes.
func (r *Resource) Enqueue(p *models.Patient, a models.Acuity) (int, error) {
	if !a.Valid() {
		return 0, fmt.Errorf("enqueue patient %d at %s with class %d: %w", p.ID, r.ID, int(a), models.ErrNoOp)
	}
	if p.CurrentResource != "" && p.CurrentResource != r.ID {
		return 0, r.violation(p, "patient already held by "+p.CurrentResource)
	}
	if r.isQueued(p) || r.isServing(p) {
		return 0, r.violation(p, "patient enqueued twice")
	}
	r.queues[a] = append(r.queues[a], p)
	p.CurrentResource = r.ID
	return r.position(a), nil
}

func (r *Resource) position(a models.Acuity) int {
	pos := 0
	for c := models.Red; c <= a; c++ {
		pos += len(r.queues[c])
	}
	return pos
}

// DequeueNext pops the head of the most urgent non-empty queue.
func (r *Resource) DequeueNext() *models.Patient {
	for _, a := range models.Acuities {
		if q := r.queues[a]; len(q) > 0 {
			p := q[0]
			q[0] = nil
			r.queues[a] = q[1:]
			return p
		}
	}
	return nil
}

// PeekNext returns the patient DequeueNext would return, and its class.
func (r *Resource) PeekNext() (*models.Patient, models.Acuity) {
	for _, a := range models.Acuities {
		if q := r.queues[a]; len(q) > 0 {
			return q[0], a
		}
	}
	return nil, models.Blue
}

// Remove drops p from whichever class queue holds it.
func (r *Resource) Remove(p *models.Patient) error {
	for _, a := range models.Acuities {
		q := r.queues[a]
		for i, w := range q {
			if w == p {
				r.queues[a] = append(q[:i:i], q[i+1:]...)
				p.CurrentResource = ""
				return nil
			}
		}
	}
	return fmt.Errorf("remove patient %d from %s: %w", p.ID, r.ID, models.ErrNoOp)
}

// BeginService moves p into the serving set until now+serviceTime.
func (r *Resource) BeginService(p *models.Patient, a models.Acuity, now, serviceTime float64) (*Occupant, error) {
	if !r.Available() {
		return nil, r.violation(p, "begin service over capacity")
	}
	if p.CurrentResource != "" && p.CurrentResource != r.ID {
		return nil, r.violation(p, "patient already held by "+p.CurrentResource)
	}
	if r.isQueued(p) {
		return nil, r.violation(p, "patient served while still queued")
	}
	if r.isServing(p) {
		return nil, r.violation(p, "patient served twice")
	}
	occ := &Occupant{Patient: p, Acuity: a, Start: now, Finish: now + serviceTime}
	r.serving = append(r.serving, occ)
	p.CurrentResource = r.ID
	return occ, nil
}

// EndService removes p from the serving set and clears its resource tag.
// The time served up to now is added to the busy total.
func (r *Resource) EndService(p *models.Patient, now float64) (*Occupant, error) {
	for i, occ := range r.serving {
		if occ.Patient == p {
			r.serving = append(r.serving[:i:i], r.serving[i+1:]...)
			r.busy += now - occ.Start
			p.CurrentResource = ""
			return occ, nil
		}
	}
	return nil, r.violation(p, "end service for patient not being served")
}

// PreemptCandidate picks the occupant to displace for an incoming patient of
// class a: the least urgent occupant strictly less urgent than a, latest
// start first. It returns nil when the resource has spare capacity or no
// occupant qualifies.
func (r *Resource) PreemptCandidate(a models.Acuity) *Occupant {
	if !r.Preemptive || r.Available() {
		return nil
	}
	var victim *Occupant
	for _, occ := range r.serving {
		if !a.MoreUrgent(occ.Acuity) {
			continue
		}
		if victim == nil || victim.Acuity.MoreUrgent(occ.Acuity) ||
			(occ.Acuity == victim.Acuity && occ.Start >= victim.Start) {
			victim = occ
		}
	}
	return victim
}

// Preempt stops serving victim, re-queues it one band more urgent with a
// bumped mark and starts serving incoming. It returns the new occupant and
// the class the victim was queued at.
func (r *Resource) Preempt(victim *Occupant, incoming *models.Patient, a models.Acuity, now, serviceTime float64) (*Occupant, models.Acuity, error) {
	if victim == nil {
		return nil, 0, r.violation(incoming, "preempt without a victim")
	}
	if _, err := r.EndService(victim.Patient, now); err != nil {
		return nil, 0, err
	}
	band := victim.Acuity.Bump()
	victim.Patient.Bumped = true
	if _, err := r.Enqueue(victim.Patient, band); err != nil {
		return nil, 0, err
	}
	occ, err := r.BeginService(incoming, a, now, serviceTime)
	if err != nil {
		return nil, 0, err
	}
	return occ, band, nil
}

// Serving returns the current occupants in start order.
func (r *Resource) Serving() []*Occupant {
	return append([]*Occupant(nil), r.serving...)
}

// QueueLengths returns the number of waiters per class.
func (r *Resource) QueueLengths() map[models.Acuity]int {
	out := make(map[models.Acuity]int, models.NumAcuities)
	for _, a := range models.Acuities {
		out[a] = len(r.queues[a])
	}
	return out
}

func (r *Resource) TotalQueued() int {
	total := 0
	for _, q := range r.queues {
		total += len(q)
	}
	return total
}

// BusyTime returns occupied time up to horizon, counting the served part of
// in-flight services.
func (r *Resource) BusyTime(horizon float64) float64 {
	total := r.busy
	for _, occ := range r.serving {
		if end := math.Min(occ.Finish, horizon); end > occ.Start {
			total += end - occ.Start
		}
	}
	return total
}

// Utilisation is busy time over horizon*capacity.
func (r *Resource) Utilisation(horizon float64) float64 {
	if horizon <= 0 {
		return 0
	}
	return r.BusyTime(horizon) / (horizon * float64(r.Capacity))
}

// CheckInvariants verifies capacity, uniqueness and tag consistency.
func (r *Resource) CheckInvariants() error {
	if len(r.serving) > r.Capacity {
		return r.violation(nil, fmt.Sprintf("%d serving exceeds capacity %d", len(r.serving), r.Capacity))
	}
	seen := make(map[int]bool)
	for _, occ := range r.serving {
		if seen[occ.Patient.ID] {
			return r.violation(occ.Patient, "patient serving twice")
		}
		seen[occ.Patient.ID] = true
		if occ.Patient.CurrentResource != r.ID {
			return r.violation(occ.Patient, "serving patient tagged with "+occ.Patient.CurrentResource)
		}
	}
	for _, q := range r.queues {
		for _, p := range q {
			if seen[p.ID] {
				return r.violation(p, "patient both queued and serving")
			}
			seen[p.ID] = true
			if p.CurrentResource != r.ID {
				return r.violation(p, "queued patient tagged with "+p.CurrentResource)
			}
		}
	}
	return nil
}

func (r *Resource) isQueued(p *models.Patient) bool {
	for _, q := range r.queues {
		for _, w := range q {
			if w == p {
				return true
			}
		}
	}
	return false
}

func (r *Resource) isServing(p *models.Patient) bool {
	for _, occ := range r.serving {
		if occ.Patient == p {
			return true
		}
	}
	return false
}

func (r *Resource) violation(p *models.Patient, reason string) error {
	id := 0
	if p != nil {
		id = p.ID
	}
	return &models.InvariantViolation{Resource: r.ID, PatientID: id, Reason: reason}
}
