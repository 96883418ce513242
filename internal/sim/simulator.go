package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/edflow/backend/internal/eventlog"
	"github.com/edflow/backend/internal/models"
	"github.com/edflow/backend/internal/resource"
	"github.com/edflow/backend/internal/routing"
	"github.com/edflow/backend/internal/triage"
)

// Counters are the running totals reported on every status tick.
type Counters struct {
	Arrivals    int `json:"total_arrivals"`
	Discharged  int `json:"discharged"`
	Preemptions int `json:"preemptions"`
	UrgentMRI   int `json:"urgent_mri"`
	Bypass      int `json:"bypass"`
}

// journey is the state machine of one patient walking its plan.
type journey struct {
	patient *models.Patient
	step    int
	// token changes whenever the current service is abandoned so a pending
	// completion callback can tell it is stale.
	token uint64
}

// Simulator runs one emergency-department simulation. It is single threaded
// and not reusable; build a new one per run.
type Simulator struct {
	cfg    Config
	policy routing.Policy
	triage *triage.Engine
	rng    *rand.Rand
	rec    *eventlog.Recorder
	logger zerolog.Logger

	resources map[models.ResourceKind]*resource.Resource
	order     []*resource.Resource

	agenda   agenda
	seq      uint64
	now      float64
	nextID   int
	journeys map[int]*journey
	patients []*models.Patient
	counters Counters

	ran bool
	err error
}

// New validates cfg and builds a simulator. A nil engine falls back to the
// default keyword table.
func New(cfg Config, policy routing.Policy, engine *triage.Engine, logger zerolog.Logger, sinks ...eventlog.Sink) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, &models.ConfigError{Field: "policy", Value: nil, Reason: "routing policy is required"}
	}
	if engine == nil {
		engine = triage.NewEngine()
	}
	start := cfg.StartTime
	if start.IsZero() {
		start = DefaultStart
	}

	s := &Simulator{
		cfg:       cfg,
		policy:    policy,
		triage:    engine,
		rng:       NewRand(cfg.Seed),
		rec:       eventlog.NewRecorder(start, sinks...),
		logger:    logger.With().Str("component", "sim").Logger(),
		resources: map[models.ResourceKind]*resource.Resource{},
		journeys:  map[int]*journey{},
	}
	for _, kind := range models.ResourceKinds {
		r, err := resource.New(string(kind), ResourceName(kind), kind, cfg.Capacities[kind], cfg.ServiceMeans[kind])
		if err != nil {
			return nil, err
		}
		r.Preemptive = cfg.Preemption
		s.resources[kind] = r
		s.order = append(s.order, r)
	}
	return s, nil
}

// Run executes events until the horizon. Events scheduled at or after the
// horizon are dropped. The context is checked between events.
func (s *Simulator) Run(ctx context.Context) error {
	if s.ran {
		return errors.New("sim: simulator already ran")
	}
	s.ran = true

	if s.cfg.StatusInterval > 0 {
		s.schedule(0, s.status)
	}
	if s.cfg.ArrivalRate > 0 {
		s.schedule(interArrival(s.rng, s.cfg.ArrivalRate), s.arrive)
	}

	for s.agenda.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sim: run cancelled at t=%.3f: %w", s.now, err)
		}
		if s.agenda.peek().at >= s.cfg.Horizon {
			break
		}
		next := s.agenda.pop()
		s.now = next.at
		next.fn()
		if s.err != nil {
			return s.err
		}
	}
	s.logger.Debug().
		Int("events", s.rec.Len()).
		Int("arrivals", s.counters.Arrivals).
		Int("discharged", s.counters.Discharged).
		Int("pending", s.agenda.Len()).
		Msg("horizon reached")
	return nil
}

func (s *Simulator) schedule(at float64, fn func()) {
	s.seq++
	s.agenda.push(&scheduled{at: at, seq: s.seq, fn: fn})
}

func (s *Simulator) fail(err error) {
	if s.err != nil {
		return
	}
	var iv *models.InvariantViolation
	if errors.As(err, &iv) && iv.Time == 0 {
		iv.Time = s.now
	}
	s.err = err
	s.logger.Error().Err(err).Float64("t", s.now).Msg("simulation aborted")
}

func (s *Simulator) emit(e models.Event) {
	if s.err != nil {
		return
	}
	e.Time = s.now
	if err := s.rec.Emit(e); err != nil {
		s.fail(err)
	}
}

func (s *Simulator) check(r *resource.Resource) {
	if !s.cfg.CheckInvariants {
		return
	}
	if err := r.CheckInvariants(); err != nil {
		s.fail(err)
	}
}

func (s *Simulator) serviceTime(r *resource.Resource) float64 {
	return s.rng.ExpFloat64() * r.MeanService
}

func (s *Simulator) arrive() {
	s.nextID++
	a := newPatient(s.rng, s.triage, s.nextID, s.now)
	p := a.patient
	s.patients = append(s.patients, p)
	s.counters.Arrivals++

	s.emit(models.Event{
		Type:        models.EventArrival,
		PatientID:   p.ID,
		PatientName: p.Name,
		Details: map[string]any{
			"symptoms": p.Symptoms.Sorted(),
			"history":  p.History,
		},
	})
	for _, r := range s.order {
		s.rec.SampleQueue(s.now, r.Name, r.TotalQueued())
	}

	ex := s.triage.Explain(p)
	p.Acuity = ex.Chosen
	p.Triaged = true
	p.NeedsMRI = a.mriDraw && p.Acuity == models.Red
	s.emit(models.Event{
		Type:        models.EventTriageComplete,
		PatientID:   p.ID,
		PatientName: p.Name,
		Acuity:      models.AcuityPtr(p.Acuity),
		Details: map[string]any{
			"priority_name": p.Acuity.DisplayName(),
			"max_wait_time": p.Acuity.MaxWait(),
			"triage_scores": ex.Adjusted.ScoreMap(),
		},
	})

	d := s.policy.Plan(p, p.Acuity, s.rng)
	p.Plan = d.Plan
	if p.UrgentMRI() {
		s.counters.UrgentMRI++
		if routing.IsBypass(d.Plan) {
			s.counters.Bypass++
		}
	}
	plan := make([]string, len(d.Plan))
	for i, k := range d.Plan {
		plan[i] = string(k)
	}
	s.emit(models.Event{
		Type:        models.EventRoutingDecision,
		PatientID:   p.ID,
		PatientName: p.Name,
		Acuity:      models.AcuityPtr(p.Acuity),
		Details: map[string]any{
			"assign_doctor":          routing.Contains(d.Plan, models.Doctor),
			"assign_bed":             routing.Contains(d.Plan, models.Bed),
			"logic":                  d.Logic,
			eventlog.DetailPlan:      plan,
			eventlog.DetailUrgentMRI: p.UrgentMRI(),
			eventlog.DetailBypass:    p.UrgentMRI() && routing.IsBypass(d.Plan),
			"needs_ultrasound":       p.NeedsUltrasound,
			"presenting_priority":    a.presenting.Label(),
		},
	})

	s.schedule(s.now+interArrival(s.rng, s.cfg.ArrivalRate), s.arrive)

	j := &journey{patient: p}
	s.journeys[p.ID] = j
	s.advance(j)
}

// advance requests the next task of the plan or discharges the patient.
func (s *Simulator) advance(j *journey) {
	if s.err != nil {
		return
	}
	p := j.patient
	if j.step >= len(p.Plan) {
		s.discharge(j)
		return
	}
	kind := p.Plan[j.step]
	r, ok := s.resources[kind]
	if !ok {
		s.fail(&models.InvariantViolation{Time: s.now, Resource: string(kind), PatientID: p.ID, Reason: "plan names an unknown resource"})
		return
	}
	p.Tasks = append(p.Tasks, models.TaskRecord{Kind: kind, Requested: s.now, Started: -1, Finished: -1})
	s.request(j, r)
}

func (s *Simulator) request(j *journey, r *resource.Resource) {
	p := j.patient
	if r.Available() {
		if r.TotalQueued() > 0 {
			s.fail(&models.InvariantViolation{Time: s.now, Resource: r.ID, PatientID: p.ID, Reason: "idle capacity while patients wait"})
			return
		}
		s.begin(j, r)
		return
	}

	if victim := r.PreemptCandidate(p.Acuity); victim != nil {
		head, cls := r.PeekNext()
		if head == nil || p.Acuity.MoreUrgent(cls) {
			s.preempt(j, r, victim)
			return
		}
	}

	s.join(j, r)
}

func (s *Simulator) join(j *journey, r *resource.Resource) {
	p := j.patient
	pos, err := r.Enqueue(p, p.Acuity)
	if err != nil {
		if errors.Is(err, models.ErrNoOp) {
			s.logger.Debug().Err(err).Int("patient", p.ID).Str("resource", r.ID).Msg("no-op enqueue")
			return
		}
		s.fail(err)
		return
	}
	s.emit(models.Event{
		Type:         models.EventQueueJoin,
		PatientID:    p.ID,
		PatientName:  p.Name,
		ResourceID:   r.ID,
		ResourceName: r.Name,
		Acuity:       models.AcuityPtr(p.Acuity),
		Details: map[string]any{
			eventlog.DetailQueuePos:   pos,
			eventlog.DetailQueueTotal: r.TotalQueued(),
			eventlog.DetailKind:       string(r.Kind),
		},
	})
	s.check(r)
}

func (s *Simulator) begin(j *journey, r *resource.Resource) {
	svc := s.serviceTime(r)
	occ, err := r.BeginService(j.patient, j.patient.Acuity, s.now, svc)
	if err != nil {
		s.fail(err)
		return
	}
	s.started(j, r, occ)
}

// started records a grant and schedules the matching completion.
func (s *Simulator) started(j *journey, r *resource.Resource, occ *resource.Occupant) {
	p := j.patient
	task := p.CurrentTask()
	task.Started = s.now

	kind := models.EventConsultationStart
	if r.Kind == models.Bed {
		kind = models.EventBedAssignment
	}
	s.emit(models.Event{
		Type:         kind,
		PatientID:    p.ID,
		PatientName:  p.Name,
		ResourceID:   r.ID,
		ResourceName: r.Name,
		Acuity:       models.AcuityPtr(p.Acuity),
		Details: map[string]any{
			eventlog.DetailWait:        s.now - task.Requested,
			eventlog.DetailKind:        string(r.Kind),
			eventlog.DetailServiceTime: occ.Finish - occ.Start,
			"in_use":                   r.InUse(),
			"capacity":                 r.Capacity,
		},
	})
	s.check(r)

	j.token++
	token := j.token
	s.schedule(occ.Finish, func() { s.complete(j, r, token) })
}

func (s *Simulator) complete(j *journey, r *resource.Resource, token uint64) {
	if token != j.token {
		return
	}
	p := j.patient
	occ, err := r.EndService(p, s.now)
	if err != nil {
		s.fail(err)
		return
	}
	p.CurrentTask().Finished = s.now

	kind := models.EventConsultationEnd
	if r.Kind == models.Bed {
		kind = models.EventBedDischarge
	}
	s.emit(models.Event{
		Type:         kind,
		PatientID:    p.ID,
		PatientName:  p.Name,
		ResourceID:   r.ID,
		ResourceName: r.Name,
		Acuity:       models.AcuityPtr(p.Acuity),
		Details: map[string]any{
			eventlog.DetailDuration: s.now - occ.Start,
			eventlog.DetailKind:     string(r.Kind),
		},
	})
	s.check(r)

	s.release(r)
	j.step++
	s.advance(j)
}

// release hands a freed slot to the most urgent waiter.
func (s *Simulator) release(r *resource.Resource) {
	for r.Available() && s.err == nil {
		next := r.DequeueNext()
		if next == nil {
			return
		}
		j, ok := s.journeys[next.ID]
		if !ok {
			s.fail(&models.InvariantViolation{Time: s.now, Resource: r.ID, PatientID: next.ID, Reason: "queued patient has no journey"})
			return
		}
		s.begin(j, r)
	}
}

func (s *Simulator) preempt(j *journey, r *resource.Resource, victim *resource.Occupant) {
	vj, ok := s.journeys[victim.Patient.ID]
	if !ok {
		s.fail(&models.InvariantViolation{Time: s.now, Resource: r.ID, PatientID: victim.Patient.ID, Reason: "serving patient has no journey"})
		return
	}
	svc := s.serviceTime(r)
	occ, band, err := r.Preempt(victim, j.patient, j.patient.Acuity, s.now, svc)
	if err != nil {
		s.fail(err)
		return
	}
	s.counters.Preemptions++
	vj.token++

	vp := vj.patient
	if t := vp.CurrentTask(); t != nil {
		t.Finished = s.now
		t.Bumped = true
	}
	vp.Tasks = append(vp.Tasks, models.TaskRecord{Kind: r.Kind, Requested: s.now, Started: -1, Finished: -1, Bumped: true})
	s.logger.Debug().
		Int("victim", vp.ID).
		Int("incoming", j.patient.ID).
		Str("resource", r.ID).
		Str("band", band.Label()).
		Msg("service preempted")

	s.emit(models.Event{
		Type:         models.EventQueueJoin,
		PatientID:    vp.ID,
		PatientName:  vp.Name,
		ResourceID:   r.ID,
		ResourceName: r.Name,
		Acuity:       models.AcuityPtr(band),
		Details: map[string]any{
			eventlog.DetailQueuePos:    queuePosition(r, band),
			eventlog.DetailQueueTotal:  r.TotalQueued(),
			eventlog.DetailKind:        string(r.Kind),
			eventlog.DetailBumped:      true,
			eventlog.DetailPreemptedBy: j.patient.Name,
			"original_priority":        vp.Acuity.Label(),
		},
	})
	s.started(j, r, occ)
}

func (s *Simulator) discharge(j *journey) {
	p := j.patient
	if p.CurrentResource != "" {
		s.fail(&models.InvariantViolation{Time: s.now, Resource: p.CurrentResource, PatientID: p.ID, Reason: "discharged while holding a resource"})
		return
	}
	s.counters.Discharged++
	s.emit(models.Event{
		Type:        models.EventDischarge,
		PatientID:   p.ID,
		PatientName: p.Name,
		Acuity:      models.AcuityPtr(p.Acuity),
		Details: map[string]any{
			eventlog.DetailTimeInSystem: s.now - p.ArrivedAt,
			"tasks":                     len(p.Plan),
			eventlog.DetailBumped:       p.Bumped,
		},
	})
	delete(s.journeys, p.ID)
}

func (s *Simulator) status() {
	waiting, serving := 0, 0
	summary := map[string]map[string]int{}
	for _, r := range s.order {
		queued := map[string]int{}
		for a, n := range r.QueueLengths() {
			queued[a.Label()] = n
		}
		summary[r.Name] = queued
		waiting += r.TotalQueued()
		serving += r.InUse()
		s.rec.Snapshot(eventlog.Snapshot{
			Time:     s.now,
			Resource: r.Name,
			InUse:    r.InUse(),
			Capacity: r.Capacity,
			Queued:   queued,
		})
	}
	s.emit(models.Event{
		Type:        models.EventStatus,
		PatientName: models.SystemName,
		Details: map[string]any{
			"statistics": map[string]int{
				"total_arrivals": s.counters.Arrivals,
				"discharged":     s.counters.Discharged,
				"in_system":      s.counters.Arrivals - s.counters.Discharged,
				"waiting":        waiting,
				"in_service":     serving,
				"preemptions":    s.counters.Preemptions,
			},
			"queue_summary": summary,
		},
	})
	s.schedule(s.now+s.cfg.StatusInterval, s.status)
}

// queuePosition is the service-order position of the last waiter of class
// band at r.
func queuePosition(r *resource.Resource, band models.Acuity) int {
	pos := 0
	lengths := r.QueueLengths()
	for _, a := range models.Acuities {
		if a > band {
			break
		}
		pos += lengths[a]
	}
	return pos
}

func (s *Simulator) Recorder() *eventlog.Recorder { return s.rec }

func (s *Simulator) Events() []models.Event { return s.rec.Events() }

func (s *Simulator) Counters() Counters { return s.counters }

// Patients returns every patient that arrived, in arrival order.
func (s *Simulator) Patients() []*models.Patient { return s.patients }

func (s *Simulator) Resource(kind models.ResourceKind) *resource.Resource { return s.resources[kind] }

func (s *Simulator) Resources() []*resource.Resource {
	return append([]*resource.Resource(nil), s.order...)
}

func (s *Simulator) Config() Config { return s.cfg }

func (s *Simulator) Policy() routing.Policy { return s.policy }

// Usage reports busy time per resource, clipped to the horizon.
func (s *Simulator) Usage() []eventlog.ResourceUsage {
	out := make([]eventlog.ResourceUsage, 0, len(s.order))
	for _, r := range s.order {
		out = append(out, eventlog.ResourceUsage{
			Name:     r.Name,
			Kind:     r.Kind,
			Capacity: r.Capacity,
			BusyTime: r.BusyTime(s.cfg.Horizon),
		})
	}
	return out
}

func (s *Simulator) Metrics() eventlog.Metrics {
	return eventlog.Compute(s.rec.Events(), s.Usage(), s.cfg.Horizon)
}
