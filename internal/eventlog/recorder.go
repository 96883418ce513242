package eventlog

import (
	"fmt"
	"time"

	"github.com/edflow/backend/internal/models"
)

// Sink receives every event in append order.
type Sink interface {
	Write(e models.Event) error
}

// QueueSample is the queue length of one resource at an arrival instant.
type QueueSample struct {
	Time     float64 `json:"time"`
	Resource string  `json:"resource"`
	Length   int     `json:"length"`
}

// Snapshot is the state of one resource at a status tick.
type Snapshot struct {
	Time     float64        `json:"time"`
	Resource string         `json:"resource"`
	InUse    int            `json:"in_use"`
	Capacity int            `json:"capacity"`
	Queued   map[string]int `json:"queued"`
}

// Recorder is the append-only event log of one run.
type Recorder struct {
	start   time.Time
	events  []models.Event
	sinks   []Sink
	samples []QueueSample
	snaps   []Snapshot
	last    float64
}

func NewRecorder(start time.Time, sinks ...Sink) *Recorder {
	return &Recorder{start: start.UTC(), sinks: sinks}
}

// Start is the real time that virtual minute 0 maps to.
func (r *Recorder) Start() time.Time { return r.start }

func (r *Recorder) AddSink(s Sink) { r.sinks = append(r.sinks, s) }

// Emit stamps e with its real time, appends it and forwards it to sinks.
// Time going backwards is an invariant violation.
func (r *Recorder) Emit(e models.Event) error {
	if len(r.events) > 0 && e.Time < r.last {
		return &models.InvariantViolation{
			Time:      e.Time,
			Resource:  e.ResourceID,
			PatientID: e.PatientID,
			Reason:    fmt.Sprintf("event %s at %.6f precedes %.6f", e.Type, e.Time, r.last),
		}
	}
	e.RealTime = r.RealTime(e.Time)
	r.events = append(r.events, e)
	r.last = e.Time
	for _, s := range r.sinks {
		if err := s.Write(e); err != nil {
			return fmt.Errorf("sink write: %w", err)
		}
	}
	return nil
}

// RealTime converts virtual minutes to a wall-clock instant.
func (r *Recorder) RealTime(minutes float64) time.Time {
	return r.start.Add(time.Duration(minutes * float64(time.Minute)))
}

func (r *Recorder) SampleQueue(t float64, resource string, length int) {
	r.samples = append(r.samples, QueueSample{Time: t, Resource: resource, Length: length})
}

func (r *Recorder) Snapshot(s Snapshot) {
	r.snaps = append(r.snaps, s)
}

// Events returns the log. Callers must not modify it.
func (r *Recorder) Events() []models.Event { return r.events }

func (r *Recorder) Len() int { return len(r.events) }

func (r *Recorder) QueueSamples() []QueueSample { return r.samples }

func (r *Recorder) Snapshots() []Snapshot { return r.snaps }

// Tail returns up to n of the most recent events.
func (r *Recorder) Tail(n int) []models.Event {
	if n <= 0 {
		return nil
	}
	if n > len(r.events) {
		n = len(r.events)
	}
	return append([]models.Event(nil), r.events[len(r.events)-n:]...)
}
