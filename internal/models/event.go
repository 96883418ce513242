package models

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventArrival           EventType = "ARRIVAL"
	EventTriageComplete    EventType = "TRIAGE_COMPLETE"
	EventRoutingDecision   EventType = "ROUTING_DECISION"
	EventQueueJoin         EventType = "QUEUE_JOIN"
	EventConsultationStart EventType = "CONSULTATION_START"
	EventConsultationEnd   EventType = "CONSULTATION_END"
	EventBedAssignment     EventType = "BED_ASSIGNMENT"
	EventBedDischarge      EventType = "BED_DISCHARGE"
	EventDischarge         EventType = "DISCHARGE"
	EventStatus            EventType = "STATUS"
)

// SystemName is the patient_name of events not tied to a patient.
const SystemName = "SYSTEM"

// RealTimeLayout is the ISO-8601 layout of the real_time field.
const RealTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is one immutable entry of the simulation log. Time is virtual
// minutes since the start of the run.
type Event struct {
	Time         float64
	RealTime     time.Time
	Type         EventType
	PatientID    int
	PatientName  string
	ResourceID   string
	ResourceName string
	Acuity       *Acuity
	Details      map[string]any
}

type eventWire struct {
	Timestamp    float64        `json:"timestamp"`
	RealTime     string         `json:"real_time"`
	EventType    EventType      `json:"event_type"`
	PatientName  string         `json:"patient_name"`
	ResourceName *string        `json:"resource_name"`
	Priority     *string        `json:"priority"`
	Details      map[string]any `json:"details"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	w := eventWire{
		Timestamp:   e.Time,
		RealTime:    e.RealTime.UTC().Format(RealTimeLayout),
		EventType:   e.Type,
		PatientName: e.PatientName,
		Details:     e.Details,
	}
	if e.ResourceName != "" {
		name := e.ResourceName
		w.ResourceName = &name
	}
	if e.Acuity != nil {
		label := e.Acuity.Label()
		w.Priority = &label
	}
	if w.Details == nil {
		w.Details = map[string]any{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores the wire fields. Patient and resource IDs are not
// part of the wire format and stay zero.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w eventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Time = w.Timestamp
	e.Type = w.EventType
	e.PatientName = w.PatientName
	e.Details = w.Details
	if w.RealTime != "" {
		t, err := time.Parse(RealTimeLayout, w.RealTime)
		if err != nil {
			return err
		}
		e.RealTime = t
	}
	if w.ResourceName != nil {
		e.ResourceName = *w.ResourceName
	}
	if w.Priority != nil {
		a, err := ParseAcuity(*w.Priority)
		if err != nil {
			return err
		}
		e.Acuity = &a
	}
	return nil
}

// AcuityPtr returns a pointer to a copy of a, for Event.Acuity.
func AcuityPtr(a Acuity) *Acuity { return &a }
