package eventlog

import (
	"encoding/json"
	"io"
	"time"

	"github.com/edflow/backend/internal/models"
)

type SimulationInfo struct {
	HospitalName    string  `json:"hospital_name"`
	StartTime       string  `json:"start_time"`
	DurationMinutes float64 `json:"duration_minutes"`
	TotalEvents     int     `json:"total_events"`
	Policy          string  `json:"policy,omitempty"`
	Seed            int64   `json:"seed"`
}

// Envelope is the complete record of one run.
type Envelope struct {
	SimulationInfo SimulationInfo `json:"simulation_info"`
	Events         []models.Event `json:"events"`
}

func NewEnvelope(hospital string, start time.Time, duration float64, policy string, seed int64, events []models.Event) Envelope {
	if events == nil {
		events = []models.Event{}
	}
	return Envelope{
		SimulationInfo: SimulationInfo{
			HospitalName:    hospital,
			StartTime:       start.UTC().Format(time.RFC3339),
			DurationMinutes: duration,
			TotalEvents:     len(events),
			Policy:          policy,
			Seed:            seed,
		},
		Events: events,
	}
}

func (e Envelope) WriteTo(w io.Writer) (int64, error) {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return 0, err
	}
	b = append(b, '\n')
	n, err := w.Write(b)
	return int64(n), err
}
