package eventlog

import (
	"github.com/edflow/backend/internal/models"
	"github.com/edflow/backend/internal/utils"
)

// Detail keys shared by the simulator and the metrics.
const (
	DetailWait         = "wait"
	DetailKind         = "resource_kind"
	DetailUrgentMRI    = "urgent_mri"
	DetailBypass       = "bypass"
	DetailBumped       = "bumped"
	DetailDuration     = "duration"
	DetailServiceTime  = "service_time"
	DetailPlan         = "plan"
	DetailPreemptedBy  = "preempted_by"
	DetailQueuePos     = "queue_position"
	DetailQueueTotal   = "total_in_queue"
	DetailTimeInSystem = "time_in_system"
)

// ResourceUsage is what the metrics need to know about one resource.
type ResourceUsage struct {
	Name     string
	Kind     models.ResourceKind
	Capacity int
	BusyTime float64
}

type WaitStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`
}

type Metrics struct {
	Horizon          float64                         `json:"horizon"`
	TotalEvents      int                             `json:"total_events"`
	Arrivals         int                             `json:"arrivals"`
	Discharged       int                             `json:"discharged"`
	MeanInterArrival float64                         `json:"mean_inter_arrival"`
	ArrivalsByClass  map[string]int                  `json:"arrivals_by_priority"`
	Utilisation      map[string]float64              `json:"utilisation"`
	Waits            map[string]map[string]WaitStats `json:"waits"`
	WaitsByClass     map[string]WaitStats            `json:"waits_by_priority"`
	TargetBreaches   map[string]int                  `json:"target_breaches"`
	UrgentMRI        int                             `json:"urgent_mri_total"`
	Bypass           int                             `json:"bypass_total"`
	BypassRate       float64                         `json:"bypass_rate"`
	Preemptions      int                             `json:"preemptions"`
	MeanTimeInSystem float64                         `json:"mean_time_in_system"`
}

// Compute derives run metrics from the event log and resource usage.
func Compute(events []models.Event, usage []ResourceUsage, horizon float64) Metrics {
	m := Metrics{
		Horizon:         horizon,
		TotalEvents:     len(events),
		ArrivalsByClass: map[string]int{},
		Utilisation:     map[string]float64{},
		Waits:           map[string]map[string]WaitStats{},
		WaitsByClass:    map[string]WaitStats{},
		TargetBreaches:  map[string]int{},
	}

	waits := map[string]map[string][]float64{}
	byClass := map[string][]float64{}
	var lastArrival float64
	var stays []float64

	for _, e := range events {
		label := ""
		if e.Acuity != nil {
			label = e.Acuity.Label()
		}
		switch e.Type {
		case models.EventArrival:
			m.Arrivals++
			lastArrival = e.Time
		case models.EventTriageComplete:
			if label != "" {
				m.ArrivalsByClass[label]++
			}
		case models.EventRoutingDecision:
			if boolDetail(e.Details, DetailUrgentMRI) {
				m.UrgentMRI++
				if boolDetail(e.Details, DetailBypass) {
					m.Bypass++
				}
			}
		case models.EventQueueJoin:
			if boolDetail(e.Details, DetailBumped) {
				m.Preemptions++
			}
		case models.EventConsultationStart, models.EventBedAssignment:
			w, ok := floatDetail(e.Details, DetailWait)
			if !ok || label == "" {
				continue
			}
			kind, _ := e.Details[DetailKind].(string)
			if waits[kind] == nil {
				waits[kind] = map[string][]float64{}
			}
			waits[kind][label] = append(waits[kind][label], w)
			byClass[label] = append(byClass[label], w)
			if kind == string(models.Doctor) && e.Acuity != nil && w > float64(e.Acuity.MaxWait()) {
				m.TargetBreaches[label]++
			}
		case models.EventDischarge:
			m.Discharged++
			if v, ok := floatDetail(e.Details, DetailTimeInSystem); ok {
				stays = append(stays, v)
			}
		}
	}

	if m.Arrivals > 0 {
		m.MeanInterArrival = lastArrival / float64(m.Arrivals)
	}
	if m.UrgentMRI > 0 {
		m.BypassRate = float64(m.Bypass) / float64(m.UrgentMRI)
	}
	m.MeanTimeInSystem = utils.Mean(stays)

	for kind, classes := range waits {
		m.Waits[kind] = map[string]WaitStats{}
		for label, values := range classes {
			m.Waits[kind][label] = summarize(values)
		}
	}
	for label, values := range byClass {
		m.WaitsByClass[label] = summarize(values)
	}

	for _, u := range usage {
		if horizon > 0 && u.Capacity > 0 {
			m.Utilisation[string(u.Kind)] = u.BusyTime / (horizon * float64(u.Capacity))
		} else {
			m.Utilisation[string(u.Kind)] = 0
		}
	}
	return m
}

// MeanWait returns the mean wait of a class across every resource kind.
func (m Metrics) MeanWait(a models.Acuity) float64 {
	return m.WaitsByClass[a.Label()].Mean
}

func summarize(values []float64) WaitStats {
	return WaitStats{
		Count:  len(values),
		Mean:   utils.Mean(values),
		Median: utils.Median(values),
		P90:    utils.Percentile(values, 90),
		Max:    utils.Max(values),
	}
}

func boolDetail(d map[string]any, key string) bool {
	v, _ := d[key].(bool)
	return v
}

func floatDetail(d map[string]any, key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
