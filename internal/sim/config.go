package sim

import (
	"math"
	"time"

	"github.com/edflow/backend/internal/models"
)

const (
	DefaultHorizon        = 480.0
	DefaultArrivalRate    = 4.0
	DefaultStatusInterval = 60.0
)

// DefaultStart is the real time that virtual minute 0 maps to.
var DefaultStart = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

// Config is the parameter set of one run. Times are minutes; ArrivalRate is
// patients per hour.
type Config struct {
	Horizon         float64
	ArrivalRate     float64
	Capacities      map[models.ResourceKind]int
	ServiceMeans    map[models.ResourceKind]float64
	Preemption      bool
	StatusInterval  float64
	Seed            int64
	CheckInvariants bool
	StartTime       time.Time
}

func DefaultConfig() Config {
	return Config{
		Horizon:     DefaultHorizon,
		ArrivalRate: DefaultArrivalRate,
		Capacities: map[models.ResourceKind]int{
			models.Doctor:     3,
			models.MRI:        1,
			models.Ultrasonic: 1,
			models.Bed:        5,
		},
		ServiceMeans: map[models.ResourceKind]float64{
			models.Doctor:     15,
			models.MRI:        30,
			models.Ultrasonic: 20,
			models.Bed:        60,
		},
		StatusInterval:  DefaultStatusInterval,
		Seed:            42,
		CheckInvariants: true,
		StartTime:       DefaultStart,
	}
}

// Validate checks the parameters that the resources do not check themselves.
func (c Config) Validate() error {
	if c.Horizon < 0 || math.IsNaN(c.Horizon) || math.IsInf(c.Horizon, 0) {
		return &models.ConfigError{Field: "duration", Value: c.Horizon, Reason: "horizon must be a finite, non-negative number of minutes"}
	}
	if c.ArrivalRate < 0 || math.IsNaN(c.ArrivalRate) || math.IsInf(c.ArrivalRate, 0) {
		return &models.ConfigError{Field: "arrival_rate", Value: c.ArrivalRate, Reason: "arrival rate must be finite and non-negative"}
	}
	if c.StatusInterval < 0 || math.IsNaN(c.StatusInterval) {
		return &models.ConfigError{Field: "status_interval", Value: c.StatusInterval, Reason: "status interval must be non-negative"}
	}
	for _, kind := range models.ResourceKinds {
		if c.Capacities[kind] < 1 {
			return &models.ConfigError{Field: "num_" + string(kind), Value: c.Capacities[kind], Reason: "capacity must be at least 1"}
		}
		if c.ServiceMeans[kind] <= 0 {
			return &models.ConfigError{Field: string(kind) + "_service_mean", Value: c.ServiceMeans[kind], Reason: "mean service time must be positive"}
		}
	}
	return nil
}

var resourceNames = map[models.ResourceKind]string{
	models.Doctor:     "Doctors",
	models.MRI:        "MRI",
	models.Ultrasonic: "Ultrasonic",
	models.Bed:        "Beds",
}

// ResourceName is the display name used in the event log.
func ResourceName(kind models.ResourceKind) string {
	if n, ok := resourceNames[kind]; ok {
		return n
	}
	return string(kind)
}
