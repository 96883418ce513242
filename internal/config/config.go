package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/edflow/backend/internal/models"
	"github.com/edflow/backend/internal/routing"
	"github.com/edflow/backend/internal/sim"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	NATSURL        string        `mapstructure:"NATS_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	Simulation Simulation `mapstructure:",squash"`
}

// Simulation holds the parameters of one run. The same struct is the body of
// POST /api/simulate.
type Simulation struct {
	Duration          float64 `mapstructure:"DURATION" json:"duration" validate:"gte=0"`
	ArrivalRate       float64 `mapstructure:"ARRIVAL_RATE" json:"arrival_rate" validate:"gte=0"`
	NumDoctors        int     `mapstructure:"NUM_DOCTORS" json:"num_doctors" validate:"min=1"`
	NumMRI            int     `mapstructure:"NUM_MRI" json:"num_mri" validate:"min=1"`
	NumUltrasonic     int     `mapstructure:"NUM_ULTRASONIC" json:"num_ultrasonic" validate:"min=1"`
	NumBeds           int     `mapstructure:"NUM_BEDS" json:"num_beds" validate:"min=1"`
	DoctorService     float64 `mapstructure:"DOCTOR_SERVICE_MEAN" json:"doctor_service_mean" validate:"gt=0"`
	MRIService        float64 `mapstructure:"MRI_SERVICE_MEAN" json:"mri_service_mean" validate:"gt=0"`
	UltrasonicService float64 `mapstructure:"ULTRASONIC_SERVICE_MEAN" json:"ultrasonic_service_mean" validate:"gt=0"`
	BedService        float64 `mapstructure:"BED_SERVICE_MEAN" json:"bed_service_mean" validate:"gt=0"`
	Policy            string  `mapstructure:"POLICY" json:"policy" validate:"required"`
	Alpha             float64 `mapstructure:"ALPHA" json:"alpha" validate:"gte=0,lte=1"`
	Beta              float64 `mapstructure:"BETA" json:"beta" validate:"gte=0,lte=1"`
	Seed              int64   `mapstructure:"SEED" json:"seed"`
	Preemption        bool    `mapstructure:"PREEMPTION" json:"preemption"`
	StatusInterval    float64 `mapstructure:"STATUS_INTERVAL" json:"status_interval" validate:"gte=0"`
	HospitalName      string  `mapstructure:"HOSPITAL_NAME" json:"hospital_name"`
	StartTime         string  `mapstructure:"START_TIME" json:"start_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	CheckInvariants   bool    `mapstructure:"CHECK_INVARIANTS" json:"check_invariants"`
}

func setDefaults(v *viper.Viper) {
	d := DefaultSimulation()
	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("DURATION", d.Duration)
	v.SetDefault("ARRIVAL_RATE", d.ArrivalRate)
	v.SetDefault("NUM_DOCTORS", d.NumDoctors)
	v.SetDefault("NUM_MRI", d.NumMRI)
	v.SetDefault("NUM_ULTRASONIC", d.NumUltrasonic)
	v.SetDefault("NUM_BEDS", d.NumBeds)
	v.SetDefault("DOCTOR_SERVICE_MEAN", d.DoctorService)
	v.SetDefault("MRI_SERVICE_MEAN", d.MRIService)
	v.SetDefault("ULTRASONIC_SERVICE_MEAN", d.UltrasonicService)
	v.SetDefault("BED_SERVICE_MEAN", d.BedService)
	v.SetDefault("POLICY", d.Policy)
	v.SetDefault("ALPHA", d.Alpha)
	v.SetDefault("BETA", d.Beta)
	v.SetDefault("SEED", d.Seed)
	v.SetDefault("PREEMPTION", d.Preemption)
	v.SetDefault("STATUS_INTERVAL", d.StatusInterval)
	v.SetDefault("HOSPITAL_NAME", d.HospitalName)
	v.SetDefault("START_TIME", d.StartTime)
	v.SetDefault("CHECK_INVARIANTS", d.CheckInvariants)
}

// New returns a viper instance with every default set, reading .env and the
// environment.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()
	setDefaults(v)
	return v
}

func Load() (Config, error) {
	return FromViper(New())
}

func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func DefaultSimulation() Simulation {
	d := sim.DefaultConfig()
	return Simulation{
		Duration:          d.Horizon,
		ArrivalRate:       d.ArrivalRate,
		NumDoctors:        d.Capacities[models.Doctor],
		NumMRI:            d.Capacities[models.MRI],
		NumUltrasonic:     d.Capacities[models.Ultrasonic],
		NumBeds:           d.Capacities[models.Bed],
		DoctorService:     d.ServiceMeans[models.Doctor],
		MRIService:        d.ServiceMeans[models.MRI],
		UltrasonicService: d.ServiceMeans[models.Ultrasonic],
		BedService:        d.ServiceMeans[models.Bed],
		Policy:            routing.PolicyRuleBased,
		Alpha:             0.8,
		Beta:              0.7,
		Seed:              d.Seed,
		StatusInterval:    d.StatusInterval,
		HospitalName:      "General Hospital",
		StartTime:         d.StartTime.Format(time.RFC3339),
		CheckInvariants:   d.CheckInvariants,
	}
}

// BindFlags registers the run flags on fs and binds them onto v.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := DefaultSimulation()
	fs.Float64("duration", d.Duration, "simulated minutes")
	fs.Float64("arrival-rate", d.ArrivalRate, "patients per hour")
	fs.Int("num-doctors", d.NumDoctors, "doctor capacity")
	fs.Int("num-mri", d.NumMRI, "MRI capacity")
	fs.Int("num-ultrasonic", d.NumUltrasonic, "ultrasonic capacity")
	fs.Int("num-beds", d.NumBeds, "bed capacity")
	fs.String("policy", d.Policy, "routing policy: "+strings.Join(routing.PolicyNames, ", "))
	fs.Int64("seed", d.Seed, "random seed")
	fs.Float64("alpha", d.Alpha, "single-stochastic bypass accuracy")
	fs.Float64("beta", d.Beta, "ensemble-stochastic bypass accuracy")
	fs.Bool("preemption", d.Preemption, "let urgent patients preempt service")
	fs.String("hospital-name", d.HospitalName, "hospital name in the run envelope")
	fs.String("log-level", "info", "zerolog level")

	keys := map[string]string{
		"duration":       "DURATION",
		"arrival-rate":   "ARRIVAL_RATE",
		"num-doctors":    "NUM_DOCTORS",
		"num-mri":        "NUM_MRI",
		"num-ultrasonic": "NUM_ULTRASONIC",
		"num-beds":       "NUM_BEDS",
		"policy":         "POLICY",
		"seed":           "SEED",
		"alpha":          "ALPHA",
		"beta":           "BETA",
		"preemption":     "PREEMPTION",
		"hospital-name":  "HOSPITAL_NAME",
		"log-level":      "LOG_LEVEL",
	}
	for flag, key := range keys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return val
}

// Validate checks ranges and the policy name. The first failure is returned
// as a *models.ConfigError.
func (s Simulation) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &models.ConfigError{Field: fe.Field(), Value: fe.Value(), Reason: reason(fe)}
		}
		return err
	}
	if _, err := routing.ParsePolicy(s.Policy, s.Alpha, s.Beta); err != nil {
		return err
	}
	return nil
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return "must be at least " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "gt":
		return "must be > " + fe.Param()
	case "required":
		return "is required"
	case "datetime":
		return "must be an RFC3339 timestamp"
	default:
		return "failed " + fe.Tag()
	}
}

// SimConfig validates s and converts it to the simulator's parameters.
func (s Simulation) SimConfig() (sim.Config, routing.Policy, error) {
	if err := s.Validate(); err != nil {
		return sim.Config{}, nil, err
	}
	start, err := time.Parse(time.RFC3339, s.StartTime)
	if err != nil {
		return sim.Config{}, nil, &models.ConfigError{Field: "start_time", Value: s.StartTime, Reason: err.Error()}
	}
	policy, err := routing.ParsePolicy(s.Policy, s.Alpha, s.Beta)
	if err != nil {
		return sim.Config{}, nil, err
	}
	cfg := sim.Config{
		Horizon:     s.Duration,
		ArrivalRate: s.ArrivalRate,
		Capacities: map[models.ResourceKind]int{
			models.Doctor:     s.NumDoctors,
			models.MRI:        s.NumMRI,
			models.Ultrasonic: s.NumUltrasonic,
			models.Bed:        s.NumBeds,
		},
		ServiceMeans: map[models.ResourceKind]float64{
			models.Doctor:     s.DoctorService,
			models.MRI:        s.MRIService,
			models.Ultrasonic: s.UltrasonicService,
			models.Bed:        s.BedService,
		},
		Preemption:      s.Preemption,
		StatusInterval:  s.StatusInterval,
		Seed:            s.Seed,
		CheckInvariants: s.CheckInvariants,
		StartTime:       start,
	}
	return cfg, policy, nil
}
