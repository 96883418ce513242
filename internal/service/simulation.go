package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edflow/backend/internal/config"
	"github.com/edflow/backend/internal/eventlog"
	"github.com/edflow/backend/internal/messaging"
	"github.com/edflow/backend/internal/models"
	"github.com/edflow/backend/internal/sim"
	"github.com/edflow/backend/internal/triage"
	"github.com/edflow/backend/internal/utils"
)

// DiagnosticEvents is how many trailing events are logged when a run aborts.
const DiagnosticEvents = 10

// RunStore persists runs. *db.Store implements it.
type RunStore interface {
	CreateRun(ctx context.Context, id, policy string, seed int64, config []byte) error
	// CompleteRun stores the events and marks the run finished atomically.
	CompleteRun(ctx context.Context, runID string, events []models.Event, summary []byte) (int64, error)
	FinishRun(ctx context.Context, runID string, status string, summary []byte) error
}

const (
	runFinished = "finished"
	runFailed   = "failed"
)

type SimulationService struct {
	Store     RunStore
	Publisher messaging.Publisher
	Subject   string
	Triage    *triage.Engine
	Logger    zerolog.Logger
}

// RunSummary is stored with the run. QueueSamples holds the queue length of
// every resource at each arrival.
type RunSummary struct {
	RunID        string                 `json:"run_id"`
	Policy       string                 `json:"policy"`
	Seed         int64                  `json:"seed"`
	WallClockMs  int64                  `json:"wall_clock_ms"`
	Events       []map[string]any       `json:"events"`
	Counts       map[string]any         `json:"counts"`
	Metrics      eventlog.Metrics       `json:"metrics"`
	QueueSamples []eventlog.QueueSample `json:"queue_samples"`
	Snapshots    []eventlog.Snapshot    `json:"snapshots"`
	Error        string                 `json:"error,omitempty"`
}

type RunResult struct {
	RunID    string            `json:"run_id"`
	Summary  RunSummary        `json:"summary"`
	Envelope eventlog.Envelope `json:"envelope"`
}

// Run executes one simulation. Extra sinks receive every event as it is
// recorded. On failure the partial result is returned with the error.
func (s *SimulationService) Run(ctx context.Context, params config.Simulation, sinks ...eventlog.Sink) (RunResult, error) {
	simCfg, policy, err := params.SimConfig()
	if err != nil {
		s.Logger.Error().Err(err).Msg("invalid simulation config")
		return RunResult{}, err
	}

	runID := uuid.NewString()
	logger := s.Logger.With().Str("run_id", runID).Str("policy", policy.Name()).Int64("seed", simCfg.Seed).Logger()

	var published *messaging.EventSink
	if s.Publisher != nil {
		published = messaging.NewEventSink(s.Publisher, s.Subject, runID)
		sinks = append(sinks, published)
	}

	simulator, err := sim.New(simCfg, policy, s.Triage, logger, sinks...)
	if err != nil {
		logger.Error().Err(err).Msg("invalid simulation config")
		return RunResult{}, err
	}

	if s.Store != nil {
		raw, _ := json.Marshal(params)
		if err := s.Store.CreateRun(ctx, runID, policy.Name(), simCfg.Seed, raw); err != nil {
			return RunResult{}, fmt.Errorf("create run: %w", err)
		}
	}

	logger.Info().Float64("duration", simCfg.Horizon).Float64("arrival_rate", simCfg.ArrivalRate).Msg("simulation started")
	start := time.Now()
	runErr := simulator.Run(ctx)
	elapsed := time.Since(start)

	events := simulator.Events()
	summary := RunSummary{
		RunID:       runID,
		Policy:      policy.Name(),
		Seed:        simCfg.Seed,
		WallClockMs: elapsed.Milliseconds(),
		Counts:      map[string]any{},
		Metrics:     simulator.Metrics(),

		QueueSamples: simulator.Recorder().QueueSamples(),
		Snapshots:    simulator.Recorder().Snapshots(),
	}
	summary.Events = append(summary.Events, map[string]any{
		"type":     "simulation",
		"message":  "Simulation complete",
		"count":    len(events),
		"horizon":  simCfg.Horizon,
		"time":     time.Now().UTC(),
		"complete": runErr == nil,
	})
	counters := simulator.Counters()
	summary.Counts["events"] = len(events)
	summary.Counts["arrivals"] = counters.Arrivals
	summary.Counts["discharged"] = counters.Discharged
	summary.Counts["urgent_mri"] = counters.UrgentMRI
	summary.Counts["bypass"] = counters.Bypass
	summary.Counts["preemptions"] = counters.Preemptions
	if published != nil {
		summary.Counts["published"] = published.Published()
		summary.Counts["publish_failures"] = published.Failed()
		if err := published.Err(); err != nil {
			logger.Warn().Err(err).Int("failed", published.Failed()).Msg("event publishing degraded")
		}
	}

	result := RunResult{
		RunID:    runID,
		Summary:  summary,
		Envelope: eventlog.NewEnvelope(params.HospitalName, simulator.Recorder().Start(), simCfg.Horizon, policy.Name(), simCfg.Seed, events),
	}

	if runErr != nil {
		result.Summary.Error = runErr.Error()
		logger.Error().
			Err(runErr).
			Bool("invariant", models.IsInvariantViolation(runErr)).
			Interface("last_events", simulator.Recorder().Tail(DiagnosticEvents)).
			Msg("simulation aborted")
		_ = s.finish(ctx, logger, runID, runFailed, events, result.Summary)
		return result, runErr
	}

	if err := s.finish(ctx, logger, runID, runFinished, events, result.Summary); err != nil {
		return result, err
	}

	utilisation := zerolog.Dict()
	for _, kind := range models.ResourceKinds {
		utilisation.Float64(string(kind), utils.Round(summary.Metrics.Utilisation[string(kind)], 4))
	}
	logger.Info().
		Int("events", len(events)).
		Int64("wall_clock_ms", summary.WallClockMs).
		Dict("utilisation", utilisation).
		Msg("simulation finished")
	return result, nil
}

func (s *SimulationService) finish(ctx context.Context, logger zerolog.Logger, runID, status string, events []models.Event, summary RunSummary) error {
	if s.Store == nil {
		return nil
	}
	// A cancelled request must still close out its run row.
	ctx = context.WithoutCancel(ctx)
	if status == runFinished {
		n, err := s.Store.CompleteRun(ctx, runID, events, mustJSON(summary))
		if err != nil {
			logger.Error().Err(err).Msg("failed to store events")
			_ = s.Store.FinishRun(ctx, runID, runFailed, mustJSON(map[string]any{"error": err.Error()}))
			return fmt.Errorf("store events: %w", err)
		}
		logger.Debug().Int64("rows", n).Msg("run stored")
		return nil
	}
	if err := s.Store.FinishRun(ctx, runID, status, mustJSON(summary)); err != nil {
		logger.Error().Err(err).Msg("failed to finish run")
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
