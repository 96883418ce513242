// Command edsim runs one emergency-department simulation and writes its
// event log.
//
//	edsim --duration 480 --policy ensemble-stochastic --seed 7 --output run.jsonl
//
// Exit status is 2 for an invalid configuration and 1 for any other failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/edflow/backend/internal/config"
	"github.com/edflow/backend/internal/eventlog"
	"github.com/edflow/backend/internal/models"
	"github.com/edflow/backend/internal/service"
	"github.com/edflow/backend/internal/triage"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("edsim", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	v := config.New()
	if err := config.BindFlags(fs, v); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	output := fs.StringP("output", "o", "-", `JSONL event log path, "-" for stdout, "" to skip`)
	envelopePath := fs.String("envelope", "", "write the run envelope as JSON to this path")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}
	if _, _, err := cfg.Simulation.SimConfig(); err != nil {
		fmt.Fprintf(stderr, "edsim: %v\n", err)
		return exitConfig
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(stderr).Level(level).With().Timestamp().Str("service", "edsim").Logger()

	var sinks []eventlog.Sink
	var jsonl *eventlog.JSONLSink
	switch *output {
	case "":
	case "-":
		jsonl = eventlog.NewJSONLSink(stdout)
	default:
		f, err := os.Create(*output)
		if err != nil {
			logger.Error().Err(err).Str("path", *output).Msg("failed to open output")
			return exitFailure
		}
		defer f.Close()
		jsonl = eventlog.NewJSONLSink(f)
	}
	if jsonl != nil {
		sinks = append(sinks, jsonl)
	}

	svc := &service.SimulationService{Triage: triage.NewEngine(), Logger: logger}
	result, runErr := svc.Run(ctx, cfg.Simulation, sinks...)
	if models.IsConfigError(runErr) {
		fmt.Fprintf(stderr, "edsim: %v\n", runErr)
		return exitConfig
	}

	if jsonl != nil {
		if err := jsonl.Flush(); err != nil {
			logger.Error().Err(err).Msg("failed to flush event log")
			return exitFailure
		}
	}
	if *envelopePath != "" {
		if err := writeEnvelope(*envelopePath, result.Envelope); err != nil {
			logger.Error().Err(err).Str("path", *envelopePath).Msg("failed to write envelope")
			return exitFailure
		}
	}
	if runErr != nil {
		fmt.Fprintf(stderr, "edsim: %v\n", runErr)
		return exitFailure
	}

	m := result.Summary.Metrics
	fmt.Fprintf(stderr, "run %s: %d events, %d arrivals, %d discharged, bypass rate %.3f, preemptions %d\n",
		result.RunID, m.TotalEvents, m.Arrivals, m.Discharged, m.BypassRate, m.Preemptions)
	return exitOK
}

func writeEnvelope(path string, env eventlog.Envelope) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := env.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
