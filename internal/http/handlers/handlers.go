package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edflow/backend/internal/config"
	"github.com/edflow/backend/internal/db"
	"github.com/edflow/backend/internal/models"
	"github.com/edflow/backend/internal/routing"
	"github.com/edflow/backend/internal/service"
	"github.com/edflow/backend/internal/triage"
)

// RunReader is the read side of the run store.
type RunReader interface {
	Ping(ctx context.Context) error
	GetLatestRun(ctx context.Context) (db.Run, error)
	GetRun(ctx context.Context, runID string) (db.Run, error)
	ListRunEvents(ctx context.Context, runID string, eventType string, limit, offset int) ([]models.Event, error)
}

// BrokerStatus reports the event broker connection. *messaging.Client
// implements it.
type BrokerStatus interface {
	IsConnected() bool
	Reconnects() int
}

type Handler struct {
	Store       RunReader
	Broker      BrokerStatus
	Simulator   *service.SimulationService
	Triage      *triage.Engine
	Validator   *validator.Validate
	SimDefaults config.Simulation
	Logger      zerolog.Logger
	Timeout     time.Duration
}

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok", "database": "disabled"}
	if h.Broker != nil {
		body["nats"] = gin.H{"connected": h.Broker.IsConnected(), "reconnects": h.Broker.Reconnects()}
	}
	if h.Store == nil {
		c.JSON(http.StatusOK, body)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	body["database"] = "ok"
	c.JSON(http.StatusOK, body)
}

// @Summary Default simulation parameters
// @Tags config
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/config/defaults [get]
func (h *Handler) Defaults(c *gin.Context) {
	acuities := make([]gin.H, 0, models.NumAcuities)
	for _, a := range models.Acuities {
		acuities = append(acuities, gin.H{
			"priority":      a.Label(),
			"priority_name": a.DisplayName(),
			"max_wait_time": a.MaxWait(),
			"description":   a.Description(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"simulation": h.SimDefaults,
		"policies":   routing.PolicyNames,
		"priorities": acuities,
	})
}

type ExplainRequest struct {
	Symptoms []string `json:"symptoms" validate:"max=50,dive,max=200"`
	History  string   `json:"history" validate:"max=1000"`
}

type MatchResponse struct {
	Symptom  string  `json:"symptom"`
	Keyword  string  `json:"keyword,omitempty"`
	Priority string  `json:"priority"`
	Weight   float64 `json:"weight"`
}

type ExplainResponse struct {
	Priority       string             `json:"priority"`
	PriorityName   string             `json:"priority_name"`
	MaxWaitTime    int                `json:"max_wait_time"`
	Description    string             `json:"description"`
	RawScores      map[string]float64 `json:"raw_scores"`
	AdjustedScores map[string]float64 `json:"triage_scores"`
	Matches        []MatchResponse    `json:"matches"`
}

// @Summary Explain triage
// @Tags triage
// @Accept json
// @Produce json
// @Param body body ExplainRequest true "symptoms and history"
// @Success 200 {object} ExplainResponse
// @Failure 400 {object} map[string]any
// @Router /api/triage/explain [post]
func (h *Handler) TriageExplain(c *gin.Context) {
	var req ExplainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", err.Error())
		return
	}

	p := &models.Patient{Symptoms: models.NewSymptomSet(req.Symptoms...), History: req.History}
	ex := h.Triage.Explain(p)
	matches := make([]MatchResponse, 0, len(ex.Matches))
	for _, m := range ex.Matches {
		matches = append(matches, MatchResponse{Symptom: m.Symptom, Keyword: m.Keyword, Priority: m.Class.Label(), Weight: m.Weight})
	}
	c.JSON(http.StatusOK, ExplainResponse{
		Priority:       ex.Chosen.Label(),
		PriorityName:   ex.Chosen.DisplayName(),
		MaxWaitTime:    ex.Chosen.MaxWait(),
		Description:    ex.Chosen.Description(),
		RawScores:      ex.Raw.ScoreMap(),
		AdjustedScores: ex.Adjusted.ScoreMap(),
		Matches:        matches,
	})
}

// @Summary Run a simulation
// @Tags simulation
// @Accept json
// @Produce json
// @Param include_events query bool false "include the event log in the envelope"
// @Success 200 {object} service.RunResult
// @Failure 400 {object} map[string]any
// @Failure 500 {object} map[string]any
// @Router /api/simulate [post]
func (h *Handler) Simulate(c *gin.Context) {
	params := h.SimDefaults
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if err := params.Validate(); err != nil {
		writeConfigError(c, err)
		return
	}

	ctx := c.Request.Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	result, err := h.Simulator.Run(ctx, params)
	if err != nil {
		switch {
		case models.IsConfigError(err):
			writeConfigError(c, err)
		case models.IsInvariantViolation(err):
			writeError(c, http.StatusInternalServerError, "INVARIANT_VIOLATION", "Simulation aborted", gin.H{"error": err.Error(), "run_id": result.RunID})
		case errors.Is(err, context.DeadlineExceeded):
			writeError(c, http.StatusGatewayTimeout, "TIMEOUT", "Simulation timed out", gin.H{"run_id": result.RunID})
		default:
			h.Logger.Error().Err(err).Msg("simulation failed")
			writeError(c, http.StatusInternalServerError, "SIMULATION_ERROR", "Simulation failed", err.Error())
		}
		return
	}

	if strings.EqualFold(c.Query("include_events"), "false") || c.Query("include_events") == "0" {
		result.Envelope.Events = []models.Event{}
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Latest run
// @Tags runs
// @Produce json
// @Success 200 {object} db.Run
// @Router /api/runs/latest [get]
func (h *Handler) RunsLatest(c *gin.Context) {
	if h.Store == nil {
		writeError(c, http.StatusServiceUnavailable, "STORE_DISABLED", "Run storage is not configured", nil)
		return
	}
	result, err := h.Store.GetLatestRun(c.Request.Context())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "No runs found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load run", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

type eventsQuery struct {
	Type   string `form:"type" validate:"omitempty,event_type"`
	Limit  int    `form:"limit" validate:"gte=0,lte=10000"`
	Offset int    `form:"offset" validate:"gte=0"`
}

// @Summary Events of a run
// @Tags runs
// @Produce json
// @Param id path string true "run id"
// @Param type query string false "event type"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} map[string]any
// @Router /api/runs/{id}/events [get]
func (h *Handler) RunEvents(c *gin.Context) {
	if h.Store == nil {
		writeError(c, http.StatusServiceUnavailable, "STORE_DISABLED", "Run storage is not configured", nil)
		return
	}
	runID := c.Param("id")
	if _, err := uuid.Parse(runID); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Run id must be a UUID", runID)
		return
	}
	q := eventsQuery{Limit: 1000}
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid query", err.Error())
		return
	}
	if err := h.Validator.Struct(q); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid query", err.Error())
		return
	}

	ctx := c.Request.Context()
	run, err := h.Store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Run not found", runID)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load run", err.Error())
		return
	}
	events, err := h.Store.ListRunEvents(ctx, runID, q.Type, q.Limit, q.Offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load events", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run":    run,
		"events": events,
		"count":  len(events),
	})
}

// NewValidator returns the request validator with the event_type rule.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		return isEventType(fl.Field().String())
	})
	return v
}

var eventTypes = []models.EventType{
	models.EventArrival,
	models.EventTriageComplete,
	models.EventRoutingDecision,
	models.EventQueueJoin,
	models.EventConsultationStart,
	models.EventConsultationEnd,
	models.EventBedAssignment,
	models.EventBedDischarge,
	models.EventDischarge,
	models.EventStatus,
}

func isEventType(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, t := range eventTypes {
		if string(t) == s {
			return true
		}
	}
	return false
}

func writeConfigError(c *gin.Context, err error) {
	var ce *models.ConfigError
	if errors.As(err, &ce) {
		writeError(c, http.StatusBadRequest, "INVALID_CONFIG", ce.Error(), gin.H{
			"field":  ce.Field,
			"value":  ce.Value,
			"reason": ce.Reason,
		})
		return
	}
	writeError(c, http.StatusBadRequest, "INVALID_CONFIG", err.Error(), nil)
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
