package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edflow/backend/internal/config"
	"github.com/edflow/backend/internal/db"
	httpapi "github.com/edflow/backend/internal/http"
	"github.com/edflow/backend/internal/http/handlers"
	"github.com/edflow/backend/internal/models"
	"github.com/edflow/backend/internal/service"
	"github.com/edflow/backend/internal/triage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const adminKey = "secret"

func testRouter() *gin.Engine {
	cfg := config.Config{
		AdminKey:    adminKey,
		CORSAllowed: "*",
		Simulation:  config.DefaultSimulation(),
	}
	sims := &service.SimulationService{Logger: zerolog.Nop()}
	return httpapi.Router(cfg, nil, sims, zerolog.Nop())
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthzWithoutStore(t *testing.T) {
	w := do(t, testRouter(), http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","database":"disabled"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	w := do(t, testRouter(), http.MethodGet, "/healthz", nil, map[string]string{"X-Request-Id": "abc"})
	assert.Equal(t, "abc", w.Header().Get("X-Request-Id"))
}

func TestDefaults(t *testing.T) {
	w := do(t, testRouter(), http.MethodGet, "/api/config/defaults", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Simulation config.Simulation `json:"simulation"`
		Policies   []string          `json:"policies"`
		Priorities []map[string]any  `json:"priorities"`
	}](t, w)
	assert.Equal(t, config.DefaultSimulation(), body.Simulation)
	assert.Contains(t, body.Policies, "ensemble-stochastic")
	require.Len(t, body.Priorities, 5)
	assert.Equal(t, "red", body.Priorities[0]["priority"])
}

func TestTriageExplain(t *testing.T) {
	cases := []struct {
		name     string
		body     handlers.ExplainRequest
		priority string
	}{
		{"cardiac arrest", handlers.ExplainRequest{Symptoms: []string{"cardiac arrest"}}, "red"},
		{"mixed urgent", handlers.ExplainRequest{Symptoms: []string{"chest pain", "severe headache", "high fever", "difficulty breathing"}}, "orange"},
		{"empty with history", handlers.ExplainRequest{Symptoms: []string{}, History: "chronic heart disease"}, "blue"},
		{"mild pain with heart history", handlers.ExplainRequest{Symptoms: []string{"mild pain"}, History: "history of heart failure"}, "green"},
	}
	r := testRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/triage/explain", tc.body, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			res := decode[handlers.ExplainResponse](t, w)
			assert.Equal(t, tc.priority, res.Priority)
			assert.Len(t, res.Matches, len(tc.body.Symptoms))
			assert.Len(t, res.AdjustedScores, 5)
		})
	}
}

func TestTriageExplainRejectsBadJSON(t *testing.T) {
	w := do(t, testRouter(), http.MethodPost, "/api/triage/explain", `{"symptoms": "chest pain"`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[errorBody](t, w).Error.Code)
}

func TestSimulateRequiresAdminKey(t *testing.T) {
	w := do(t, testRouter(), http.MethodPost, "/api/simulate", map[string]any{"duration": 30}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[errorBody](t, w).Error.Code)
}

func TestSimulate(t *testing.T) {
	auth := map[string]string{"X-Admin-Key": adminKey}
	r := testRouter()

	w := do(t, r, http.MethodPost, "/api/simulate", map[string]any{"duration": 60, "seed": 1, "num_doctors": 1}, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[service.RunResult](t, w)
	_, err := uuid.Parse(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 60.0, res.Envelope.SimulationInfo.DurationMinutes)
	assert.Equal(t, int64(1), res.Envelope.SimulationInfo.Seed)
	assert.Len(t, res.Envelope.Events, res.Envelope.SimulationInfo.TotalEvents)
	require.NotEmpty(t, res.Envelope.Events)
	assert.Equal(t, models.EventStatus, res.Envelope.Events[0].Type)

	w = do(t, r, http.MethodPost, "/api/simulate?include_events=false", nil, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res = decode[service.RunResult](t, w)
	assert.Empty(t, res.Envelope.Events)
	assert.Positive(t, res.Envelope.SimulationInfo.TotalEvents)
}

func TestSimulateRejectsInvalidConfig(t *testing.T) {
	auth := map[string]string{"X-Admin-Key": adminKey}
	r := testRouter()

	w := do(t, r, http.MethodPost, "/api/simulate", map[string]any{"num_doctors": 0}, auth)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, "INVALID_CONFIG", body.Error.Code)
	assert.Equal(t, "num_doctors", body.Error.Details["field"])

	w = do(t, r, http.MethodPost, "/api/simulate", map[string]any{"policy": "oracle"}, auth)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "policy", decode[errorBody](t, w).Error.Details["field"])

	w = do(t, r, http.MethodPost, "/api/simulate", map[string]any{"doctors": 2}, auth)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[errorBody](t, w).Error.Code)
}

func TestRunEndpointsWithoutStore(t *testing.T) {
	r := testRouter()
	w := do(t, r, http.MethodGet, "/api/runs/latest", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = do(t, r, http.MethodGet, "/api/runs/"+uuid.NewString()+"/events", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type fakeRuns struct {
	run    db.Run
	events []models.Event
	gotTyp string
}

func (f *fakeRuns) Ping(context.Context) error { return nil }

func (f *fakeRuns) GetLatestRun(context.Context) (db.Run, error) {
	if f.run.ID == "" {
		return db.Run{}, db.ErrNotFound
	}
	return f.run, nil
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (db.Run, error) {
	if id != f.run.ID {
		return db.Run{}, db.ErrNotFound
	}
	return f.run, nil
}

func (f *fakeRuns) ListRunEvents(_ context.Context, _ string, typ string, _, _ int) ([]models.Event, error) {
	f.gotTyp = typ
	return f.events, nil
}

func storeRouter(store handlers.RunReader) *gin.Engine {
	h := &handlers.Handler{
		Store:     store,
		Triage:    triage.NewEngine(),
		Validator: handlers.NewValidator(),
		Logger:    zerolog.Nop(),
	}
	r := gin.New()
	r.GET("/healthz", h.Healthz)
	r.GET("/api/runs/latest", h.RunsLatest)
	r.GET("/api/runs/:id/events", h.RunEvents)
	return r
}

func TestRunEndpoints(t *testing.T) {
	store := &fakeRuns{}
	r := storeRouter(store)

	w := do(t, r, http.MethodGet, "/api/runs/latest", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	store.run = db.Run{ID: uuid.NewString(), Status: db.RunFinished, Policy: "rule-based", Seed: 42}
	store.events = []models.Event{{Time: 1, Type: models.EventArrival, PatientName: "Patient 1"}}

	w = do(t, r, http.MethodGet, "/api/runs/latest", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, store.run.ID, decode[db.Run](t, w).ID)

	w = do(t, r, http.MethodGet, "/api/runs/"+store.run.ID+"/events?type=arrival&limit=5", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[struct {
		Count  int              `json:"count"`
		Events []map[string]any `json:"events"`
	}](t, w)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "ARRIVAL", body.Events[0]["event_type"])
	assert.Equal(t, "arrival", store.gotTyp)

	w = do(t, r, http.MethodGet, "/api/runs/not-a-uuid/events", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/runs/"+uuid.NewString()+"/events", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/api/runs/"+store.run.ID+"/events?type=LUNCH", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/runs/"+store.run.ID+"/events?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthzWithStore(t *testing.T) {
	w := do(t, storeRouter(&fakeRuns{}), http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok"}`, w.Body.String())
}

type fakeBroker struct {
	connected  bool
	reconnects int
}

func (f *fakeBroker) Publish(string, []byte) error { return nil }

func (f *fakeBroker) IsConnected() bool { return f.connected }

func (f *fakeBroker) Reconnects() int { return f.reconnects }

func TestHealthzReportsBroker(t *testing.T) {
	cfg := config.Config{Simulation: config.DefaultSimulation()}
	sims := &service.SimulationService{Publisher: &fakeBroker{reconnects: 2}, Logger: zerolog.Nop()}
	r := httpapi.Router(cfg, nil, sims, zerolog.Nop())

	w := do(t, r, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","database":"disabled","nats":{"connected":false,"reconnects":2}}`, w.Body.String())
}
