package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/piperunner/internal/config"
	"git.home.luguber.info/inful/piperunner/internal/metrics"
	"git.home.luguber.info/inful/piperunner/internal/version"
)

type stubBackend struct {
	queued    []RunJob
	active    []RunJob
	history   []RunJob
	submitted []RunJob
	aborted   []string
	submitErr error
	abortErr  error
	status    StatusData
}

func (s *stubBackend) SubmitRun(trigger Trigger, branch string) (RunJob, error) {
	if s.submitErr != nil {
		return RunJob{}, s.submitErr
	}
	job := RunJob{
		ID:        "run-stub",
		Trigger:   trigger,
		Branch:    branch,
		Status:    JobQueued,
		CreatedAt: time.Now(),
	}
	s.submitted = append(s.submitted, job)
	return job, nil
}

func (s *stubBackend) GetQueuedJobs() []RunJob { return s.queued }
func (s *stubBackend) GetActiveJobs() []RunJob { return s.active }
func (s *stubBackend) GetHistory() []RunJob    { return s.history }

func (s *stubBackend) GetJob(id string) (RunJob, bool) {
	for _, set := range [][]RunJob{s.active, s.queued, s.history} {
		for _, job := range set {
			if job.ID == id {
				return job, true
			}
		}
	}
	return RunJob{}, false
}

func (s *stubBackend) AbortJob(id string) error {
	if s.abortErr != nil {
		return s.abortErr
	}
	s.aborted = append(s.aborted, id)
	return nil
}

func (s *stubBackend) StatusData() StatusData { return s.status }

func newTestServer(t *testing.T, apiKey string, backend Backend) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	cfg.Daemon = &config.DaemonConfig{
		Listen:    "127.0.0.1:0",
		APIKey:    apiKey,
		QueueSize: 10,
		Workers:   1,
		History:   10,
	}

	srv := NewServer(cfg, backend, nil)
	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return ts
}

func TestServerHealth(t *testing.T) {
	ts := newTestServer(t, "", &stubBackend{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, "piperunner", body["app"])
}

func TestServerBearerAuth(t *testing.T) {
	ts := newTestServer(t, "sekret", &stubBackend{})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic sekret", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"valid key", "Bearer sekret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/status", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := ts.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestServerHealthSkipsAuth(t *testing.T) {
	ts := newTestServer(t, "sekret", &stubBackend{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerStatusWithoutAuthConfigured(t *testing.T) {
	backend := &stubBackend{status: StatusData{Status: StatusRunning, Version: version.Version}}
	ts := newTestServer(t, "", backend)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data StatusData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	require.Equal(t, StatusRunning, data.Status)
	require.Equal(t, version.Version, data.Version)
}

func TestServerSubmitRun(t *testing.T) {
	backend := &stubBackend{}
	ts := newTestServer(t, "", backend)

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{"branch": "develop"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var job RunJob
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	require.Equal(t, "run-stub", job.ID)
	require.Equal(t, TriggerAPI, job.Trigger)
	require.Equal(t, "develop", job.Branch)
	require.Len(t, backend.submitted, 1)
}

func TestServerSubmitRunEmptyBody(t *testing.T) {
	backend := &stubBackend{}
	ts := newTestServer(t, "", backend)

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, backend.submitted, 1)
	require.Empty(t, backend.submitted[0].Branch)
}

func TestServerSubmitRunBadBody(t *testing.T) {
	ts := newTestServer(t, "", &stubBackend{})

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{"branch":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerSubmitRunQueueFull(t *testing.T) {
	ts := newTestServer(t, "", &stubBackend{submitErr: ErrQueueFull})

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "run queue is full", body.Message)
}

func TestServerListRuns(t *testing.T) {
	backend := &stubBackend{
		queued:  []RunJob{{ID: "run-q", Status: JobQueued}},
		active:  []RunJob{{ID: "run-a", Status: JobRunning}},
		history: []RunJob{{ID: "run-h", Status: JobCompleted}},
	}
	ts := newTestServer(t, "", backend)

	resp, err := http.Get(ts.URL + "/api/v1/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Queued  []RunJob `json:"queued"`
		Active  []RunJob `json:"active"`
		History []RunJob `json:"history"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Queued, 1)
	require.Len(t, body.Active, 1)
	require.Len(t, body.History, 1)
	require.Equal(t, "run-a", body.Active[0].ID)
}

func TestServerGetRun(t *testing.T) {
	backend := &stubBackend{history: []RunJob{{ID: "run-7", Status: JobCompleted}}}
	ts := newTestServer(t, "", backend)

	resp, err := http.Get(ts.URL + "/api/v1/runs/run-7")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var job RunJob
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	require.Equal(t, "run-7", job.ID)

	resp, err = http.Get(ts.URL + "/api/v1/runs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerAbortRun(t *testing.T) {
	backend := &stubBackend{active: []RunJob{{ID: "run-9", Status: JobRunning}}}
	ts := newTestServer(t, "", backend)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/runs/run-9", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, []string{"run-9"}, backend.aborted)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "aborting", body["status"])
}

func TestServerAbortRunNotFound(t *testing.T) {
	ts := newTestServer(t, "", &stubBackend{})

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/runs/nope", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerAbortRunNotActive(t *testing.T) {
	backend := &stubBackend{
		history:  []RunJob{{ID: "run-5", Status: JobCompleted}},
		abortErr: errors.New("run run-5 is not active"),
	}
	ts := newTestServer(t, "", backend)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/runs/run-5", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServerMetricsRoute(t *testing.T) {
	reg := prom.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)
	rec.SetQueueLength(3)

	cfg := config.Default()
	cfg.Daemon = &config.DaemonConfig{Listen: "127.0.0.1:0"}
	srv := NewServer(cfg, &stubBackend{}, metrics.HTTPHandler(reg))
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "piperunner_queue_length 3")
}

func TestServerMetricsRouteDisabled(t *testing.T) {
	ts := newTestServer(t, "", &stubBackend{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
