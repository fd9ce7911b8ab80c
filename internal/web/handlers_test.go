package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costwise/pricingjobs/internal/config"
	"github.com/costwise/pricingjobs/internal/jobs"
	"github.com/costwise/pricingjobs/internal/notify"
	"github.com/costwise/pricingjobs/internal/store"
	"github.com/costwise/pricingjobs/internal/worker"
)

type fakeStore struct {
	createdID  uuid.UUID
	createErr  error
	lastCreate *createJobRequest

	jobs map[uuid.UUID]*jobs.Job

	active    []jobs.Job
	activeErr error
}

func (f *fakeStore) CreateJob(_ context.Context, op jobs.OperationType, orgID uuid.UUID, totalItems int, data jobs.JobData, createdBy *uuid.UUID) (uuid.UUID, error) {
	f.lastCreate = &createJobRequest{
		OperationType:  op,
		OrganizationID: orgID,
		TotalItems:     totalItems,
		JobData:        data,
		CreatedBy:      createdBy,
	}
	if f.createErr != nil {
		return uuid.Nil, f.createErr
	}
	return f.createdID, nil
}

func (f *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*jobs.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeStore) GetActiveJobsForOrganization(_ context.Context, _ uuid.UUID) ([]jobs.Job, error) {
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	return f.active, nil
}

type fakeRunner struct {
	outcome worker.Outcome
	err     error
	gotID   uuid.UUID
	calls   int
}

func (f *fakeRunner) Run(_ context.Context, jobID uuid.UUID) (worker.Outcome, error) {
	f.gotID = jobID
	f.calls++
	if f.err != nil {
		return worker.Outcome{}, f.err
	}
	return f.outcome, nil
}

type fakeEvents struct {
	ch        chan notify.Event
	cancelled bool
}

func (f *fakeEvents) Subscribe(_ uuid.UUID) (<-chan notify.Event, func()) {
	return f.ch, func() { f.cancelled = true }
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Rate:   config.RateLimitConfig{Enabled: false},
	}
}

func newTestServer(st *fakeStore, runner *fakeRunner, events *fakeEvents) *Server {
	if st.jobs == nil {
		st.jobs = make(map[uuid.UUID]*jobs.Job)
	}
	if events == nil {
		events = &fakeEvents{ch: make(chan notify.Event, 16)}
	}
	return NewServer(st, runner, events, testConfig())
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleCreateJob(t *testing.T) {
	jobID := uuid.New()
	orgID := uuid.New()
	modeID := uuid.New()

	st := &fakeStore{createdID: jobID}
	s := newTestServer(st, &fakeRunner{}, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/pricing-jobs", map[string]any{
		"organization_id": orgID,
		"total_items":     3,
		"job_data": map[string]any{
			"mode_id":   modeID,
			"mode_name": "Premium",
		},
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]uuid.UUID
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID, resp["job_id"])

	require.NotNil(t, st.lastCreate)
	assert.Equal(t, orgID, st.lastCreate.OrganizationID)
	assert.Equal(t, modeID, st.lastCreate.JobData.ModeID)
	// Unspecified operation type falls back to apply_pricing_mode.
	assert.Equal(t, jobs.OpApplyPricingMode, st.lastCreate.OperationType)
}

func TestHandleCreateJob_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing organization", map[string]any{
			"job_data": map[string]any{"mode_id": uuid.New()},
		}},
		{"missing mode", map[string]any{
			"organization_id": uuid.New(),
		}},
		{"negative total", map[string]any{
			"organization_id": uuid.New(),
			"total_items":     -1,
			"job_data":        map[string]any{"mode_id": uuid.New()},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{createdID: uuid.New()}
			s := newTestServer(st, &fakeRunner{}, nil)

			rec := doJSON(t, s, http.MethodPost, "/api/pricing-jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, st.lastCreate)
		})
	}
}

func TestHandleProcessJob_Success(t *testing.T) {
	jobID := uuid.New()
	runner := &fakeRunner{outcome: worker.Outcome{
		Applicable: true,
		JobID:      jobID,
		Status:     jobs.StatusCompleted,
		Summary:    &jobs.ResultSummary{SuccessCount: 100, FailedCount: 20},
	}}
	s := newTestServer(&fakeStore{}, runner, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/pricing-jobs/process", map[string]string{
		"jobId": jobID.String(),
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobID, runner.gotID)

	var resp processJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, jobID, resp.JobID)
	assert.Equal(t, jobs.StatusCompleted, resp.Status)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 100, resp.Result.SuccessCount)
}

func TestHandleProcessJob_NotApplicable(t *testing.T) {
	jobID := uuid.New()
	runner := &fakeRunner{outcome: worker.Outcome{
		Applicable: false,
		JobID:      jobID,
		Status:     jobs.StatusProcessing,
	}}
	s := newTestServer(&fakeStore{}, runner, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/pricing-jobs/process", map[string]string{
		"jobId": jobID.String(),
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp processJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.True(t, resp.NotApplicable)
	assert.Equal(t, jobID, resp.JobID)
	assert.Equal(t, jobs.StatusProcessing, resp.Status)
}

func TestHandleProcessJob_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		runErr     error
		wantStatus int
	}{
		{"invalid body", "not json", nil, http.StatusBadRequest},
		{"invalid uuid", map[string]string{"jobId": "nope"}, nil, http.StatusBadRequest},
		{"job not found", map[string]string{"jobId": uuid.NewString()}, store.ErrJobNotFound, http.StatusNotFound},
		{"too many runs", map[string]string{"jobId": uuid.NewString()}, worker.ErrTooManyRuns, http.StatusTooManyRequests},
		{"internal error", map[string]string{"jobId": uuid.NewString()}, fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{err: tt.runErr}
			s := newTestServer(&fakeStore{}, runner, nil)

			rec := doJSON(t, s, http.MethodPost, "/api/pricing-jobs/process", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestHandleProcessJob_RetryAfterOnLimit(t *testing.T) {
	runner := &fakeRunner{err: worker.ErrTooManyRuns}
	s := newTestServer(&fakeStore{}, runner, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/pricing-jobs/process", map[string]string{
		"jobId": uuid.NewString(),
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
}

func TestHandleGetJob(t *testing.T) {
	jobID := uuid.New()
	st := &fakeStore{jobs: map[uuid.UUID]*jobs.Job{
		jobID: {ID: jobID, Status: jobs.StatusPending, TotalItems: 7},
	}}
	s := newTestServer(st, &fakeRunner{}, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/pricing-jobs/"+jobID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, jobID, got.ID)
	assert.Equal(t, 7, got.TotalItems)
}

func TestHandleGetJob_NotFound(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeRunner{}, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/pricing-jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetJob_InvalidID(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeRunner{}, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/pricing-jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleActiveJobs(t *testing.T) {
	orgID := uuid.New()
	st := &fakeStore{active: []jobs.Job{
		{ID: uuid.New(), Status: jobs.StatusProcessing},
		{ID: uuid.New(), Status: jobs.StatusPending},
	}}
	s := newTestServer(st, &fakeRunner{}, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/organizations/"+orgID.String()+"/pricing-jobs/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
}

func TestHandleJobEvents_StreamsToTerminal(t *testing.T) {
	jobID := uuid.New()
	st := &fakeStore{jobs: map[uuid.UUID]*jobs.Job{
		jobID: {ID: jobID, Status: jobs.StatusProcessing, TotalItems: 10},
	}}

	events := &fakeEvents{ch: make(chan notify.Event, 4)}
	events.ch <- notify.Event{JobID: jobID, Kind: notify.EventProgress, At: time.Now()}
	events.ch <- notify.Event{JobID: jobID, Kind: notify.EventCompleted, At: time.Now()}

	s := newTestServer(st, &fakeRunner{}, events)

	rec := doJSON(t, s, http.MethodGet, "/api/pricing-jobs/"+jobID.String()+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "event: snapshot"), "missing snapshot frame: %s", body)
	assert.True(t, strings.Contains(body, "event: progress"), "missing progress frame: %s", body)
	assert.True(t, strings.Contains(body, "event: completed"), "missing completed frame: %s", body)
	assert.True(t, events.cancelled, "stream should unsubscribe on return")
}

func TestHandleJobEvents_TerminalJobClosesImmediately(t *testing.T) {
	jobID := uuid.New()
	st := &fakeStore{jobs: map[uuid.UUID]*jobs.Job{
		jobID: {ID: jobID, Status: jobs.StatusCompleted},
	}}
	events := &fakeEvents{ch: make(chan notify.Event)}

	s := newTestServer(st, &fakeRunner{}, events)

	rec := doJSON(t, s, http.MethodGet, "/api/pricing-jobs/"+jobID.String()+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "event: snapshot"))
	assert.True(t, events.cancelled)
}

func TestHandleJobEvents_UnknownJob(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeRunner{}, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/pricing-jobs/"+uuid.NewString()+"/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeRunner{}, nil)

	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))

	// Different IPs have independent buckets.
	assert.True(t, rl.allow("10.0.0.2"))
}
