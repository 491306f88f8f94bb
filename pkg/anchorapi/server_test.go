package anchorapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/internal/core/domain"
	"github.com/netpulse/netpulse/internal/core/ports"
	"github.com/netpulse/netpulse/internal/core/services"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

type fakeDispatcher struct {
	lastKind   domain.ProbeKind
	lastTarget string
	id         domain.JobID
	err        error
}

func (f *fakeDispatcher) Submit(_ context.Context, kind domain.ProbeKind, target string) (domain.JobID, error) {
	f.lastKind = kind
	f.lastTarget = target
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

type fakeStore struct {
	items      []domain.StoredMeasurement
	queryErr   error
	stats      domain.StoreStats
	statsErr   error
	exportPath string
	exportErr  error

	gotFilter ports.MeasurementFilter
	gotLimit  int
	gotName   string
}

func (f *fakeStore) Append(_ context.Context, res domain.Result) (domain.StoredMeasurement, error) {
	return domain.StoredMeasurement{StorageID: domain.NewStorageID(), Result: res}, nil
}

func (f *fakeStore) Query(_ context.Context, filter ports.MeasurementFilter, limit int) ([]domain.StoredMeasurement, error) {
	f.gotFilter = filter
	f.gotLimit = limit
	return f.items, f.queryErr
}

func (f *fakeStore) Stats(context.Context) (domain.StoreStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeStore) ExportSnapshot(_ context.Context, name string) (string, error) {
	f.gotName = name
	return f.exportPath, f.exportErr
}

func (f *fakeStore) Close() error { return nil }

type fakeJobs struct{ jobs []domain.Job }

func (f *fakeJobs) List() []domain.Job { return f.jobs }

type fakeWorkers struct{ workers []domain.WorkerRecord }

func (f *fakeWorkers) List() []domain.WorkerRecord { return f.workers }

type fakeSchedules struct {
	addErr   error
	added    []services.Schedule
	removed  []services.ScheduleID
	removeOK bool
	list     []services.Schedule
}

func (f *fakeSchedules) Add(kind domain.ProbeKind, target, spec string) (services.Schedule, error) {
	if f.addErr != nil {
		return services.Schedule{}, f.addErr
	}
	sched := services.Schedule{ID: "sched_test", Kind: kind, Target: target, Spec: spec, CreatedAt: time.Now().UTC()}
	f.added = append(f.added, sched)
	return sched, nil
}

func (f *fakeSchedules) Remove(id services.ScheduleID) bool {
	f.removed = append(f.removed, id)
	return f.removeOK
}

func (f *fakeSchedules) List() []services.Schedule { return f.list }

type fakeBusStatus struct{ connected bool }

func (f *fakeBusStatus) Connected() bool { return f.connected }

type fixture struct {
	dispatcher *fakeDispatcher
	store      *fakeStore
	jobs       *fakeJobs
	workers    *fakeWorkers
	schedules  *fakeSchedules
	events     *services.EventBus
	bus        *fakeBusStatus
	handler    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dispatcher: &fakeDispatcher{id: "job_test"},
		store:      &fakeStore{exportPath: "exports/measurements_1.json"},
		jobs:       &fakeJobs{},
		workers:    &fakeWorkers{},
		schedules:  &fakeSchedules{removeOK: true},
		events:     services.NewEventBus(testLogger()),
		bus:        &fakeBusStatus{connected: true},
	}
	srv := NewServer(testLogger(), f.dispatcher, f.store, f.jobs, f.workers, f.schedules, f.events, f.bus)
	f.handler = srv.Handler()
	return f
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, w)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error object: %s", w.Body.String())
	code, _ := errObj["code"].(string)
	return code
}

func TestSubmitMeasurement(t *testing.T) {
	f := newFixture(t)

	w := doRequest(t, f.handler, http.MethodPost, "/v1/measurements", `{"type":"ping","target":"example.com"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "job_test", body["id"])
	assert.Equal(t, "submitted", body["status"])
	assert.Equal(t, domain.KindPing, f.dispatcher.lastKind)
	assert.Equal(t, "example.com", f.dispatcher.lastTarget)
}

func TestSubmitMeasurementErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"unsupported kind", fmt.Errorf("%w: %q", domain.ErrUnsupportedKind, "icmp"), http.StatusBadRequest, "UNSUPPORTED_KIND"},
		{"invalid target", fmt.Errorf("%w: empty target", domain.ErrInvalidTarget), http.StatusBadRequest, "INVALID_TARGET"},
		{"bus down", fmt.Errorf("%w: %w", domain.ErrDispatchFailed, domain.ErrBusUnavailable), http.StatusServiceUnavailable, "DISPATCH_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.dispatcher.err = tt.err

			w := doRequest(t, f.handler, http.MethodPost, "/v1/measurements", `{"type":"ping","target":"example.com"}`)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantBody, errorCode(t, w))
		})
	}
}

func TestSubmitMeasurementRejectsBadJSON(t *testing.T) {
	f := newFixture(t)

	w := doRequest(t, f.handler, http.MethodPost, "/v1/measurements", `{oops`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
}

func TestListMeasurements(t *testing.T) {
	f := newFixture(t)
	f.store.items = []domain.StoredMeasurement{
		{StorageID: "m_1", Result: domain.Result{JobID: "job_1", Kind: domain.KindPing}},
		{StorageID: "m_2", Result: domain.Result{JobID: "job_2", Kind: domain.KindPing}},
	}

	w := doRequest(t, f.handler, http.MethodGet, "/v1/measurements?type=ping&limit=5", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 2, body["count"])
	assert.Equal(t, domain.KindPing, f.store.gotFilter.Kind)
	assert.Equal(t, 5, f.store.gotLimit)
}

func TestListMeasurementsFilterByJob(t *testing.T) {
	f := newFixture(t)

	w := doRequest(t, f.handler, http.MethodGet, "/v1/measurements?jobId=job_42", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.JobID("job_42"), f.store.gotFilter.JobID)
	assert.Zero(t, f.store.gotLimit)
}

func TestListMeasurementsRejectsBadQuery(t *testing.T) {
	f := newFixture(t)

	w := doRequest(t, f.handler, http.MethodGet, "/v1/measurements?type=icmp", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNSUPPORTED_KIND", errorCode(t, w))

	w = doRequest(t, f.handler, http.MethodGet, "/v1/measurements?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))

	w = doRequest(t, f.handler, http.MethodGet, "/v1/measurements?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMeasurementsStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.store.queryErr = fmt.Errorf("disk on fire")

	w := doRequest(t, f.handler, http.MethodGet, "/v1/measurements", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "STORAGE_FAILURE", errorCode(t, w))
}

func TestMeasurementStats(t *testing.T) {
	f := newFixture(t)
	f.store.stats = domain.StoreStats{
		Total: 4,
		ByKind: map[domain.ProbeKind]domain.KindStats{
			domain.KindPing: {Count: 3, SuccessCount: 2},
			domain.KindDNS:  {Count: 1, SuccessCount: 1},
		},
		SuccessRate: 0.75,
	}

	w := doRequest(t, f.handler, http.MethodGet, "/v1/measurements/stats", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 4, body["total"])
	assert.InDelta(t, 0.75, body["successRate"], 0.0001)
}

func TestExportMeasurements(t *testing.T) {
	f := newFixture(t)

	w := doRequest(t, f.handler, http.MethodPost, "/v1/measurements/export", `{"name":"weekly"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "exports/measurements_1.json", body["path"])
	assert.Equal(t, "weekly", f.store.gotName)
}

func TestExportMeasurementsDefaultsName(t *testing.T) {
	f := newFixture(t)

	w := doRequest(t, f.handler, http.MethodPost, "/v1/measurements/export", "")

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "measurements", f.store.gotName)
}

func TestListJobs(t *testing.T) {
	f := newFixture(t)
	f.jobs.jobs = []domain.Job{{ID: "job_1", Kind: domain.KindPing, Target: "example.com"}}

	w := doRequest(t, f.handler, http.MethodGet, "/v1/jobs", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 1, body["count"])
}

func TestListWorkersEmptyIsArray(t *testing.T) {
	f := newFixture(t)

	w := doRequest(t, f.handler, http.MethodGet, "/v1/workers", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 0, body["count"])
	workers, ok := body["workers"].([]any)
	require.True(t, ok, "workers should encode as an array: %s", w.Body.String())
	assert.Empty(t, workers)
}

func TestCreateSchedule(t *testing.T) {
	f := newFixture(t)

	w := doRequest(t, f.handler, http.MethodPost, "/v1/schedules", `{"type":"http","target":"example.com","spec":"@every 1m"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "sched_test", body["id"])
	require.Len(t, f.schedules.added, 1)
	assert.Equal(t, "@every 1m", f.schedules.added[0].Spec)
}

func TestCreateScheduleErrorMapping(t *testing.T) {
	f := newFixture(t)
	f.schedules.addErr = fmt.Errorf("invalid schedule spec %q: bad syntax", "whenever")

	w := doRequest(t, f.handler, http.MethodPost, "/v1/schedules", `{"type":"http","target":"example.com","spec":"whenever"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_SCHEDULE", errorCode(t, w))

	f.schedules.addErr = fmt.Errorf("%w: %q", domain.ErrUnsupportedKind, "icmp")
	w = doRequest(t, f.handler, http.MethodPost, "/v1/schedules", `{"type":"icmp","target":"example.com","spec":"@every 1m"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNSUPPORTED_KIND", errorCode(t, w))
}

func TestDeleteSchedule(t *testing.T) {
	f := newFixture(t)

	w := doRequest(t, f.handler, http.MethodDelete, "/v1/schedules/sched_abc", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []services.ScheduleID{"sched_abc"}, f.schedules.removed)

	f.schedules.removeOK = false
	w = doRequest(t, f.handler, http.MethodDelete, "/v1/schedules/sched_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	w := doRequest(t, f.handler, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["bus_connected"])

	f.bus.connected = false
	w = doRequest(t, f.handler, http.MethodGet, "/healthz", "")
	body = decodeBody(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["bus_connected"])
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	w := doRequest(t, f.handler, http.MethodPut, "/v1/measurements", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func readSSEFrame(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			return event, data
		}
	}
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	event, _ := readSSEFrame(t, reader)
	require.Equal(t, "connected", event)

	// The handshake frame proves the subscription is attached, so this
	// broadcast cannot be lost.
	f.events.Broadcast(ports.Event{
		Kind:      services.EventKindMeasurement,
		Timestamp: time.Now().UTC(),
		Payload:   map[string]string{"jobId": "job_1"},
	})

	event, data := readSSEFrame(t, reader)
	assert.Equal(t, services.EventKindMeasurement, event)
	assert.JSONEq(t, `{"jobId":"job_1"}`, data)
}
