package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rvallejo/forq/internal/broker"
	pebblebroker "github.com/rvallejo/forq/internal/broker/pebble"
	"github.com/rvallejo/forq/internal/metrics"
	"github.com/rvallejo/forq/internal/monitor"
	pebblestore "github.com/rvallejo/forq/internal/storage/pebble"
)

func newTestServer(t *testing.T) (*Server, broker.Broker) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	b := pebblebroker.New(db, pebblebroker.Options{})
	mgr := broker.NewManager(func(ctx context.Context) (broker.Broker, error) {
		return b, nil
	}, broker.ManagerOptions{})
	t.Cleanup(func() { mgr.Release() })

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	mon := monitor.New(mgr, nil)
	return New(mgr, mon, met, reg, nil), b
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueAndList(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/queues/mail/jobs",
		`{"name": "welcome", "payload": {"user": "ada"}, "options": {"max_attempts": 5}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d, body %s", rec.Code, rec.Body)
	}
	var created enqueueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.ID == "" {
		t.Fatalf("enqueue response = %s", rec.Body)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/queues/mail/jobs?state=waiting", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, body %s", rec.Code, rec.Body)
	}
	var listed struct {
		Jobs []monitor.JobView `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listed.Jobs) != 1 || listed.Jobs[0].Name != "welcome" || listed.Jobs[0].MaxAttempts != 5 {
		t.Fatalf("listing = %+v", listed.Jobs)
	}
}

func TestListWithCELFilter(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	for _, name := range []string{"welcome", "digest", "welcome"} {
		rec := doJSON(t, h, http.MethodPost, "/v1/queues/mail/jobs",
			`{"name": "`+name+`", "payload": {}}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("enqueue status = %d", rec.Code)
		}
	}

	rec := doJSON(t, h, http.MethodGet, `/v1/queues/mail/jobs?filter=name%20%3D%3D%20%22welcome%22`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("filtered list status = %d, body %s", rec.Code, rec.Body)
	}
	var listed struct {
		Jobs []monitor.JobView `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listed.Jobs) != 2 {
		t.Fatalf("filter matched %d jobs, want 2", len(listed.Jobs))
	}

	rec = doJSON(t, h, http.MethodGet, `/v1/queues/mail/jobs?filter=name%20%3D%3D`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed filter status = %d, want 400", rec.Code)
	}
}

func TestStatsEndpoints(t *testing.T) {
	s, b := newTestServer(t)
	h := s.Handler()

	doJSON(t, h, http.MethodPost, "/v1/queues/mail/jobs", `{"name": "a", "payload": {}}`)
	doJSON(t, h, http.MethodPost, "/v1/queues/mail/jobs", `{"name": "b", "payload": {}}`)
	if _, err := b.Claim(context.Background(), "mail", "w1", 1, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/queues/mail/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats monitor.QueueStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Counts.Waiting != 1 || stats.Counts.Active != 1 {
		t.Fatalf("stats = %+v, want waiting=1 active=1", stats.Counts)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/queues/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("queues status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"mail"`) {
		t.Fatalf("queues body missing mail: %s", rec.Body)
	}
}

func TestBadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	if rec := doJSON(t, h, http.MethodPost, "/v1/queues/mail/jobs", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/v1/queues/mail/jobs", `{"payload": {}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/v1/queues/mail/jobs?state=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown state status = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/v1/queues/mail/jobs?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	if rec := doJSON(t, h, http.MethodGet, "/v1/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	doJSON(t, h, http.MethodPost, "/v1/queues/mail/jobs", `{"name": "a", "payload": {}}`)
	rec := doJSON(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "forq_jobs_enqueued_total") {
		t.Fatal("metrics output missing enqueue counter")
	}
}

func TestUnreachableBroker(t *testing.T) {
	mgr := broker.NewManager(func(ctx context.Context) (broker.Broker, error) {
		return nil, context.DeadlineExceeded
	}, broker.ManagerOptions{DialAttempts: 1, DialBackoff: time.Millisecond})
	s := New(mgr, monitor.New(mgr, nil), nil, nil, nil)
	h := s.Handler()

	if rec := doJSON(t, h, http.MethodGet, "/v1/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz status = %d, want 503", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/v1/queues/mail/jobs", `{"name": "a"}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("enqueue status = %d, want 503", rec.Code)
	}
}
