package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func runCommand(t *testing.T, base string, args ...string) (string, error) {
	t.Helper()
	root := NewRoot(func() string { return base })
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEnqueueCommand(t *testing.T) {
	var got struct {
		Name    string          `json:"name"`
		Payload json.RawMessage `json:"payload"`
		Options struct {
			MaxAttempts int    `json:"max_attempts"`
			ID          string `json:"id"`
		} `json:"options"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/queues/mail/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "queue": "mail"})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "queue", "enqueue", "mail", "welcome",
		"--payload", `{"user":"ada"}`, "--max-attempts", "5", "--id", "dedup-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if strings.TrimSpace(out) != "job-1" {
		t.Fatalf("output = %q, want the job id", out)
	}
	if got.Name != "welcome" || got.Options.MaxAttempts != 5 || got.Options.ID != "dedup-1" {
		t.Fatalf("request = %+v", got)
	}
}

func TestEnqueueRejectsBadPayload(t *testing.T) {
	if _, err := runCommand(t, "http://127.0.0.1:0", "queue", "enqueue", "mail", "x", "--payload", "{not json"); err == nil {
		t.Fatal("invalid payload accepted")
	}
}

func TestStatsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/queues/mail/stats" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"queue":  "mail",
			"counts": map[string]int{"waiting": 2, "active": 1},
		})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "queue", "stats", "mail")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "waiting=2") || !strings.Contains(out, "active=1") {
		t.Fatalf("output = %q", out)
	}
}

func TestJobsCommandPassesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != "waiting" || q.Get("filter") != `name == "welcome"` || q.Get("limit") != "5" {
			t.Errorf("query = %v", q)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jobs": []map[string]any{
			{"id": "j1", "name": "welcome", "state": "waiting", "attempt": 0, "max_attempts": 3},
		}})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "queue", "jobs", "mail",
		"--state", "waiting", "--filter", `name == "welcome"`, "--limit", "5")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if !strings.Contains(out, "j1") || !strings.Contains(out, "welcome") {
		t.Fatalf("output = %q", out)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "broker unreachable"})
	}))
	defer srv.Close()

	_, err := runCommand(t, srv.URL, "queue", "stats", "mail")
	if err == nil || !strings.Contains(err.Error(), "broker unreachable") {
		t.Fatalf("err = %v, want the server's message", err)
	}
}
