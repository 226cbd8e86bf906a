package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"imaginer/internal/api"
	"imaginer/internal/hostmem"
	"imaginer/internal/logging"
	"imaginer/internal/testsupport"
	"imaginer/internal/workflow"
)

func newTestAPIServer(t *testing.T, corsOrigins ...string) (*Daemon, *httptest.Server) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.MetricsBind = "127.0.0.1:0"
	cfg.Paths.CORSOrigins = corsOrigins
	store := testsupport.MustOpenStore(t, cfg)

	reg := prometheus.NewRegistry()
	probe := func(context.Context) hostmem.Sample { return hostmem.Sample{TotalBytes: 1 << 30} }
	mgr := workflow.NewManager(cfg, store, &testsupport.Worker{}, logging.NewNop(),
		workflow.WithMemoryProbe(probe),
		workflow.WithMetrics(workflow.NewMetrics(reg)),
	)
	d, err := New(cfg, store, logging.NewNop(), mgr, WithGatherer(reg), WithMemoryProbe(probe))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.http == nil {
		t.Fatal("expected api server for non-empty bind")
	}
	srv := httptest.NewServer(d.http.routes())
	t.Cleanup(srv.Close)
	return d, srv
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealthzReflectsRunningState(t *testing.T) {
	d, srv := newTestAPIServer(t)

	if code, _ := get(t, srv.URL+"/healthz"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", code)
	}
	d.running.Store(true)
	code, body := get(t, srv.URL+"/healthz")
	if code != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", code, body)
	}
}

func TestQueueEndpoints(t *testing.T) {
	d, srv := newTestAPIServer(t)
	id, err := d.Enqueue(context.Background(), api.JobRequest{Prompt: "a lighthouse"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	code, body := get(t, srv.URL+"/api/queue")
	if code != http.StatusOK {
		t.Fatalf("queue status %d", code)
	}
	var snap api.QueueSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Pending) != 1 || snap.Pending[0].ID != id || snap.Completed == nil {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	code, body = get(t, srv.URL+"/api/queue/"+id)
	if code != http.StatusOK {
		t.Fatalf("job status %d", code)
	}
	var job api.Job
	if err := json.Unmarshal(body, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Params.Prompt != "a lighthouse" || job.Status != "queued" {
		t.Fatalf("unexpected job: %+v", job)
	}

	if code, _ := get(t, srv.URL+"/api/queue/missing"); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", code)
	}
}

func TestStatusAndMetricsEndpoints(t *testing.T) {
	d, srv := newTestAPIServer(t)
	if _, err := d.Enqueue(context.Background(), api.JobRequest{Prompt: "fog"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	code, body := get(t, srv.URL+"/api/status")
	if code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Workflow.PendingCount != 1 || status.HostMemory.TotalBytes != 1<<30 {
		t.Fatalf("unexpected status: %+v", status)
	}

	code, body = get(t, srv.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics code %d", code)
	}
	if !strings.Contains(string(body), "imaginer_") {
		t.Fatalf("expected imaginer metrics, got %s", body)
	}
}

func TestAPIServerStartStopBindsListener(t *testing.T) {
	d, _ := newTestAPIServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.http.start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := d.MetricsAddr()
	if addr == "" {
		t.Fatal("expected bound address")
	}
	if code, _ := get(t, "http://"+addr+"/api/queue"); code != http.StatusOK {
		t.Fatalf("unexpected code %d", code)
	}
	d.http.stop()
	if d.MetricsAddr() != "" {
		t.Fatal("expected listener cleared after stop")
	}
}

func TestNilAPIServerIsInert(t *testing.T) {
	var s *apiServer
	if err := s.start(context.Background()); err != nil {
		t.Fatalf("nil start: %v", err)
	}
	s.stop()
	if s.addr() != "" {
		t.Fatal("nil server should report no address")
	}
}

func TestCORSHeadersOnlyForConfiguredOrigins(t *testing.T) {
	_, srv := newTestAPIServer(t, "http://dashboard.local")

	tests := []struct {
		origin string
		want   string
	}{
		{origin: "http://dashboard.local", want: "http://dashboard.local"},
		{origin: "http://elsewhere.local", want: ""},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/queue", nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		req.Header.Set("Origin", tt.origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET /api/queue: %v", err)
		}
		resp.Body.Close()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Fatalf("origin %s: Access-Control-Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}
