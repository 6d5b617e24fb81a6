package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/httpapi"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/idempotency"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    loadMode
		wantErr string
	}{
		{name: "preview", input: "preview", want: modePreview},
		{name: "read-mix", input: " read-mix ", want: modeReadMix},
		{name: "cancel-replay", input: "cancel-replay", want: modeCancelReplay},
		{name: "unsupported", input: "create-pay", wantErr: "unsupported mode"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMode(tc.input)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected mode: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("defaults target demo data", func(t *testing.T) {
		cfg, err := parseConfig(nil)
		if err != nil {
			t.Fatalf("parseConfig failed: %v", err)
		}
		if cfg.mode != modePreview || cfg.total != 400 || cfg.totalSet {
			t.Fatalf("unexpected defaults: %+v", cfg)
		}
		if !slices.Equal(cfg.orders, defaultOrders) {
			t.Fatalf("unexpected default orders: %v", cfg.orders)
		}
		if cfg.customerID != "demo-customer" || cfg.garageID != "demo-garage" {
			t.Fatalf("unexpected actors: %+v", cfg)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		cfg, err := parseConfig([]string{
			"-base-url=http://api.local:8080/",
			"-mode=read-mix",
			"-total=12",
			"-duration=1m",
			"-concurrency=3",
			"-connections=2",
			"-timeout=750ms",
			"-orders=o-1, ,o-2",
			"-customer=c-9",
			"-garage=g-9",
		})
		if err != nil {
			t.Fatalf("parseConfig failed: %v", err)
		}
		if cfg.baseURL != "http://api.local:8080" {
			t.Fatalf("trailing slash must be trimmed, got %s", cfg.baseURL)
		}
		if !cfg.totalSet || cfg.total != 12 || cfg.duration != time.Minute {
			t.Fatalf("unexpected run target: %+v", cfg)
		}
		if cfg.timeout != 750*time.Millisecond {
			t.Fatalf("unexpected timeout: %s", cfg.timeout)
		}
		if !slices.Equal(cfg.orders, []string{"o-1", "o-2"}) {
			t.Fatalf("unexpected orders: %v", cfg.orders)
		}
	})

	invalid := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "relative url", args: []string{"-base-url=localhost"}, wantErr: "absolute URL"},
		{name: "negative duration", args: []string{"-duration=-1s"}, wantErr: "duration must be >= 0"},
		{name: "zero total", args: []string{"-total=0"}, wantErr: "total must be > 0"},
		{name: "zero total with duration", args: []string{"-duration=1s", "-total=0"}, wantErr: "explicitly set"},
		{name: "concurrency", args: []string{"-concurrency=0"}, wantErr: "concurrency must be > 0"},
		{name: "connections", args: []string{"-connections=0"}, wantErr: "connections must be > 0"},
		{name: "timeout", args: []string{"-timeout=0s"}, wantErr: "timeout must be > 0"},
		{name: "no orders", args: []string{"-orders= , "}, wantErr: "order id"},
		{name: "no customer", args: []string{"-customer= "}, wantErr: "customer is required"},
		{name: "read-mix without garage", args: []string{"-mode=read-mix", "-garage="}, wantErr: "garage is required"},
		{name: "bad mode", args: []string{"-mode=stress"}, wantErr: "unsupported mode"},
		{name: "bad duration", args: []string{"-duration=soon"}, wantErr: "duration"},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseConfig(tc.args)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		jobs := make(chan int, 32)
		done := make(chan struct{})
		go func() {
			dispatchJobs(jobs, config{duration: 20 * time.Millisecond})
			close(done)
		}()

		count := 0
		for range jobs {
			count++
		}
		<-done
		if count == 0 {
			t.Fatalf("expected non-zero jobs for duration mode")
		}
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{duration: time.Second, total: 3, totalSet: true})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record(scenarioMethod, 10*time.Millisecond, "200", true)
	c.record(scenarioMethod, 20*time.Millisecond, "500", false)
	c.record("CancellationPreview", 15*time.Millisecond, "200", true)

	snap, ok := c.snapshot(scenarioMethod)
	if !ok {
		t.Fatalf("scenario snapshot missing")
	}
	if snap.Calls != 2 || snap.Success != 1 || snap.Failed != 1 {
		t.Fatalf("unexpected scenario snapshot: %+v", snap)
	}
	if snap.Codes["200"] != 1 || snap.Codes["500"] != 1 {
		t.Fatalf("unexpected codes: %+v", snap.Codes)
	}
	if _, ok := c.snapshot("missing"); ok {
		t.Fatal("unknown method must not have a snapshot")
	}

	r := c.buildReport(time.Now(), 2*time.Second)
	if r.TotalScenarios != 2 || r.FailedScenarios != 1 {
		t.Fatalf("unexpected report totals: %+v", r)
	}
	if r.RPS <= 0 {
		t.Fatalf("expected positive rps, got %f", r.RPS)
	}
	if _, ok := r.Methods["CancellationPreview"]; !ok {
		t.Fatalf("expected CancellationPreview stats in report")
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio mismatch: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	if summary.P50 <= 0 || summary.P95 <= 0 || summary.Max != 40 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}
	if p := percentile(values, 95); p <= 0 {
		t.Fatalf("unexpected percentile: %f", p)
	}

	if got := runTarget(config{total: 50}); got != "count:50" {
		t.Fatalf("unexpected run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second}); got != "duration:2s" {
		t.Fatalf("unexpected duration run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second, total: 10, totalSet: true}); got != "duration:2s,max-total:10" {
		t.Fatalf("unexpected capped duration run target: %s", got)
	}

	if !cancelAccepts(http.StatusConflict) || cancelAccepts(http.StatusInternalServerError) {
		t.Fatal("cancel replay must accept conflicts and reject server errors")
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2}
	if err := writeJSONReport(path, sample); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || decoded.SuccessScenarios != 2 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	if err := writeJSONReport("../escape.json", sample); err == nil {
		t.Fatal("expected error for path outside current directory")
	}
}

// fakeAPI отвечает как lifecycle API: проверяет заголовки актора и повторяет ответ по Idempotency-Key.
type fakeAPI struct {
	mu      sync.Mutex
	paths   map[string]int
	keys    map[string]int
	actors  map[string]string
	failFor string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{paths: map[string]int{}, keys: map[string]int{}, actors: map[string]string{}}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	actorID := r.Header.Get(httpapi.HeaderActorID)
	role := r.Header.Get(httpapi.HeaderActorRole)
	if actorID == "" || role == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.paths[r.URL.Path]++
	f.actors[r.URL.Path] = role + ":" + actorID

	if f.failFor != "" && strings.HasSuffix(r.URL.Path, f.failFor) {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if r.Method == http.MethodPost {
		key := r.Header.Get(idempotency.HeaderKey)
		if key == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.keys[key]++
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{}`))
}

func testConfig(baseURL string, mode loadMode) config {
	return config{
		baseURL:     baseURL,
		total:       6,
		concurrency: 2,
		connections: 1,
		timeout:     2 * time.Second,
		mode:        mode,
		orders:      []string{"demo-confirmed", "demo-delivered"},
		customerID:  "demo-customer",
		garageID:    "demo-garage",
	}
}

func TestRun_PreviewMode(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()

	var out bytes.Buffer
	cfg := testConfig(srv.URL, modePreview)
	result, err := run(context.Background(), cfg, srv.Client(), &out)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.TotalScenarios != 6 || result.FailedScenarios != 0 {
		t.Fatalf("unexpected report: %+v", result)
	}
	if got := api.paths["/api/v1/orders/demo-confirmed/cancellation-preview"]; got != 3 {
		t.Fatalf("orders must be targeted round-robin, got %d previews for demo-confirmed", got)
	}
	if api.actors["/api/v1/orders/demo-confirmed/cancellation-preview"] != "customer:demo-customer" {
		t.Fatalf("unexpected actor headers: %v", api.actors)
	}
	if !strings.Contains(out.String(), "CancellationPreview") {
		t.Fatalf("expected method section, got: %s", out.String())
	}
}

func TestRun_ReadMixUsesGarageActor(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg := testConfig(srv.URL, modeReadMix)
	cfg.total = 2
	result, err := run(context.Background(), cfg, srv.Client(), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, method := range []string{"CancellationPreview", "ReturnPreview", "OrderHistory", "AbuseStatus", "GarageAccountability"} {
		if result.Methods[method].Calls != 2 {
			t.Fatalf("expected 2 calls of %s, got %+v", method, result.Methods[method])
		}
	}
	if got := api.actors["/api/v1/garages/demo-garage/accountability"]; got != "garage:demo-garage" {
		t.Fatalf("accountability must be read as the garage, got %q", got)
	}
}

func TestRun_CancelReplaySharesKeyPerOrder(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg := testConfig(srv.URL, modeCancelReplay)
	result, err := run(context.Background(), cfg, srv.Client(), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.FailedScenarios != 0 {
		t.Fatalf("unexpected failures: %+v", result)
	}
	if len(api.keys) != 2 {
		t.Fatalf("expected one idempotency key per order, got %v", api.keys)
	}
	for key, count := range api.keys {
		if !strings.HasPrefix(key, "lt-cancel-") || count != 3 {
			t.Fatalf("unexpected key usage %s=%d", key, count)
		}
	}
}

func TestRun_CountsFailures(t *testing.T) {
	api := newFakeAPI()
	api.failFor = "/history"
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg := testConfig(srv.URL, modeReadMix)
	cfg.total = 2
	result, err := run(context.Background(), cfg, srv.Client(), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.FailedScenarios != 2 {
		t.Fatalf("expected every scenario to fail on history, got %+v", result)
	}
	if result.Methods["OrderHistory"].Codes["500"] != 2 {
		t.Fatalf("expected 500 codes for history, got %+v", result.Methods["OrderHistory"])
	}
	if _, ok := result.Methods["AbuseStatus"]; ok {
		t.Fatal("scenario must stop at the first failed call")
	}
}

func TestRun_TransportErrorAndReportFile(t *testing.T) {
	srv := httptest.NewServer(newFakeAPI())
	baseURL := srv.URL
	srv.Close()

	dir := t.TempDir()
	cfg := testConfig(baseURL, modePreview)
	cfg.total = 1
	cfg.timeout = 200 * time.Millisecond
	cfg.outputPath = filepath.Join(dir, "report.json")

	result, err := run(context.Background(), cfg, http.DefaultClient, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Methods["CancellationPreview"].Codes[transportFailure] != 1 {
		t.Fatalf("expected transport error, got %+v", result.Methods)
	}
	if _, err := os.Stat(cfg.outputPath); err != nil {
		t.Fatalf("expected report file: %v", err)
	}
}

func TestPrintReport(t *testing.T) {
	r := report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Methods: map[string]methodReport{
			scenarioMethod:        {Calls: 2, Success: 2},
			"CancellationPreview": {Calls: 2, Success: 2},
		},
	}

	var out bytes.Buffer
	printReport(&out, r, config{mode: modePreview, total: 2})

	if !strings.Contains(out.String(), "Load test summary") {
		t.Fatalf("expected summary header, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "CancellationPreview") {
		t.Fatalf("expected method section, got: %s", out.String())
	}
	if strings.Contains(out.String(), scenarioMethod+":") {
		t.Fatalf("scenario aggregate must not be listed as a method: %s", out.String())
	}
}
