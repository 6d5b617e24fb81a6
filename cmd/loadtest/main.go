package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/httpapi"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/idempotency"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/version"
)

const (
	apiPrefix        = "/api/v1"
	transportFailure = "transport_error"
	scenarioMethod   = "scenario"
)

// Идентификаторы демо-данных, которые сервис создаёт при LIFECYCLE_SEED_DEMO_DATA=true.
var defaultOrders = []string{
	"demo-pending-payment",
	"demo-confirmed",
	"demo-preparing",
	"demo-in-transit",
	"demo-delivered",
	"demo-delivered-expired",
}

type loadMode string

const (
	modePreview      loadMode = "preview"
	modeReadMix      loadMode = "read-mix"
	modeCancelReplay loadMode = "cancel-replay"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	orders      []string
	customerID  string
	garageID    string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// record учитывает вызов; code - HTTP статус строкой либо transport_error.
func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.methods[method]
	if !exists {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (s *methodStats) report() methodReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}
	return stats.report(), true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods[scenarioMethod]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		result.Methods[name] = stats.report()
	}

	return result
}

func parseConfig(args []string) (config, error) {
	var (
		cfg       config
		modeValue string
		orders    string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "lifecycle HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "max HTTP connections per host")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modePreview), "load mode: preview | read-mix | cancel-replay")
	fs.StringVar(&orders, "orders", strings.Join(defaultOrders, ","), "comma-separated order ids to target")
	fs.StringVar(&cfg.customerID, "customer", "demo-customer", "customer actor id owning the orders")
	fs.StringVar(&cfg.garageID, "garage", "demo-garage", "garage id for accountability reads")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.orders = splitList(orders)
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.customerID = strings.TrimSpace(cfg.customerID)
	cfg.garageID = strings.TrimSpace(cfg.garageID)

	if u, err := url.Parse(cfg.baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return cfg, fmt.Errorf("base-url must be an absolute URL: %q", cfg.baseURL)
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return cfg, errors.New("connections must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if len(cfg.orders) == 0 {
		return cfg, errors.New("at least one order id is required")
	}
	if cfg.customerID == "" {
		return cfg, errors.New("customer is required")
	}
	if cfg.mode == modeReadMix && cfg.garageID == "" {
		return cfg, errors.New("garage is required in read-mix mode")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modePreview:
		return modePreview, nil
	case modeReadMix:
		return modeReadMix, nil
	case modeCancelReplay:
		return modeCancelReplay, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := run(context.Background(), cfg, newHTTPClient(cfg), os.Stdout)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func newHTTPClient(cfg config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.connections
	transport.MaxIdleConnsPerHost = cfg.connections
	return &http.Client{Transport: transport}
}

// run прогоняет сценарии пулом воркеров и печатает сводку в out.
func run(ctx context.Context, cfg config, client *http.Client, out io.Writer) (report, error) {
	startedAt := time.Now()
	runID := uuid.NewString()
	col := newCollector()
	lt := &tester{cfg: cfg, client: client, col: col, runID: runID}

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := lt.runScenario(ctx, id); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(out, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return result, fmt.Errorf("write report: %w", err)
		}
	}
	return result, nil
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type tester struct {
	cfg    config
	client *http.Client
	col    *collector
	runID  string
}

type call struct {
	name    string
	method  string
	path    string
	actor   domain.Actor
	body    any
	key     string
	accepts func(status int) bool
}

func success2xx(status int) bool { return status >= 200 && status < 300 }

// cancelAccepts считает 409 штатным исходом: заказ мог быть отменён предыдущим прогоном.
func cancelAccepts(status int) bool { return success2xx(status) || status == http.StatusConflict }

func (lt *tester) scenarioCalls(index int) []call {
	orderID := lt.cfg.orders[index%len(lt.cfg.orders)]
	customer := domain.Actor{ID: lt.cfg.customerID, Role: domain.ActorCustomer}
	orderPath := apiPrefix + "/orders/" + url.PathEscape(orderID)

	preview := call{
		name:    "CancellationPreview",
		method:  http.MethodGet,
		path:    orderPath + "/cancellation-preview",
		actor:   customer,
		accepts: success2xx,
	}

	switch lt.cfg.mode {
	case modeReadMix:
		return []call{
			preview,
			{name: "ReturnPreview", method: http.MethodGet, path: orderPath + "/return-preview", actor: customer, accepts: success2xx},
			{name: "OrderHistory", method: http.MethodGet, path: orderPath + "/history", actor: customer, accepts: success2xx},
			{
				name:    "AbuseStatus",
				method:  http.MethodGet,
				path:    apiPrefix + "/customers/" + url.PathEscape(lt.cfg.customerID) + "/abuse-status",
				actor:   customer,
				accepts: success2xx,
			},
			{
				name:    "GarageAccountability",
				method:  http.MethodGet,
				path:    apiPrefix + "/garages/" + url.PathEscape(lt.cfg.garageID) + "/accountability",
				actor:   domain.Actor{ID: lt.cfg.garageID, Role: domain.ActorGarage},
				accepts: success2xx,
			},
		}
	case modeCancelReplay:
		// Один ключ на заказ в пределах прогона: первый запрос отменяет, остальные получают сохранённый ответ.
		return []call{{
			name:    "CancelOrder",
			method:  http.MethodPost,
			path:    orderPath + "/cancel",
			actor:   customer,
			body:    map[string]string{"reason_code": string(domain.ReasonChangedMind), "reason_text": "load test"},
			key:     fmt.Sprintf("lt-cancel-%s-%s", lt.runID, orderID),
			accepts: cancelAccepts,
		}}
	default:
		return []call{preview}
	}
}

func (lt *tester) runScenario(ctx context.Context, index int) error {
	scenarioStart := time.Now()
	scenarioCode := strconv.Itoa(http.StatusOK)
	scenarioOK := true
	defer func() {
		lt.col.record(scenarioMethod, time.Since(scenarioStart), scenarioCode, scenarioOK)
	}()

	for _, c := range lt.scenarioCalls(index) {
		code, err := lt.do(ctx, c)
		if err != nil {
			scenarioCode, scenarioOK = code, false
			return err
		}
	}
	return nil
}

func (lt *tester) do(ctx context.Context, c call) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, lt.cfg.timeout)
	defer cancel()

	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		if err != nil {
			return transportFailure, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, lt.cfg.baseURL+c.path, body)
	if err != nil {
		return transportFailure, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(httpapi.HeaderActorID, c.actor.ID)
	req.Header.Set(httpapi.HeaderActorRole, string(c.actor.Role))
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set(idempotency.HeaderKey, c.key)
	}

	resp, err := lt.client.Do(req)
	if err != nil {
		lt.col.record(c.name, time.Since(start), transportFailure, false)
		return transportFailure, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	code := strconv.Itoa(resp.StatusCode)
	ok := c.accepts(resp.StatusCode)
	lt.col.record(c.name, time.Since(start), code, ok)
	if !ok {
		return code, fmt.Errorf("%s %s: unexpected status %d", c.method, c.path, resp.StatusCode)
	}
	return code, nil
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Load test summary")
	_, _ = fmt.Fprintf(out, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == scenarioMethod {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(out,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
