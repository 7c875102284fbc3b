package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/m-lab/netperf-analyzer/internal/config"
	"github.com/m-lab/netperf-analyzer/internal/fault"
	"github.com/m-lab/netperf-analyzer/internal/metrics"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

// fakeLoader serves results from memory.
type fakeLoader struct {
	results map[string]*model.TestResults
	errs    map[string]error
	delay   map[string]time.Duration
	block   chan struct{}

	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (f *fakeLoader) Load(ctx context.Context, path string) (*model.TestResults, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.block != nil {
		// Ignores ctx on purpose: the engine must abandon the load.
		<-f.block
	}
	if d := f.delay[path]; d > 0 {
		time.Sleep(d)
	}
	if err := f.errs[path]; err != nil {
		return nil, err
	}
	if r, ok := f.results[path]; ok {
		return r, nil
	}
	return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Engine.LoadTimeout = config.Duration(5 * time.Second)
	return cfg
}

func results(bw float64, dnsMs float64) *model.TestResults {
	return &model.TestResults{
		IperfTests: []model.IperfTestResult{
			{Server: "s", Scenario: "tcp", Success: true, BandwidthMbps: model.Float(bw),
				JitterMs: model.Float(1)},
			{Server: "s", Scenario: "udp", Success: false, Error: "connection refused"},
		},
		DNSResults: []model.DNSTestResult{
			{Domain: "google.com", DNSServer: "8.8.8.8", Success: true, ResponseTimeMs: model.Float(dnsMs)},
			{Domain: "dead.example", DNSServer: "8.8.8.8", Error: "NXDOMAIN"},
		},
	}
}

// fixture returns n datasets and a loader serving all of them.
func fixture(n int) ([]*model.Dataset, *fakeLoader) {
	l := &fakeLoader{
		results: map[string]*model.TestResults{},
		errs:    map[string]error{},
		delay:   map[string]time.Duration{},
	}
	var datasets []*model.Dataset
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("ds%02d", i)
		path := name + "/results.json"
		datasets = append(datasets, &model.Dataset{
			Name:        name,
			ResultsFile: path,
			Configuration: model.TestConfiguration{
				MTU:           1400 + 100*(i%3),
				AWSLogging:    i%2 == 0,
				BackendServer: fmt.Sprintf("server-%d", i%2),
			},
		})
		l.results[path] = results(float64(800+10*i), float64(10+i))
	}
	return datasets, l
}

func TestEngine_Run(t *testing.T) {
	datasets, l := fixture(6)
	c := &fault.Collector{}
	e := New(l, c, testConfig())
	if e.State() != Idle {
		t.Fatalf("new engine state = %s, want idle", e.State())
	}

	data := e.Run(context.Background(), datasets)
	if data.State != string(Done) || e.State() != Done {
		t.Errorf("Run() state = %s / %s, want done", data.State, e.State())
	}
	if data.RunID == "" || data.EndTime.Before(data.StartTime) {
		t.Errorf("Run() metadata = %s %s %s", data.RunID, data.StartTime, data.EndTime)
	}
	if len(data.Datasets) != 6 || !data.Datasets[0].Loaded || data.Datasets[0].IperfTests != 2 {
		t.Errorf("Run() datasets = %+v", data.Datasets)
	}
	if len(data.Iperf.BandwidthComparison) != 6 || len(data.DNS.PerformanceMetrics) != 6 {
		t.Errorf("Run() analyses are incomplete: %d bandwidth, %d dns entries",
			len(data.Iperf.BandwidthComparison), len(data.DNS.PerformanceMetrics))
	}
	if len(data.Comparison.OverallRanking) != 6 || data.Comparison.MtuImpact.OptimalMtu != 1600 {
		t.Errorf("Run() comparison = %+v", data.Comparison)
	}
	if len(data.Errors) != 0 || len(c.Records()) != 0 {
		t.Errorf("Run() reported errors: %+v", data.Errors)
	}

	second := e.Run(context.Background(), datasets)
	if !reflect.DeepEqual(data.Iperf, second.Iperf) || !reflect.DeepEqual(data.DNS, second.DNS) ||
		!reflect.DeepEqual(data.Comparison, second.Comparison) ||
		!reflect.DeepEqual(data.Anomalies, second.Anomalies) {
		t.Errorf("Run() is not idempotent")
	}
	if second.RunID == data.RunID {
		t.Errorf("every run must have its own ID")
	}
}

func TestEngine_AllLoadsFail(t *testing.T) {
	datasets, l := fixture(4)
	l.results = map[string]*model.TestResults{}
	c := &fault.Collector{}
	e := New(l, c, testConfig())
	ctx := context.Background()

	if got := e.AnalyzeIperfPerformance(ctx, datasets); !reflect.DeepEqual(got, model.NewIperfAnalysis()) {
		t.Errorf("AnalyzeIperfPerformance() = %+v, want empty", got)
	}
	if e.State() != FailedPartial {
		t.Errorf("State() = %s, want failed-partial", e.State())
	}
	if got := e.AnalyzeDnsPerformance(ctx, datasets); !reflect.DeepEqual(got, model.NewDNSAnalysis()) {
		t.Errorf("AnalyzeDnsPerformance() = %+v, want empty", got)
	}
	got := e.CompareConfigurations(ctx, datasets)
	if !reflect.DeepEqual(got, model.NewConfigurationComparison()) {
		t.Errorf("CompareConfigurations() = %+v, want empty", got)
	}
	if got.MtuImpact.OptimalMtu != 0 || got.LoggingImpact.PerformanceImpact != 0 {
		t.Errorf("CompareConfigurations() must resolve to zeros")
	}
	if got := e.DetectAnomalies(ctx, datasets); got == nil || len(got) != 0 {
		t.Errorf("DetectAnomalies() = %+v, want empty", got)
	}
	// Four operations, four datasets each.
	records := c.Records()
	if len(records) != 16 {
		t.Fatalf("got %d records, want 16", len(records))
	}
	for _, r := range records {
		if r.Category != fault.Filesystem || r.Severity != fault.Medium || !r.Recoverable {
			t.Errorf("unexpected record %+v", r)
		}
	}
}

func TestEngine_PartialFailure(t *testing.T) {
	datasets, l := fixture(4)
	l.errs[datasets[1].ResultsFile] = fmt.Errorf("decode: %w", fault.ErrParse)
	datasets = append(datasets, &model.Dataset{
		Name:          "invalid",
		Configuration: model.TestConfiguration{MTU: -1, BackendServer: "x"},
		Results:       results(100000, 1),
	})
	c := &fault.Collector{}
	e := New(l, c, testConfig())

	data := e.Run(context.Background(), datasets)
	if data.State != string(FailedPartial) {
		t.Errorf("State = %s, want failed-partial", data.State)
	}
	if got := len(data.Iperf.ReliabilityMetrics); got != 3 {
		t.Errorf("ReliabilityMetrics has %d entries, want 3", got)
	}
	cats := map[string]string{}
	for _, r := range data.Errors {
		cats[r.Dataset] = r.Category
	}
	if cats["ds01"] != "parsing" || cats["invalid"] != "validation" {
		t.Errorf("Errors = %+v", data.Errors)
	}
	if data.Datasets[1].Loaded {
		t.Errorf("failed dataset must not be marked loaded")
	}
}

func TestEngine_SkippedRecords(t *testing.T) {
	datasets, l := fixture(3)
	c := &fault.Collector{}
	e := New(l, c, testConfig())
	skipped := fault.Invalid(errors.New("missing mtu"), "broken", "broken/parameters.json")
	partial := metrics.Runs.WithLabelValues(string(FailedPartial))
	before := testutil.ToFloat64(partial)

	data := e.Run(context.Background(), datasets, skipped)
	if data.State != string(FailedPartial) || e.State() != FailedPartial {
		t.Errorf("Run() state = %s / %s, want failed-partial", data.State, e.State())
	}
	if len(data.Errors) != 1 || data.Errors[0].Dataset != "broken" || data.Errors[0].Category != "validation" {
		t.Errorf("Run() errors = %+v", data.Errors)
	}
	if len(c.Records()) != 1 {
		t.Errorf("reporter received %d records, want 1", len(c.Records()))
	}
	if got := testutil.ToFloat64(partial) - before; got != 1 {
		t.Errorf("failed-partial runs counted %v times, want 1", got)
	}
	// The other datasets are still analyzed.
	if len(data.Comparison.OverallRanking) != 3 {
		t.Errorf("Run() comparison = %+v", data.Comparison)
	}
}

func TestEngine_CriticalFailure(t *testing.T) {
	datasets, l := fixture(4)
	l.errs[datasets[2].ResultsFile] = fmt.Errorf("read: %w", syscall.ENOSPC)
	e := New(l, &fault.Collector{}, testConfig())

	data := e.Run(context.Background(), datasets)
	if !reflect.DeepEqual(data.Iperf, model.NewIperfAnalysis()) ||
		!reflect.DeepEqual(data.Comparison, model.NewConfigurationComparison()) {
		t.Errorf("an unrecoverable failure must yield empty results")
	}
	critical := false
	for _, r := range data.Errors {
		if r.Severity == "critical" && !r.Recoverable {
			critical = true
		}
	}
	if !critical || data.State != string(FailedPartial) {
		t.Errorf("Run() = %s, errors %+v", data.State, data.Errors)
	}
}

func TestEngine_FailFast(t *testing.T) {
	datasets, l := fixture(3)
	delete(l.results, datasets[0].ResultsFile)
	cfg := testConfig()
	cfg.Engine.FailFast = true
	e := New(l, &fault.Collector{}, cfg)

	if got := e.AnalyzeIperfPerformance(context.Background(), datasets); !reflect.DeepEqual(got, model.NewIperfAnalysis()) {
		t.Errorf("FailFast must yield empty results, got %+v", got)
	}

	// Without FailFast the other datasets are analyzed.
	e = New(l, &fault.Collector{}, testConfig())
	if got := e.AnalyzeIperfPerformance(context.Background(), datasets); len(got.BandwidthComparison) == 0 {
		t.Errorf("AnalyzeIperfPerformance() = %+v", got)
	}
}

func TestEngine_LoadTimeout(t *testing.T) {
	datasets, l := fixture(3)
	l.block = make(chan struct{})
	t.Cleanup(func() { close(l.block) })
	// One dataset is already loaded and must still be analyzed.
	datasets[0].Results = results(900, 5)

	cfg := testConfig()
	cfg.Engine.LoadTimeout = config.Duration(50 * time.Millisecond)
	c := &fault.Collector{}
	e := New(l, c, cfg)

	start := time.Now()
	got := e.AnalyzeIperfPerformance(context.Background(), datasets)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("loading was not bounded by the timeout: %s", elapsed)
	}
	if len(got.BandwidthComparison) != 1 {
		t.Errorf("BandwidthComparison = %+v, want only the preloaded dataset", got.BandwidthComparison)
	}
	records := c.Records()
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	for _, r := range records {
		if !errors.Is(r, context.DeadlineExceeded) || r.Category != fault.Filesystem {
			t.Errorf("unexpected record %+v", r)
		}
	}
	if datasets[1].Results != nil || datasets[2].Results != nil {
		t.Errorf("abandoned loads must not set results")
	}
}

func TestEngine_BoundedConcurrency(t *testing.T) {
	datasets, l := fixture(8)
	for _, ds := range datasets {
		l.delay[ds.ResultsFile] = 20 * time.Millisecond
	}
	cfg := testConfig()
	cfg.Engine.MaxConcurrentLoads = 2
	e := New(l, &fault.Collector{}, cfg)
	e.AnalyzeDnsPerformance(context.Background(), datasets)
	if l.maxSeen > 2 {
		t.Errorf("saw %d concurrent loads, limit is 2", l.maxSeen)
	}
	if l.maxSeen == 0 {
		t.Errorf("no load happened")
	}
}

func TestEngine_OrderIndependentOfCompletion(t *testing.T) {
	datasets, l := fixture(6)
	// Later datasets finish first.
	for i, ds := range datasets {
		l.delay[ds.ResultsFile] = time.Duration(len(datasets)-i) * 5 * time.Millisecond
	}
	e := New(l, &fault.Collector{}, testConfig())
	loaded := e.Run(context.Background(), datasets)

	fresh, l2 := fixture(6)
	for _, ds := range fresh {
		ds.Results = l2.results[ds.ResultsFile]
	}
	preloaded := New(l2, &fault.Collector{}, testConfig()).Run(context.Background(), fresh)
	if !reflect.DeepEqual(loaded.DNS, preloaded.DNS) ||
		!reflect.DeepEqual(loaded.Comparison, preloaded.Comparison) {
		t.Errorf("results depend on load completion order")
	}
}

func TestGuard(t *testing.T) {
	c := &fault.Collector{}
	ok := guard("iperf", c, func() { panic("boom") })
	if ok {
		t.Errorf("guard() = true after a panic")
	}
	records := c.Records()
	if len(records) != 1 || records[0].Category != fault.Analysis || records[0].Metric != "iperf" {
		t.Errorf("records = %+v", records)
	}
	if !guard("iperf", c, func() {}) {
		t.Errorf("guard() = false without a panic")
	}
}
