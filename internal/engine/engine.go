// Package engine orchestrates an analysis run: it loads the results of
// every dataset with bounded parallelism, then runs the analyzers.
//
// Public operations never return errors. Failures are reported to a
// fault.Reporter and the failing dataset, or the failing analysis, is left
// out of the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/m-lab/go/prometheusx"
	"golang.org/x/sync/errgroup"

	"github.com/m-lab/netperf-analyzer/internal/anomaly"
	"github.com/m-lab/netperf-analyzer/internal/compare"
	"github.com/m-lab/netperf-analyzer/internal/config"
	"github.com/m-lab/netperf-analyzer/internal/dns"
	"github.com/m-lab/netperf-analyzer/internal/fault"
	"github.com/m-lab/netperf-analyzer/internal/iperf"
	"github.com/m-lab/netperf-analyzer/internal/loader"
	"github.com/m-lab/netperf-analyzer/internal/metrics"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
	"github.com/m-lab/netperf-analyzer/pkg/version"
)

// State is the state of the engine.
type State string

const (
	Idle          = State("idle")
	Loading       = State("loading")
	Analyzing     = State("analyzing")
	Done          = State("done")
	FailedPartial = State("failed-partial")
)

// errAborted is reported when a run stops after the loading phase.
var errAborted = errors.New("analysis aborted")

// Engine runs analyses over datasets.
type Engine struct {
	loader   loader.Loader
	reporter fault.Reporter
	cfg      config.Config

	mu    sync.Mutex
	state State
}

// New returns an Engine loading results through l and reporting errors to
// r. A nil reporter logs errors.
func New(l loader.Loader, r fault.Reporter, cfg config.Config) *Engine {
	if r == nil {
		r = fault.Log{}
	}
	return &Engine{
		loader:   l,
		reporter: r,
		cfg:      cfg,
		state:    Idle,
	}
}

// State returns the state of the latest operation.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// run tracks the errors reported during a single operation.
type run struct {
	reporter  fault.Reporter
	collector *fault.Collector
}

func (e *Engine) newRun() *run {
	c := &fault.Collector{}
	return &run{
		reporter:  fault.Multi{e.reporter, c},
		collector: c,
	}
}

// Report implements fault.Reporter.
func (r *run) Report(rec fault.Record) {
	r.reporter.Report(rec)
}

// finish sets the final state of the operation.
func (e *Engine) finish(r *run) State {
	s := Done
	if len(r.collector.Records()) > 0 {
		s = FailedPartial
	}
	e.setState(s)
	metrics.Runs.WithLabelValues(string(s)).Inc()
	return s
}

type loadResult struct {
	results *model.TestResults
	err     error
}

// loadOne loads the results of ds. The loader runs in its own goroutine so
// that an expired context abandons it; that goroutine never touches ds.
func (e *Engine) loadOne(ctx context.Context, ds *model.Dataset, rep fault.Reporter) {
	if err := ctx.Err(); err != nil {
		metrics.DatasetLoads.WithLabelValues("timeout").Inc()
		rep.Report(fault.Classify(err, ds.Name, ds.ResultsFile))
		return
	}
	path := ds.ResultsFile
	done := make(chan loadResult, 1)
	go func() {
		res, err := e.loader.Load(ctx, path)
		done <- loadResult{res, err}
	}()
	select {
	case <-ctx.Done():
		metrics.DatasetLoads.WithLabelValues("timeout").Inc()
		rep.Report(fault.Classify(ctx.Err(), ds.Name, ds.ResultsFile))
	case r := <-done:
		switch {
		case r.err != nil:
			metrics.DatasetLoads.WithLabelValues("error").Inc()
			rep.Report(fault.Classify(r.err, ds.Name, ds.ResultsFile))
		case r.results == nil:
			metrics.DatasetLoads.WithLabelValues("error").Inc()
			rep.Report(fault.Classify(fmt.Errorf("%w: no results", fault.ErrParse),
				ds.Name, ds.ResultsFile))
		default:
			metrics.DatasetLoads.WithLabelValues("ok").Inc()
			ds.Results = r.results
		}
	}
}

// load loads every dataset that has no results yet and returns the datasets
// that can be analyzed, in input order. It returns false if the operation
// must stop: after an unrecoverable failure, or after any failure when
// FailFast is set.
func (e *Engine) load(ctx context.Context, datasets []*model.Dataset, r *run) ([]*model.Dataset, bool) {
	e.setState(Loading)

	var pending []*model.Dataset
	valid := make([]*model.Dataset, 0, len(datasets))
	for _, ds := range datasets {
		if ds == nil {
			continue
		}
		if err := ds.Configuration.Validate(); err != nil {
			r.Report(fault.Invalid(err, ds.Name, ds.ParametersFile))
			continue
		}
		valid = append(valid, ds)
		if ds.Results == nil {
			pending = append(pending, ds)
		}
	}

	if len(pending) > 0 {
		log.Debug("Loading datasets", "pending", len(pending), "total", len(valid))
		if timeout := e.cfg.Engine.LoadTimeout.Duration(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		g := &errgroup.Group{}
		limit := e.cfg.Engine.MaxConcurrentLoads
		if limit <= 0 {
			limit = 1
		}
		g.SetLimit(limit)
		for _, ds := range pending {
			ds := ds
			g.Go(func() error {
				e.loadOne(ctx, ds, r)
				return nil
			})
		}
		// Tasks never fail: errors are reported.
		_ = g.Wait()
	}

	for _, rec := range r.collector.Records() {
		if !rec.Recoverable || e.cfg.Engine.FailFast {
			r.Report(fault.Record{
				Category:    rec.Category,
				Severity:    rec.Severity,
				Recoverable: false,
				Dataset:     rec.Dataset,
				Message:     "stopping after load failure",
				Err:         errAborted,
				Time:        time.Now(),
			})
			return nil, false
		}
	}

	usable := make([]*model.Dataset, 0, len(valid))
	for _, ds := range valid {
		if ds.Results != nil {
			usable = append(usable, ds)
		}
	}
	return usable, true
}

// guard runs fn, recovering from panics. It returns false if fn panicked.
func guard(kind string, rep fault.Reporter, fn func()) (ok bool) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			rep.Report(fault.Failed(fmt.Errorf("panic: %v", p), kind))
			ok = false
			return
		}
		metrics.AnalysisDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()
	fn()
	return true
}

func (e *Engine) iperf(datasets []*model.Dataset, rep fault.Reporter) model.IperfAnalysis {
	var out model.IperfAnalysis
	if !guard("iperf", rep, func() {
		out = iperf.Analyze(datasets, e.cfg.Analysis.MaxVariation)
	}) {
		return model.NewIperfAnalysis()
	}
	return out
}

func (e *Engine) dns(datasets []*model.Dataset, rep fault.Reporter) model.DNSAnalysis {
	var out model.DNSAnalysis
	if !guard("dns", rep, func() {
		out = dns.Analyze(datasets, e.cfg.Analysis.TopDomains)
	}) {
		return model.NewDNSAnalysis()
	}
	return out
}

func (e *Engine) compare(datasets []*model.Dataset, rep fault.Reporter) model.ConfigurationComparison {
	var out model.ConfigurationComparison
	if !guard("comparison", rep, func() {
		out = compare.Compare(datasets, e.cfg.Analysis)
	}) {
		return model.NewConfigurationComparison()
	}
	return out
}

func (e *Engine) anomalies(ia model.IperfAnalysis, da model.DNSAnalysis, rep fault.Reporter) []model.PerformanceAnomaly {
	var out []model.PerformanceAnomaly
	if !guard("anomalies", rep, func() {
		out = anomaly.Detect(ia, da, e.cfg.Anomaly)
	}) {
		return []model.PerformanceAnomaly{}
	}
	for _, a := range out {
		metrics.AnomaliesDetected.WithLabelValues(a.Metric, string(a.Severity)).Inc()
	}
	return out
}

// AnalyzeIperfPerformance loads the datasets and returns their iperf3
// analysis.
func (e *Engine) AnalyzeIperfPerformance(ctx context.Context, datasets []*model.Dataset) model.IperfAnalysis {
	r := e.newRun()
	defer e.finish(r)
	usable, ok := e.load(ctx, datasets, r)
	if !ok {
		return model.NewIperfAnalysis()
	}
	e.setState(Analyzing)
	return e.iperf(usable, r)
}

// AnalyzeDnsPerformance loads the datasets and returns their DNS analysis.
func (e *Engine) AnalyzeDnsPerformance(ctx context.Context, datasets []*model.Dataset) model.DNSAnalysis {
	r := e.newRun()
	defer e.finish(r)
	usable, ok := e.load(ctx, datasets, r)
	if !ok {
		return model.NewDNSAnalysis()
	}
	e.setState(Analyzing)
	return e.dns(usable, r)
}

// CompareConfigurations loads the datasets and compares their
// configurations.
func (e *Engine) CompareConfigurations(ctx context.Context, datasets []*model.Dataset) model.ConfigurationComparison {
	r := e.newRun()
	defer e.finish(r)
	usable, ok := e.load(ctx, datasets, r)
	if !ok {
		return model.NewConfigurationComparison()
	}
	e.setState(Analyzing)
	return e.compare(usable, r)
}

// DetectAnomalies loads the datasets and returns the anomalies found in
// their iperf3 and DNS metrics.
func (e *Engine) DetectAnomalies(ctx context.Context, datasets []*model.Dataset) []model.PerformanceAnomaly {
	r := e.newRun()
	defer e.finish(r)
	usable, ok := e.load(ctx, datasets, r)
	if !ok {
		return []model.PerformanceAnomaly{}
	}
	e.setState(Analyzing)
	return e.anomalies(e.iperf(usable, r), e.dns(usable, r), r)
}

// Run loads the datasets, runs every analysis and returns the archival
// record of the run. Records in skipped, such as directories rejected
// during discovery, belong to the run and are reported before loading.
func (e *Engine) Run(ctx context.Context, datasets []*model.Dataset, skipped ...fault.Record) *model.ArchivalData {
	r := e.newRun()
	for _, rec := range skipped {
		r.Report(rec)
	}
	data := &model.ArchivalData{
		GitShortCommit: prometheusx.GitShortCommit,
		Version:        version.Version,
		RunID:          uuid.NewString(),
		StartTime:      time.Now(),
		Iperf:          model.NewIperfAnalysis(),
		DNS:            model.NewDNSAnalysis(),
		Comparison:     model.NewConfigurationComparison(),
		Anomalies:      []model.PerformanceAnomaly{},
	}
	log.Info("Starting analysis run", "id", data.RunID, "datasets", len(datasets))

	if usable, ok := e.load(ctx, datasets, r); ok {
		e.setState(Analyzing)
		data.Iperf = e.iperf(usable, r)
		data.DNS = e.dns(usable, r)
		data.Comparison = e.compare(usable, r)
		data.Anomalies = e.anomalies(data.Iperf, data.DNS, r)
	}

	data.Datasets = make([]model.DatasetSummary, 0, len(datasets))
	for _, ds := range datasets {
		if ds != nil {
			data.Datasets = append(data.Datasets, ds.Summarize())
		}
	}
	records := r.collector.Records()
	data.Errors = make([]model.ErrorRecord, 0, len(records))
	for _, rec := range records {
		data.Errors = append(data.Errors, rec.Archive())
	}
	data.State = string(e.finish(r))
	data.EndTime = time.Now()
	log.Info("Analysis run completed", "id", data.RunID, "state", data.State,
		"errors", len(data.Errors), "anomalies", len(data.Anomalies),
		"duration", data.EndTime.Sub(data.StartTime))
	return data
}
