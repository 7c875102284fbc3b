package main

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/m-lab/netperf-analyzer/internal/config"
	"github.com/m-lab/netperf-analyzer/internal/discovery"
	"github.com/m-lab/netperf-analyzer/internal/engine"
	"github.com/m-lab/netperf-analyzer/internal/fault"
	"github.com/m-lab/netperf-analyzer/internal/handler"
	"github.com/m-lab/netperf-analyzer/internal/loader"
	"github.com/m-lab/netperf-analyzer/internal/persistence"
	"github.com/m-lab/netperf-analyzer/internal/report"
	"github.com/m-lab/netperf-analyzer/internal/store"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

// pipeline runs one analysis over a data directory and publishes the
// resulting archival record. Every output except the engine is optional.
type pipeline struct {
	datadir string
	engine  *engine.Engine

	// output is the directory archival records are written to.
	output string
	// reportFile is the path the markdown report is written to.
	reportFile string
	store      *store.Store
	handler    *handler.Handler
}

// run discovers the datasets, analyzes them and publishes the record.
// Errors are only returned when the data directory cannot be read.
func (p *pipeline) run(ctx context.Context) (*model.ArchivalData, error) {
	collector := &fault.Collector{}
	datasets, err := discovery.Discover(p.datadir, collector)
	if err != nil {
		return nil, err
	}
	// Directories skipped during discovery are part of the run.
	data := p.engine.Run(ctx, datasets, collector.Records()...)

	if p.output != "" {
		df, err := persistence.WriteDataFile(p.output, handler.Datatype, "", data.RunID, data)
		if err != nil {
			log.Error("Failed to write archival record", "run", data.RunID, "err", err)
		} else {
			log.Info("Archival record written", "path", df.Path, "size", df.Size)
		}
	}
	if p.reportFile != "" {
		if err := writeReport(p.reportFile, data); err != nil {
			log.Error("Failed to write report", "path", p.reportFile, "err", err)
		}
	}
	if p.store != nil {
		if err := p.store.Record(ctx, data); err != nil {
			log.Error("Failed to record run", "run", data.RunID, "err", err)
		}
	}
	if p.handler != nil {
		p.handler.Update(data)
	}
	return data, nil
}

// newLoader returns the results loader described by cfg and a func that
// releases it. A zero cache TTL loads every file on each run.
func newLoader(cfg config.EngineConfig) (loader.Loader, func()) {
	l := loader.FileLoader{LossPercent: cfg.PacketLossUnit == config.LossPercent}
	ttl := cfg.CacheTTL.Duration()
	if ttl <= 0 {
		return l, func() {}
	}
	cache := loader.NewCache(l, ttl)
	return cache, cache.Stop
}

func writeReport(path string, data *model.ArchivalData) error {
	content, err := report.Render(data)
	if err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}
