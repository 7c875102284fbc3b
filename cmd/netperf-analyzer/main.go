package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/memoryless"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/netperf-analyzer/internal/config"
	"github.com/m-lab/netperf-analyzer/internal/engine"
	"github.com/m-lab/netperf-analyzer/internal/handler"
	"github.com/m-lab/netperf-analyzer/internal/store"
)

var (
	flagDataDir  = flag.String("datadir", "./data", "Directory holding one subdirectory per dataset")
	flagConfig   = flag.String("config", "", "Optional YAML configuration file")
	flagOutput   = flag.String("output", "./archive", "Directory to store archival records in (empty to disable)")
	flagReport   = flag.String("report", "", "File to write the markdown report to")
	flagDB       = flag.String("db", "", "SQLite database keeping the run history")
	flagListen   = flag.String("listen", "", "Listen address/port for the analysis endpoints")
	flagWatch    = flag.Duration("watch", 0, "Average interval between analysis runs (0 runs once)")
	flagTimeout  = flag.Duration("timeout", 0, "Timeout for loading the datasets of a run (0 uses the configuration)")
	flagMaxLoads = flag.Int("max-loads", 0, "Maximum number of concurrent dataset loads (0 uses the configuration)")
	flagDebug    = flag.Bool("debug", false, "Enable debug logging")
)

// httpServer creates a new *http.Server with explicit Read and Write
// timeouts.
func httpServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	// Initialize logging and metrics.
	log.SetReportCaller(true)
	log.SetReportTimestamp(true)
	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		cfg, err = config.Load(*flagConfig)
		rtx.Must(err, "Failed to load configuration from %s", *flagConfig)
	}
	if *flagMaxLoads > 0 {
		cfg.Engine.MaxConcurrentLoads = *flagMaxLoads
	}
	if *flagTimeout > 0 {
		cfg.Engine.LoadTimeout = config.Duration(*flagTimeout)
	}

	l, stop := newLoader(cfg.Engine)
	defer stop()

	p := &pipeline{
		datadir:    *flagDataDir,
		engine:     engine.New(l, nil, cfg),
		output:     *flagOutput,
		reportFile: *flagReport,
	}

	if *flagDB != "" {
		s, err := store.Open(*flagDB)
		rtx.Must(err, "Failed to open run history %s", *flagDB)
		defer s.Close()
		p.store = s
		last, err := s.Latest(ctx)
		switch {
		case errors.Is(err, store.ErrNoRuns):
			log.Info("Starting a new run history", "db", *flagDB)
		case err != nil:
			rtx.Must(err, "Failed to read run history %s", *flagDB)
		default:
			log.Info("Resuming run history", "db", *flagDB, "last", last.RunID,
				"state", last.State, "end", last.EndTime)
		}
	}

	if *flagListen != "" {
		var history handler.History
		if p.store != nil {
			history = p.store
		}
		p.handler = handler.New(*flagOutput, history)
		if *flagOutput != "" {
			rtx.Must(p.handler.Restore(), "Failed to restore the latest archival record")
		}
		mux := http.NewServeMux()
		p.handler.Register(mux)
		srv := httpServer(*flagListen, mux)
		log.Info("About to listen for analysis requests", "endpoint", *flagListen)
		go func() {
			err := srv.ListenAndServe()
			if err != http.ErrServerClosed {
				rtx.Must(err, "Could not start server")
			}
		}()
		defer srv.Close()
	}

	if *flagWatch <= 0 {
		_, err := p.run(ctx)
		rtx.Must(err, "Analysis failed")
		if p.handler == nil {
			return
		}
		<-ctx.Done()
		return
	}

	// Runs are spaced by exponentially distributed intervals.
	ticker, err := memoryless.NewTicker(ctx, memoryless.Config{
		Min:      *flagWatch / 10,
		Expected: *flagWatch,
		Max:      *flagWatch * 4,
	})
	rtx.Must(err, "Failed to create watch ticker")
	defer ticker.Stop()
	for {
		if _, err := p.run(ctx); err != nil {
			log.Error("Analysis failed", "datadir", *flagDataDir, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
