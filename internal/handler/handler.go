package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/m-lab/netperf-analyzer/internal/persistence"
	"github.com/m-lab/netperf-analyzer/internal/report"
	"github.com/m-lab/netperf-analyzer/internal/store"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

const (
	// AnalysisPath serves the latest archival record as JSON.
	AnalysisPath = "/netperf/v1/analysis"
	// ReportPath serves the markdown report of the latest archival record.
	ReportPath = "/netperf/v1/report"
	// HistoryPath serves the ranking history of the configuration given in
	// the "label" querystring parameter.
	HistoryPath = "/netperf/v1/history"
	// RunsPath serves the most recent recorded runs, newest first. The
	// optional "limit" querystring parameter bounds the number of runs.
	RunsPath = "/netperf/v1/runs"

	// DefaultRunsLimit is the number of runs served when no limit is given.
	DefaultRunsLimit = 20

	// Datatype is the datatype archival records are saved under.
	Datatype = "netperf"
)

// History is the record of past runs and of configuration rankings.
type History interface {
	History(ctx context.Context, label string) ([]store.Ranking, error)
	Runs(ctx context.Context, limit int) ([]store.Run, error)
}

// Handler serves the latest analysis run.
type Handler struct {
	archivalDataDir string
	history         History

	mu   sync.RWMutex
	data *model.ArchivalData
}

// New returns a Handler. The history may be nil, in which case the
// history and runs endpoints always respond with Not Found.
func New(archivalDataDir string, history History) *Handler {
	return &Handler{
		archivalDataDir: archivalDataDir,
		history:         history,
	}
}

// Restore loads the most recent archival record saved under the data
// directory, if any.
func (h *Handler) Restore() error {
	p, err := persistence.Latest(h.archivalDataDir, Datatype)
	if errors.Is(err, persistence.ErrNoDataFile) {
		return nil
	}
	if err != nil {
		return err
	}
	data := &model.ArchivalData{}
	if err := persistence.ReadDataFile(p, data); err != nil {
		return err
	}
	log.Info("Restored archival record", "path", p, "run", data.RunID)
	h.Update(data)
	return nil
}

// Update replaces the record being served.
func (h *Handler) Update(data *model.ArchivalData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = data
}

func (h *Handler) latest() *model.ArchivalData {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.data
}

// Register adds the handler's endpoints to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle(AnalysisPath, http.HandlerFunc(h.Analysis))
	mux.Handle(ReportPath, http.HandlerFunc(h.Report))
	mux.Handle(HistoryPath, http.HandlerFunc(h.History))
	mux.Handle(RunsPath, http.HandlerFunc(h.Runs))
}

func (h *Handler) Analysis(rw http.ResponseWriter, req *http.Request) {
	if !allowed(rw, req) {
		return
	}
	data := h.latest()
	if data == nil {
		http.NotFound(rw, req)
		return
	}
	writeJSON(rw, data)
}

func (h *Handler) Report(rw http.ResponseWriter, req *http.Request) {
	if !allowed(rw, req) {
		return
	}
	data := h.latest()
	if data == nil {
		http.NotFound(rw, req)
		return
	}
	content, err := report.Render(data)
	if err != nil {
		log.Error("Cannot render report", "run", data.RunID, "err", err)
		http.Error(rw, "cannot render report", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	rw.Write(content)
}

func (h *Handler) History(rw http.ResponseWriter, req *http.Request) {
	if !allowed(rw, req) {
		return
	}
	if h.history == nil {
		http.NotFound(rw, req)
		return
	}
	label := req.URL.Query().Get("label")
	if label == "" {
		writeBadRequest(rw)
		return
	}
	rankings, err := h.history.History(req.Context(), label)
	if err != nil {
		log.Error("Cannot read ranking history", "label", label, "err", err)
		http.Error(rw, "cannot read history", http.StatusInternalServerError)
		return
	}
	writeJSON(rw, rankings)
}

func (h *Handler) Runs(rw http.ResponseWriter, req *http.Request) {
	if !allowed(rw, req) {
		return
	}
	if h.history == nil {
		http.NotFound(rw, req)
		return
	}
	limit := DefaultRunsLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(rw)
			return
		}
		limit = n
	}
	runs, err := h.history.Runs(req.Context(), limit)
	if err != nil {
		log.Error("Cannot read run history", "limit", limit, "err", err)
		http.Error(rw, "cannot read runs", http.StatusInternalServerError)
		return
	}
	writeJSON(rw, runs)
}

func allowed(rw http.ResponseWriter, req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		rw.Header().Set("Allow", "GET, HEAD")
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, v interface{}) {
	content, err := json.Marshal(v)
	if err != nil {
		log.Error("Cannot marshal response", "err", err)
		http.Error(rw, "cannot marshal response", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.Write(content)
}

// writeBadRequest sends a Bad Request response to the client using writer.
func writeBadRequest(writer http.ResponseWriter) {
	writer.Header().Set("Connection", "Close")
	writer.WriteHeader(http.StatusBadRequest)
}
