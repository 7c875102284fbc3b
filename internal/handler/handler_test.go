package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/go/testingx"
	"github.com/m-lab/netperf-analyzer/internal/handler"
	"github.com/m-lab/netperf-analyzer/internal/persistence"
	"github.com/m-lab/netperf-analyzer/internal/store"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

type fakeHistory struct {
	rankings []store.Ranking
	runs     []store.Run
	err      error
	label    string
	limit    int
}

func (f *fakeHistory) History(ctx context.Context, label string) ([]store.Ranking, error) {
	f.label = label
	return f.rankings, f.err
}

func (f *fakeHistory) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	f.limit = limit
	if limit < len(f.runs) {
		return f.runs[:limit], f.err
	}
	return f.runs, f.err
}

func testData(id string) *model.ArchivalData {
	return &model.ArchivalData{
		RunID:      id,
		State:      "done",
		StartTime:  time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
		EndTime:    time.Date(2024, 1, 2, 15, 4, 6, 0, time.UTC),
		Iperf:      model.NewIperfAnalysis(),
		DNS:        model.NewDNSAnalysis(),
		Comparison: model.NewConfigurationComparison(),
		Anomalies:  []model.PerformanceAnomaly{},
	}
}

func setupTestServer(h *handler.Handler) *httptest.Server {
	mux := http.NewServeMux()
	h.Register(mux)
	return httptest.NewServer(mux)
}

func get(t *testing.T, url string) (*http.Response, string) {
	resp, err := http.Get(url)
	testingx.Must(t, err, "cannot GET %s", url)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	testingx.Must(t, err, "cannot read body")
	return resp, string(body)
}

func TestNew(t *testing.T) {
	h := handler.New("testdata/", nil)
	if h == nil {
		t.Errorf("New returned nil")
	}
}

func TestHandler_NoData(t *testing.T) {
	server := setupTestServer(handler.New(t.TempDir(), nil))
	defer server.Close()

	for _, path := range []string{handler.AnalysisPath, handler.ReportPath,
		handler.HistoryPath + "?label=x", handler.RunsPath} {
		resp, _ := get(t, server.URL+path)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestHandler_Analysis(t *testing.T) {
	h := handler.New(t.TempDir(), nil)
	h.Update(testData("run-1"))
	server := setupTestServer(h)
	defer server.Close()

	resp, body := get(t, server.URL+handler.AnalysisPath)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got model.ArchivalData
	testingx.Must(t, json.Unmarshal([]byte(body), &got), "cannot unmarshal analysis")
	if got.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", got.RunID)
	}

	// Updates replace the served record.
	h.Update(testData("run-2"))
	_, body = get(t, server.URL+handler.AnalysisPath)
	testingx.Must(t, json.Unmarshal([]byte(body), &got), "cannot unmarshal analysis")
	if got.RunID != "run-2" {
		t.Errorf("RunID = %q, want run-2", got.RunID)
	}
}

func TestHandler_Report(t *testing.T) {
	h := handler.New(t.TempDir(), nil)
	h.Update(testData("run-1"))
	server := setupTestServer(h)
	defer server.Close()

	resp, body := get(t, server.URL+handler.ReportPath)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/markdown") {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(body, "- Run: run-1") {
		t.Errorf("unexpected report:\n%s", body)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := handler.New(t.TempDir(), nil)
	h.Update(testData("run-1"))
	server := setupTestServer(h)
	defer server.Close()

	resp, err := http.Post(server.URL+handler.AnalysisPath, "application/json", nil)
	testingx.Must(t, err, "cannot POST")
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHandler_History(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		history *fakeHistory
		want    int
	}{
		{
			name:  "ok",
			query: "?label=mtu1500-logs_enabled",
			history: &fakeHistory{rankings: []store.Ranking{
				{RunID: "run-1", Rank: 2, Label: "mtu1500-logs_enabled"},
			}},
			want: http.StatusOK,
		},
		{
			name:    "missing-label",
			query:   "",
			history: &fakeHistory{},
			want:    http.StatusBadRequest,
		},
		{
			name:    "store-error",
			query:   "?label=x",
			history: &fakeHistory{err: errors.New("database is locked")},
			want:    http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(handler.New(t.TempDir(), tt.history))
			defer server.Close()

			resp, body := get(t, server.URL+handler.HistoryPath+tt.query)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want != http.StatusOK {
				return
			}
			if tt.history.label != "mtu1500-logs_enabled" {
				t.Errorf("History() called with label %q", tt.history.label)
			}
			var got []store.Ranking
			testingx.Must(t, json.Unmarshal([]byte(body), &got), "cannot unmarshal history")
			if len(got) != 1 || got[0].Rank != 2 {
				t.Errorf("history = %+v", got)
			}
		})
	}
}

func TestHandler_Runs(t *testing.T) {
	runs := []store.Run{{RunID: "run-3"}, {RunID: "run-2"}, {RunID: "run-1"}}
	tests := []struct {
		name      string
		query     string
		history   *fakeHistory
		want      int
		wantLimit int
		wantRuns  int
	}{
		{
			name:      "default-limit",
			history:   &fakeHistory{runs: runs},
			want:      http.StatusOK,
			wantLimit: handler.DefaultRunsLimit,
			wantRuns:  3,
		},
		{
			name:      "limit",
			query:     "?limit=2",
			history:   &fakeHistory{runs: runs},
			want:      http.StatusOK,
			wantLimit: 2,
			wantRuns:  2,
		},
		{
			name:    "invalid-limit",
			query:   "?limit=abc",
			history: &fakeHistory{runs: runs},
			want:    http.StatusBadRequest,
		},
		{
			name:    "negative-limit",
			query:   "?limit=-1",
			history: &fakeHistory{runs: runs},
			want:    http.StatusBadRequest,
		},
		{
			name:    "store-error",
			history: &fakeHistory{err: errors.New("database is locked")},
			want:    http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(handler.New(t.TempDir(), tt.history))
			defer server.Close()

			resp, body := get(t, server.URL+handler.RunsPath+tt.query)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want != http.StatusOK {
				return
			}
			if tt.history.limit != tt.wantLimit {
				t.Errorf("Runs() called with limit %d, want %d", tt.history.limit, tt.wantLimit)
			}
			var got []store.Run
			testingx.Must(t, json.Unmarshal([]byte(body), &got), "cannot unmarshal runs")
			if len(got) != tt.wantRuns || got[0].RunID != "run-3" {
				t.Errorf("runs = %+v", got)
			}
		})
	}
}

func TestHandler_Restore(t *testing.T) {
	datadir := t.TempDir()
	h := handler.New(datadir, nil)
	testingx.Must(t, h.Restore(), "Restore() on empty datadir must not fail")

	_, err := persistence.WriteDataFile(datadir, handler.Datatype, "", "run-1", testData("run-1"))
	testingx.Must(t, err, "cannot write datafile")
	testingx.Must(t, h.Restore(), "cannot restore")

	server := setupTestServer(h)
	defer server.Close()
	resp, body := get(t, server.URL+handler.AnalysisPath)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"RunID":"run-1"`) {
		t.Errorf("GET %s = %d %s", handler.AnalysisPath, resp.StatusCode, body)
	}
}
