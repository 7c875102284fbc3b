// Package fault implements the structured error reporting used by the
// analysis pipeline. Errors are reported and absorbed: a reported error
// excludes the offending dataset, file or metric from the analysis but
// never aborts the run.
package fault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/netperf-analyzer/internal/metrics"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

// ErrParse marks malformed content. Loaders wrap it so that Classify can
// recognize parsing failures.
var ErrParse = errors.New("malformed content")

// Category is the error category.
type Category string

const (
	Filesystem = Category("filesystem")
	Parsing    = Category("parsing")
	Analysis   = Category("analysis")
	Validation = Category("validation")
)

// Severity is the error severity.
type Severity string

const (
	Low      = Severity("low")
	Medium   = Severity("medium")
	High     = Severity("high")
	Critical = Severity("critical")
)

// Record is a structured error record.
type Record struct {
	Category    Category
	Severity    Severity
	Recoverable bool

	// Dataset, File and Metric identify what the error is about. Any of
	// them can be empty.
	Dataset string
	File    string
	Metric  string

	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface.
func (r Record) Error() string {
	msg := r.Message
	if r.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, r.Err)
	}
	return fmt.Sprintf("%s/%s: %s", r.Category, r.Severity, msg)
}

// Unwrap returns the underlying error.
func (r Record) Unwrap() error {
	return r.Err
}

// Archive converts this Record to its archival form.
func (r Record) Archive() model.ErrorRecord {
	msg := r.Message
	if r.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, r.Err)
	}
	return model.ErrorRecord{
		Category:    string(r.Category),
		Severity:    string(r.Severity),
		Recoverable: r.Recoverable,
		Dataset:     r.Dataset,
		File:        r.File,
		Metric:      r.Metric,
		Message:     msg,
		Time:        r.Time,
	}
}

// Classify builds a Record for a failure to load a file, choosing the
// category and severity from the error.
func Classify(err error, dataset, file string) Record {
	r := Record{
		Category:    Filesystem,
		Severity:    Medium,
		Recoverable: true,
		Dataset:     dataset,
		File:        file,
		Err:         err,
		Time:        time.Now(),
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, syscall.ENOSPC):
		r.Severity = Critical
		r.Recoverable = false
		r.Message = "no space left on device"
	case errors.Is(err, fs.ErrNotExist):
		r.Message = "file not found"
	case errors.Is(err, fs.ErrPermission):
		r.Severity = High
		r.Message = "permission denied"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		r.Message = "load did not complete in time"
	case errors.Is(err, ErrParse), errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		r.Category = Parsing
		r.Message = "malformed results file"
	default:
		r.Message = "cannot load file"
	}
	return r
}

// Invalid builds a validation Record for a dataset.
func Invalid(err error, dataset, file string) Record {
	return Record{
		Category:    Validation,
		Severity:    Medium,
		Recoverable: true,
		Dataset:     dataset,
		File:        file,
		Message:     "invalid configuration, dataset excluded",
		Err:         err,
		Time:        time.Now(),
	}
}

// Failed builds an analysis Record for an analyzer failure.
func Failed(err error, metric string) Record {
	return Record{
		Category:    Analysis,
		Severity:    Medium,
		Recoverable: true,
		Metric:      metric,
		Message:     "analysis failed",
		Err:         err,
		Time:        time.Now(),
	}
}

// Reporter receives error records.
type Reporter interface {
	Report(r Record)
}

// Log is a Reporter that logs records and counts them in Prometheus.
type Log struct{}

// Report logs the record at a level matching its severity.
func (Log) Report(r Record) {
	metrics.ErrorsReported.WithLabelValues(string(r.Category), string(r.Severity)).Inc()
	kv := []interface{}{
		"category", r.Category,
		"severity", r.Severity,
		"recoverable", r.Recoverable,
	}
	if r.Dataset != "" {
		kv = append(kv, "dataset", r.Dataset)
	}
	if r.File != "" {
		kv = append(kv, "file", r.File)
	}
	if r.Metric != "" {
		kv = append(kv, "metric", r.Metric)
	}
	if r.Err != nil {
		kv = append(kv, "error", r.Err)
	}
	switch r.Severity {
	case High, Critical:
		log.Error(r.Message, kv...)
	default:
		log.Warn(r.Message, kv...)
	}
}

// Collector is a Reporter that keeps every record in memory. It is safe for
// concurrent use.
type Collector struct {
	mu      sync.Mutex
	records []Record
}

// Report stores the record.
func (c *Collector) Report(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

// Records returns a copy of the stored records.
func (c *Collector) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Multi forwards records to every Reporter.
type Multi []Reporter

// Report forwards the record.
func (m Multi) Report(r Record) {
	for _, rep := range m {
		if rep != nil {
			rep.Report(r)
		}
	}
}

// Checks that the reporters implement Reporter.
var (
	_ Reporter = Log{}
	_ Reporter = &Collector{}
	_ Reporter = Multi{}
)
