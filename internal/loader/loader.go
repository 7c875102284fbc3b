// Package loader reads test results files.
package loader

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/m-lab/netperf-analyzer/internal/fault"
	"github.com/m-lab/netperf-analyzer/internal/metrics"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

// Loader loads the TestResults stored at a path.
type Loader interface {
	Load(ctx context.Context, path string) (*model.TestResults, error)
}

// FileLoader loads JSON results files from the local filesystem. Files
// ending in ".gz" are decompressed.
type FileLoader struct {
	// LossPercent is set when packet_loss is written as a percentage
	// (0-100), as iperf3's lost_percent is. Loaded values are converted to
	// a fraction.
	LossPercent bool
}

// Load reads and decodes the results file at path. Malformed content is
// reported with an error wrapping fault.ErrParse.
func (l FileLoader) Load(ctx context.Context, path string) (*model.TestResults, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.LoadDuration.Observe(time.Since(start).Seconds())
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", path, fault.ErrParse, err)
		}
		defer gz.Close()
		r = gz
	}

	results := &model.TestResults{}
	if err := json.NewDecoder(r).Decode(results); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, fault.ErrParse, err)
	}
	if l.LossPercent {
		for i := range results.IperfTests {
			if loss := results.IperfTests[i].PacketLoss; loss != nil {
				results.IperfTests[i].PacketLoss = model.Float(*loss / 100)
			}
		}
	}
	return results, nil
}
