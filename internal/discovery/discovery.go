// Package discovery finds the datasets stored under a data directory.
//
// Each dataset is a subdirectory holding a parameters.json file with the
// TestConfiguration and a results file written by the data gatherer.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/m-lab/netperf-analyzer/internal/fault"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

// ParametersFile is the name of the file describing a dataset.
const ParametersFile = "parameters.json"

// ErrNoParameters is returned by ReadDataset when a directory has no
// parameters file.
var ErrNoParameters = errors.New("no parameters file")

// resultsFiles are the results file names, in order of preference.
var resultsFiles = []string{"results.json", "results.json.gz"}

// gathererPrefix is the prefix of the timestamped files written by the
// gatherer, e.g. performance_results_20240102_150405.json.
const gathererPrefix = "performance_results_"

// ReadDataset reads the dataset stored in dir. The returned Dataset has no
// results loaded. Its configuration is not validated.
func ReadDataset(dir string) (*model.Dataset, error) {
	params := filepath.Join(dir, ParametersFile)
	data, err := os.ReadFile(params)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoParameters)
	}
	if err != nil {
		return nil, err
	}
	ds := &model.Dataset{
		Name:           filepath.Base(dir),
		ParametersFile: params,
	}
	if err := json.Unmarshal(data, &ds.Configuration); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", params, fault.ErrParse, err)
	}
	ds.ResultsFile, err = findResults(dir)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// findResults returns the path of the results file in dir. When there is
// none, the preferred name is returned so that loading reports it missing.
func findResults(dir string) (string, error) {
	for _, name := range resultsFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	// ReadDir sorts by name, so the last timestamped file is the latest.
	latest := ""
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasPrefix(n, gathererPrefix) &&
			(strings.HasSuffix(n, ".json") || strings.HasSuffix(n, ".json.gz")) {
			latest = n
		}
	}
	if latest != "" {
		return filepath.Join(dir, latest), nil
	}
	return filepath.Join(dir, resultsFiles[0]), nil
}

// Discover returns the datasets found in the subdirectories of root, sorted
// by name. Directories without a parameters file are skipped silently.
// Directories whose parameters cannot be read or are invalid are reported
// and skipped. An error is only returned if root cannot be read.
func Discover(root string, reporter fault.Reporter) ([]*model.Dataset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	datasets := []*model.Dataset{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		ds, err := ReadDataset(dir)
		if errors.Is(err, ErrNoParameters) {
			log.Debug("Skipping directory without parameters", "dir", dir)
			continue
		}
		params := filepath.Join(dir, ParametersFile)
		if err != nil {
			reporter.Report(fault.Classify(err, e.Name(), params))
			continue
		}
		if err := ds.Configuration.Validate(); err != nil {
			reporter.Report(fault.Invalid(err, ds.Name, params))
			continue
		}
		datasets = append(datasets, ds)
	}
	sort.Slice(datasets, func(i, j int) bool {
		return datasets[i].Name < datasets[j].Name
	})
	log.Info("Discovered datasets", "root", root, "count", len(datasets))
	return datasets, nil
}
