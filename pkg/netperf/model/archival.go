package model

import "time"

// DatasetSummary describes a dataset that took part in an analysis run.
type DatasetSummary struct {
	Name          string
	Label         string
	MTU           int
	AWSLogging    bool
	BackendServer string
	TestDate      string
	// Loaded is true if the dataset's results were loaded and analyzed.
	Loaded     bool
	IperfTests int
	DNSQueries int
}

// ErrorRecord is the archival form of an error reported during a run.
type ErrorRecord struct {
	Category    string
	Severity    string
	Recoverable bool
	Dataset     string
	File        string
	Metric      string
	Message     string
	Time        time.Time
}

// ArchivalData is the archival record of one analysis run. It only uses
// types BigQuery can infer a schema for.
type ArchivalData struct {
	// GitShortCommit is the Git commit (short form) of the running code.
	GitShortCommit string
	// Version is the symbolic version (if any) of the running code.
	Version string
	// RunID is the unique identifier of this run.
	RunID string

	StartTime time.Time
	EndTime   time.Time
	// State is the engine state at the end of the run.
	State string

	Datasets []DatasetSummary

	Iperf      IperfAnalysis
	DNS        DNSAnalysis
	Comparison ConfigurationComparison
	Anomalies  []PerformanceAnomaly

	Errors []ErrorRecord
}

// Summarize returns the summary of a dataset.
func (d *Dataset) Summarize() DatasetSummary {
	s := DatasetSummary{
		Name:          d.Name,
		Label:         d.Key().String(),
		MTU:           d.Configuration.MTU,
		AWSLogging:    d.Configuration.AWSLogging,
		BackendServer: d.Configuration.BackendServer,
		TestDate:      d.Configuration.TestDate,
	}
	if d.Results != nil {
		s.Loaded = true
		s.IperfTests = len(d.Results.IperfTests)
		s.DNSQueries = len(d.Results.DNSResults)
	}
	return s
}
