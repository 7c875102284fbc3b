// Package iperf aggregates iperf3 trials into per-configuration bandwidth,
// latency, reliability and CPU metrics, and into per-server bandwidth
// statistics.
//
// Every function is pure: datasets are only read. Datasets without loaded
// results or with an invalid configuration are ignored.
package iperf

import (
	"sort"

	"github.com/m-lab/netperf-analyzer/internal/stats"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

// Group holds the iperf3 trials of every dataset sharing a ConfigKey.
type Group struct {
	Key    model.ConfigKey
	Trials []model.IperfTestResult
}

// Successful returns the successful trials of the group.
func (g Group) Successful() []model.IperfTestResult {
	out := make([]model.IperfTestResult, 0, len(g.Trials))
	for _, t := range g.Trials {
		if t.Success {
			out = append(out, t)
		}
	}
	return out
}

// Field extracts an optional metric from a trial.
type Field func(t *model.IperfTestResult) *float64

func Bandwidth(t *model.IperfTestResult) *float64   { return t.BandwidthMbps }
func Jitter(t *model.IperfTestResult) *float64      { return t.JitterMs }
func PacketLoss(t *model.IperfTestResult) *float64  { return t.PacketLoss }
func Retransmits(t *model.IperfTestResult) *float64 { return t.Retransmits }
func HostCPU(t *model.IperfTestResult) *float64     { return t.HostCPUUsage }

// Values returns the present values of f over the successful trials.
func Values(trials []model.IperfTestResult, f Field) []float64 {
	ptrs := make([]*float64, 0, len(trials))
	for i := range trials {
		if trials[i].Success {
			ptrs = append(ptrs, f(&trials[i]))
		}
	}
	return stats.Present(ptrs...)
}

// GroupByConfiguration groups the trials of usable datasets by ConfigKey.
// Groups are ordered by key and only groups with at least one trial are
// returned.
func GroupByConfiguration(datasets []*model.Dataset) []Group {
	byKey := map[model.ConfigKey]*Group{}
	for _, ds := range datasets {
		if !ds.Usable() || len(ds.Results.IperfTests) == 0 {
			continue
		}
		k := ds.Key()
		g, ok := byKey[k]
		if !ok {
			g = &Group{Key: k}
			byKey[k] = g
		}
		g.Trials = append(g.Trials, ds.Results.IperfTests...)
	}
	groups := make([]Group, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Key.Less(groups[j].Key)
	})
	return groups
}

// AnalyzeBandwidth returns the average bandwidth of every configuration
// with at least one successful trial reporting it.
func AnalyzeBandwidth(datasets []*model.Dataset, maxVariation float64) []model.BandwidthEntry {
	out := []model.BandwidthEntry{}
	for _, g := range GroupByConfiguration(datasets) {
		values := Values(g.Trials, Bandwidth)
		if len(values) == 0 {
			continue
		}
		out = append(out, model.BandwidthEntry{
			Configuration:    g.Key,
			Label:            g.Key.String(),
			AvgBandwidthMbps: stats.Average(values),
			Stability:        stats.StabilityScore(values, maxVariation),
			Samples:          len(values),
		})
	}
	return out
}

// AnalyzeLatency returns the average jitter of every configuration with at
// least one successful trial reporting it.
func AnalyzeLatency(datasets []*model.Dataset) []model.LatencyEntry {
	out := []model.LatencyEntry{}
	for _, g := range GroupByConfiguration(datasets) {
		values := Values(g.Trials, Jitter)
		if len(values) == 0 {
			continue
		}
		out = append(out, model.LatencyEntry{
			Configuration: g.Key,
			Label:         g.Key.String(),
			AvgJitterMs:   stats.Average(values),
			Samples:       len(values),
		})
	}
	return out
}

// AnalyzeReliability returns the success rate of every configuration with
// at least one trial.
func AnalyzeReliability(datasets []*model.Dataset) []model.ReliabilityEntry {
	out := []model.ReliabilityEntry{}
	for _, g := range GroupByConfiguration(datasets) {
		ok := len(g.Successful())
		loss := Values(g.Trials, PacketLoss)
		out = append(out, model.ReliabilityEntry{
			Configuration:   g.Key,
			Label:           g.Key.String(),
			SuccessRate:     stats.Ratio(float64(ok), float64(len(g.Trials))),
			TotalTests:      len(g.Trials),
			SuccessfulTests: ok,
			AvgPacketLoss:   stats.Average(loss),
			LossSamples:     len(loss),
			AvgRetransmits:  stats.Average(Values(g.Trials, Retransmits)),
		})
	}
	return out
}

// AnalyzeCPUUtilization returns the average host CPU usage of every
// configuration with at least one successful trial reporting it.
func AnalyzeCPUUtilization(datasets []*model.Dataset) []model.CPUEntry {
	out := []model.CPUEntry{}
	for _, g := range GroupByConfiguration(datasets) {
		values := Values(g.Trials, HostCPU)
		if len(values) == 0 {
			continue
		}
		out = append(out, model.CPUEntry{
			Configuration:   g.Key,
			Label:           g.Key.String(),
			AvgHostCPUUsage: stats.Average(values),
			Samples:         len(values),
		})
	}
	return out
}

// TopScenarios is the number of scenarios listed per server.
const TopScenarios = 3

// AnalyzeServers returns the bandwidth statistics of every iperf3 server
// with at least one successful trial reporting bandwidth, ordered by server
// name. Trials of every configuration are combined.
func AnalyzeServers(datasets []*model.Dataset) []model.ServerStats {
	byServer := map[string][]model.IperfTestResult{}
	for _, ds := range datasets {
		if !ds.Usable() {
			continue
		}
		for _, t := range ds.Results.IperfTests {
			byServer[t.Server] = append(byServer[t.Server], t)
		}
	}
	servers := make([]string, 0, len(byServer))
	for s := range byServer {
		servers = append(servers, s)
	}
	sort.Strings(servers)

	out := []model.ServerStats{}
	for _, server := range servers {
		trials := byServer[server]
		values := Values(trials, Bandwidth)
		if len(values) == 0 {
			continue
		}
		lo, hi := stats.MinMax(values)
		out = append(out, model.ServerStats{
			Server:              server,
			Samples:             len(values),
			MeanBandwidthMbps:   stats.Average(values),
			MedianBandwidthMbps: stats.Median(values),
			MinBandwidthMbps:    lo,
			MaxBandwidthMbps:    hi,
			StdDevBandwidthMbps: stats.StdDev(values),
			TopScenarios:        topScenarios(trials, TopScenarios),
		})
	}
	return out
}

// topScenarios returns the n scenarios with the highest average bandwidth.
// Ties break on the scenario name.
func topScenarios(trials []model.IperfTestResult, n int) []model.ScenarioBandwidth {
	byScenario := map[string][]model.IperfTestResult{}
	for _, t := range trials {
		byScenario[t.Scenario] = append(byScenario[t.Scenario], t)
	}
	out := []model.ScenarioBandwidth{}
	for scenario, st := range byScenario {
		values := Values(st, Bandwidth)
		if len(values) == 0 {
			continue
		}
		out = append(out, model.ScenarioBandwidth{
			Scenario:         scenario,
			AvgBandwidthMbps: stats.Average(values),
			AvgRetransmits:   stats.Average(Values(st, Retransmits)),
			Samples:          len(values),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgBandwidthMbps != out[j].AvgBandwidthMbps {
			return out[i].AvgBandwidthMbps > out[j].AvgBandwidthMbps
		}
		return out[i].Scenario < out[j].Scenario
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Analyze runs every iperf3 analysis.
func Analyze(datasets []*model.Dataset, maxVariation float64) model.IperfAnalysis {
	return model.IperfAnalysis{
		BandwidthComparison:    AnalyzeBandwidth(datasets, maxVariation),
		LatencyAnalysis:        AnalyzeLatency(datasets),
		ReliabilityMetrics:     AnalyzeReliability(datasets),
		CPUUtilizationAnalysis: AnalyzeCPUUtilization(datasets),
		ServerBreakdown:        AnalyzeServers(datasets),
	}
}
