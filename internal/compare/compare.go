// Package compare compares network configurations: the impact of the MTU
// and of logging, an overall weighted ranking, and descriptive trends.
package compare

import (
	"fmt"
	"math"
	"sort"

	"github.com/m-lab/netperf-analyzer/internal/config"
	"github.com/m-lab/netperf-analyzer/internal/iperf"
	"github.com/m-lab/netperf-analyzer/internal/stats"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

// SignificantImpact is the absolute logging impact, in percent, above which
// the impact is reported as significant.
const SignificantImpact = 5.0

// GroupDatasetsByMtu partitions usable datasets by MTU.
func GroupDatasetsByMtu(datasets []*model.Dataset) map[int][]*model.Dataset {
	groups := map[int][]*model.Dataset{}
	for _, ds := range datasets {
		if ds.Usable() {
			groups[ds.Configuration.MTU] = append(groups[ds.Configuration.MTU], ds)
		}
	}
	return groups
}

// GroupDatasetsByServer partitions usable datasets by backend server.
func GroupDatasetsByServer(datasets []*model.Dataset) map[string][]*model.Dataset {
	groups := map[string][]*model.Dataset{}
	for _, ds := range datasets {
		if ds.Usable() {
			s := ds.Configuration.BackendServer
			groups[s] = append(groups[s], ds)
		}
	}
	return groups
}

// GroupDatasetsByLogging partitions usable datasets by logging state.
func GroupDatasetsByLogging(datasets []*model.Dataset) map[bool][]*model.Dataset {
	groups := map[bool][]*model.Dataset{}
	for _, ds := range datasets {
		if ds.Usable() {
			l := ds.Configuration.AWSLogging
			groups[l] = append(groups[l], ds)
		}
	}
	return groups
}

// summary is the GroupMetrics of a group along with the raw samples some
// scores need.
type summary struct {
	metrics   model.GroupMetrics
	bandwidth []float64
	jitter    []float64
}

func summarize(datasets []*model.Dataset) summary {
	var trials []model.IperfTestResult
	count := 0
	for _, ds := range datasets {
		if !ds.Usable() {
			continue
		}
		count++
		trials = append(trials, ds.Results.IperfTests...)
	}
	ok := 0
	for _, t := range trials {
		if t.Success {
			ok++
		}
	}
	s := summary{
		bandwidth: iperf.Values(trials, iperf.Bandwidth),
		jitter:    iperf.Values(trials, iperf.Jitter),
	}
	s.metrics = model.GroupMetrics{
		DatasetCount:     count,
		TrialCount:       len(trials),
		AvgBandwidthMbps: stats.Average(s.bandwidth),
		AvgJitterMs:      stats.Average(s.jitter),
		SuccessRate:      stats.Ratio(float64(ok), float64(len(trials))),
		AvgHostCPUUsage:  stats.Average(iperf.Values(trials, iperf.HostCPU)),
		AvgPacketLoss:    stats.Average(iperf.Values(trials, iperf.PacketLoss)),
		AvgRetransmits:   stats.Average(iperf.Values(trials, iperf.Retransmits)),
	}
	return s
}

// latencyScore maps jitter to (0, 1], higher is better. Without jitter
// samples there is no latency penalty.
func latencyScore(s summary) float64 {
	if len(s.jitter) == 0 {
		return 1
	}
	return 1 / (1 + s.metrics.AvgJitterMs)
}

// AnalyzeMtuImpact summarizes every MTU and picks the one with the highest
// average bandwidth. Ties go to the lowest MTU.
func AnalyzeMtuImpact(datasets []*model.Dataset) model.MtuImpact {
	impact := model.MtuImpact{
		Groups:          []model.MtuGroup{},
		Recommendations: []string{},
	}
	groups := GroupDatasetsByMtu(datasets)
	mtus := make([]int, 0, len(groups))
	for mtu := range groups {
		mtus = append(mtus, mtu)
	}
	sort.Ints(mtus)

	summaries := map[int]summary{}
	best, next := -1, -1
	for _, mtu := range mtus {
		s := summarize(groups[mtu])
		summaries[mtu] = s
		impact.Groups = append(impact.Groups, model.MtuGroup{MTU: mtu, Metrics: s.metrics})
		if len(s.bandwidth) == 0 {
			continue
		}
		// Strict comparisons keep the lowest MTU on ties since mtus is sorted.
		switch {
		case best < 0 || s.metrics.AvgBandwidthMbps > summaries[best].metrics.AvgBandwidthMbps:
			best, next = mtu, best
		case next < 0 || s.metrics.AvgBandwidthMbps > summaries[next].metrics.AvgBandwidthMbps:
			next = mtu
		}
	}
	if best < 0 {
		return impact
	}
	impact.OptimalMtu = best
	if len(impact.Groups) < 2 {
		return impact
	}

	opt := summaries[best].metrics
	if next >= 0 {
		other := summaries[next].metrics
		diff := opt.AvgBandwidthMbps - other.AvgBandwidthMbps
		impact.Recommendations = append(impact.Recommendations, fmt.Sprintf(
			"Use MTU %d: average bandwidth %.2f Mbps, %.2f Mbps (%.1f%%) above MTU %d",
			best, opt.AvgBandwidthMbps, diff,
			stats.PercentChange(other.AvgBandwidthMbps, opt.AvgBandwidthMbps), next))
	} else {
		impact.Recommendations = append(impact.Recommendations, fmt.Sprintf(
			"Use MTU %d: it is the only MTU with bandwidth data (%.2f Mbps)",
			best, opt.AvgBandwidthMbps))
	}
	bestRate, bestRateMtu := opt.SuccessRate, best
	for _, g := range impact.Groups {
		if g.Metrics.TrialCount > 0 && g.Metrics.SuccessRate > bestRate {
			bestRate, bestRateMtu = g.Metrics.SuccessRate, g.MTU
		}
	}
	if bestRateMtu != best {
		impact.Recommendations = append(impact.Recommendations, fmt.Sprintf(
			"MTU %d has a lower success rate (%.1f%%) than MTU %d (%.1f%%); check reliability before adopting it",
			best, opt.SuccessRate*100, bestRateMtu, bestRate*100))
	}
	return impact
}

// compositeScore is the score used to compare logging groups.
func compositeScore(s summary, maxBandwidth float64, w config.Weights) float64 {
	return stats.WeightedComposite(
		stats.Term{Score: stats.Ratio(s.metrics.AvgBandwidthMbps, maxBandwidth), Weight: w.Bandwidth},
		stats.Term{Score: latencyScore(s), Weight: w.Latency},
		stats.Term{Score: s.metrics.SuccessRate, Weight: w.Reliability},
	)
}

// AnalyzeLoggingImpact compares logging-enabled and logging-disabled
// datasets. When either group has no trials every field is zero.
func AnalyzeLoggingImpact(datasets []*model.Dataset, w config.Weights) model.LoggingImpact {
	impact := model.LoggingImpact{Recommendations: []string{}}
	groups := GroupDatasetsByLogging(datasets)
	enabled, disabled := summarize(groups[true]), summarize(groups[false])
	if enabled.metrics.TrialCount == 0 || disabled.metrics.TrialCount == 0 {
		return impact
	}
	maxBandwidth := math.Max(enabled.metrics.AvgBandwidthMbps, disabled.metrics.AvgBandwidthMbps)

	impact.Enabled = enabled.metrics
	impact.Disabled = disabled.metrics
	impact.EnabledScore = compositeScore(enabled, maxBandwidth, w)
	impact.DisabledScore = compositeScore(disabled, maxBandwidth, w)
	impact.PerformanceImpact = stats.PercentChange(impact.EnabledScore, impact.DisabledScore)
	impact.BandwidthDifference = disabled.metrics.AvgBandwidthMbps - enabled.metrics.AvgBandwidthMbps
	impact.LatencyDifference = disabled.metrics.AvgJitterMs - enabled.metrics.AvgJitterMs

	switch {
	case impact.PerformanceImpact >= SignificantImpact:
		impact.Recommendations = append(impact.Recommendations, fmt.Sprintf(
			"Logging has a significant cost: disabling it improves the composite score by %.1f%% (bandwidth %+.2f Mbps, jitter %+.2f ms)",
			impact.PerformanceImpact, impact.BandwidthDifference, impact.LatencyDifference))
	case impact.PerformanceImpact <= -SignificantImpact:
		impact.Recommendations = append(impact.Recommendations, fmt.Sprintf(
			"Logging-enabled runs performed significantly better (%.1f%%); investigate other differences between the runs",
			-impact.PerformanceImpact))
	default:
		impact.Recommendations = append(impact.Recommendations, fmt.Sprintf(
			"Logging has a negligible performance impact (%.1f%%)", impact.PerformanceImpact))
	}
	return impact
}

// RankConfigurations scores every configuration with iperf3 trials and sorts
// them by overall score. Ties break on the label.
func RankConfigurations(datasets []*model.Dataset, w config.Weights) []model.RankedConfiguration {
	byKey := map[model.ConfigKey][]*model.Dataset{}
	var keys []model.ConfigKey
	for _, ds := range datasets {
		if !ds.Usable() || len(ds.Results.IperfTests) == 0 {
			continue
		}
		k := ds.Key()
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], ds)
	}

	summaries := make([]summary, len(keys))
	var maxBandwidth float64
	for i, k := range keys {
		summaries[i] = summarize(byKey[k])
		maxBandwidth = math.Max(maxBandwidth, summaries[i].metrics.AvgBandwidthMbps)
	}

	out := make([]model.RankedConfiguration, 0, len(keys))
	for i, k := range keys {
		s := summaries[i]
		r := model.RankedConfiguration{
			Configuration:    k,
			Label:            k.String(),
			BandwidthScore:   stats.Ratio(s.metrics.AvgBandwidthMbps, maxBandwidth),
			LatencyScore:     latencyScore(s),
			ReliabilityScore: s.metrics.SuccessRate,
			AvgBandwidthMbps: s.metrics.AvgBandwidthMbps,
			AvgJitterMs:      s.metrics.AvgJitterMs,
			SuccessRate:      s.metrics.SuccessRate,
			DatasetCount:     s.metrics.DatasetCount,
		}
		r.OverallScore = stats.WeightedComposite(
			stats.Term{Score: r.BandwidthScore, Weight: w.Bandwidth},
			stats.Term{Score: r.LatencyScore, Weight: w.Latency},
			stats.Term{Score: r.ReliabilityScore, Weight: w.Reliability},
		)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OverallScore != out[j].OverallScore {
			return out[i].OverallScore > out[j].OverallScore
		}
		return out[i].Label < out[j].Label
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// trendGroups builds the trend groups of one dimension. keys must be in
// output order; groups without trials are skipped.
func trendGroups(keys []string, groups map[string][]*model.Dataset, cfg config.AnalysisConfig) []model.TrendGroup {
	summaries := map[string]summary{}
	var maxBandwidth float64
	for _, k := range keys {
		s := summarize(groups[k])
		if s.metrics.TrialCount == 0 {
			continue
		}
		summaries[k] = s
		maxBandwidth = math.Max(maxBandwidth, s.metrics.AvgBandwidthMbps)
	}
	w := cfg.Weights
	out := []model.TrendGroup{}
	for _, k := range keys {
		s, ok := summaries[k]
		if !ok {
			continue
		}
		index := stats.WeightedComposite(
			stats.Term{Score: stats.Ratio(s.metrics.AvgBandwidthMbps, maxBandwidth), Weight: w.Bandwidth},
			stats.Term{Score: latencyScore(s), Weight: w.Latency},
			stats.Term{Score: stats.Clamp(1-s.metrics.AvgPacketLoss, 0, 1), Weight: w.PacketLoss},
			stats.Term{Score: 1 / (1 + math.Max(0, s.metrics.AvgRetransmits)), Weight: w.Retransmit},
		)
		out = append(out, model.TrendGroup{
			Key:                k,
			Metrics:            s.metrics,
			BandwidthStability: stats.StabilityScore(s.bandwidth, cfg.MaxVariation),
			PerformanceIndex:   index,
		})
	}
	return out
}

// AnalyzePerformanceTrends summarizes datasets by MTU, backend server and
// logging state. The output is descriptive and not ranked.
func AnalyzePerformanceTrends(datasets []*model.Dataset, cfg config.AnalysisConfig) model.PerformanceTrends {
	byMtu := GroupDatasetsByMtu(datasets)
	mtus := make([]int, 0, len(byMtu))
	for mtu := range byMtu {
		mtus = append(mtus, mtu)
	}
	sort.Ints(mtus)
	mtuKeys := make([]string, 0, len(mtus))
	mtuGroups := map[string][]*model.Dataset{}
	for _, mtu := range mtus {
		k := fmt.Sprintf("mtu%d", mtu)
		mtuKeys = append(mtuKeys, k)
		mtuGroups[k] = byMtu[mtu]
	}

	byServer := GroupDatasetsByServer(datasets)
	servers := make([]string, 0, len(byServer))
	for s := range byServer {
		servers = append(servers, s)
	}
	sort.Strings(servers)

	byLogging := GroupDatasetsByLogging(datasets)
	loggingGroups := map[string][]*model.Dataset{
		"logs_disabled": byLogging[false],
		"logs_enabled":  byLogging[true],
	}

	return model.PerformanceTrends{
		ByMtu:     trendGroups(mtuKeys, mtuGroups, cfg),
		ByServer:  trendGroups(servers, byServer, cfg),
		ByLogging: trendGroups([]string{"logs_disabled", "logs_enabled"}, loggingGroups, cfg),
	}
}

// Compare runs every configuration comparison.
func Compare(datasets []*model.Dataset, cfg config.AnalysisConfig) model.ConfigurationComparison {
	return model.ConfigurationComparison{
		MtuImpact:      AnalyzeMtuImpact(datasets),
		LoggingImpact:  AnalyzeLoggingImpact(datasets, cfg.Weights),
		OverallRanking: RankConfigurations(datasets, cfg.Weights),
		Trends:         AnalyzePerformanceTrends(datasets, cfg),
	}
}
