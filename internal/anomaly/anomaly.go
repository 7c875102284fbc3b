// Package anomaly flags per-configuration metric values that deviate from
// the cross-configuration mean.
package anomaly

import (
	"fmt"
	"math"
	"sort"

	"github.com/m-lab/netperf-analyzer/internal/config"
	"github.com/m-lab/netperf-analyzer/internal/stats"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

// Metric names.
const (
	BandwidthMetric  = "bandwidth_mbps"
	JitterMetric     = "jitter_ms"
	PacketLossMetric = "packet_loss"
	DNSMetric        = "dns_response_time_ms"
)

// Severity thresholds, in standard deviations.
const (
	highDeviation   = 3.0
	mediumDeviation = 2.0
)

type point struct {
	key   model.ConfigKey
	value float64
}

// series is the per-configuration values of one metric.
type series struct {
	metric         string
	higherIsBetter bool
	points         []point
}

func bandwidthSeries(a model.IperfAnalysis) series {
	s := series{metric: BandwidthMetric, higherIsBetter: true}
	for _, e := range a.BandwidthComparison {
		s.points = append(s.points, point{e.Configuration, e.AvgBandwidthMbps})
	}
	return s
}

func jitterSeries(a model.IperfAnalysis) series {
	s := series{metric: JitterMetric}
	for _, e := range a.LatencyAnalysis {
		s.points = append(s.points, point{e.Configuration, e.AvgJitterMs})
	}
	return s
}

func lossSeries(a model.IperfAnalysis) series {
	s := series{metric: PacketLossMetric}
	for _, e := range a.ReliabilityMetrics {
		if e.LossSamples > 0 {
			s.points = append(s.points, point{e.Configuration, e.AvgPacketLoss})
		}
	}
	return s
}

// dnsSeries combines the per-dataset averages of every configuration,
// weighting each by its number of successful queries.
func dnsSeries(d model.DNSAnalysis) series {
	type acc struct{ sum, weight float64 }
	byKey := map[model.ConfigKey]*acc{}
	var keys []model.ConfigKey
	for _, e := range d.PerformanceMetrics {
		if e.SuccessfulQueries == 0 {
			continue
		}
		a, ok := byKey[e.Configuration]
		if !ok {
			a = &acc{}
			byKey[e.Configuration] = a
			keys = append(keys, e.Configuration)
		}
		w := float64(e.SuccessfulQueries)
		a.sum += e.AvgResponseTimeMs * w
		a.weight += w
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	s := series{metric: DNSMetric}
	for _, k := range keys {
		s.points = append(s.points, point{k, byKey[k].sum / byKey[k].weight})
	}
	return s
}

// Severity returns the severity of a z-score.
func Severity(z float64) model.AnomalySeverity {
	switch abs := math.Abs(z); {
	case abs >= highDeviation:
		return model.SeverityHigh
	case abs >= mediumDeviation:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func (s series) detect(cfg config.AnomalyConfig) []model.PerformanceAnomaly {
	if len(s.points) < cfg.MinConfigurations {
		return nil
	}
	values := make([]float64, len(s.points))
	for i, p := range s.points {
		values[i] = p.value
	}
	mean := stats.Average(values)
	sd := stats.StdDev(values)
	if sd == 0 {
		return nil
	}
	var out []model.PerformanceAnomaly
	for _, p := range s.points {
		z := (p.value - mean) / sd
		if math.Abs(z) <= cfg.Threshold {
			continue
		}
		kind := model.KindImprovement
		direction := "better"
		if (s.higherIsBetter && z < 0) || (!s.higherIsBetter && z > 0) {
			kind = model.KindDegradation
			direction = "worse"
		}
		out = append(out, model.PerformanceAnomaly{
			Kind:          kind,
			Severity:      Severity(z),
			Configuration: p.key,
			Label:         p.key.String(),
			Metric:        s.metric,
			Observed:      p.value,
			Expected:      mean,
			StdDev:        sd,
			ZScore:        z,
			Description: fmt.Sprintf(
				"%s of %s is %.3f, %.2f standard deviations %s than the mean of %.3f across %d configurations",
				s.metric, p.key, p.value, math.Abs(z), direction, mean, len(s.points)),
		})
	}
	return out
}

// Detect returns the anomalies of every metric, most severe first. A metric
// with fewer than cfg.MinConfigurations configurations, or with no variation,
// yields no anomaly.
func Detect(iperf model.IperfAnalysis, dns model.DNSAnalysis, cfg config.AnomalyConfig) []model.PerformanceAnomaly {
	out := []model.PerformanceAnomaly{}
	for _, s := range []series{
		bandwidthSeries(iperf),
		jitterSeries(iperf),
		lossSeries(iperf),
		dnsSeries(dns),
	} {
		out = append(out, s.detect(cfg)...)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if za, zb := math.Abs(a.ZScore), math.Abs(b.ZScore); za != zb {
			return za > zb
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		return a.Label < b.Label
	})
	return out
}
