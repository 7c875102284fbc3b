package model

// BandwidthEntry is the average bandwidth of one configuration.
type BandwidthEntry struct {
	Configuration    ConfigKey
	Label            string
	AvgBandwidthMbps float64
	// Stability is the 0-1 stability score of the bandwidth samples.
	Stability float64
	Samples   int
}

// LatencyEntry is the average jitter of one configuration.
type LatencyEntry struct {
	Configuration ConfigKey
	Label         string
	AvgJitterMs   float64
	Samples       int
}

// ReliabilityEntry summarizes trial outcomes for one configuration.
type ReliabilityEntry struct {
	Configuration   ConfigKey
	Label           string
	SuccessRate     float64
	TotalTests      int
	SuccessfulTests int
	AvgPacketLoss   float64
	// LossSamples is the number of successful trials reporting packet loss.
	LossSamples    int
	AvgRetransmits float64
}

// CPUEntry is the average host CPU usage of one configuration.
type CPUEntry struct {
	Configuration   ConfigKey
	Label           string
	AvgHostCPUUsage float64
	Samples         int
}

// ScenarioBandwidth is the average bandwidth of one scenario on a server.
type ScenarioBandwidth struct {
	Scenario         string
	AvgBandwidthMbps float64
	AvgRetransmits   float64
	Samples          int
}

// ServerStats describes the bandwidth measured against one iperf3 server,
// across every configuration.
type ServerStats struct {
	Server string
	// Samples is the number of successful trials reporting bandwidth.
	Samples             int
	MeanBandwidthMbps   float64
	MedianBandwidthMbps float64
	MinBandwidthMbps    float64
	MaxBandwidthMbps    float64
	StdDevBandwidthMbps float64
	// TopScenarios are the best scenarios by average bandwidth, at most 3.
	TopScenarios []ScenarioBandwidth
}

// IperfAnalysis is the per-configuration iperf3 analysis. Every
// per-configuration sequence is ordered by ConfigKey; ServerBreakdown is
// ordered by server name.
type IperfAnalysis struct {
	BandwidthComparison    []BandwidthEntry
	LatencyAnalysis        []LatencyEntry
	ReliabilityMetrics     []ReliabilityEntry
	CPUUtilizationAnalysis []CPUEntry
	ServerBreakdown        []ServerStats
}

// NewIperfAnalysis returns an IperfAnalysis with empty, non-nil sequences.
func NewIperfAnalysis() IperfAnalysis {
	return IperfAnalysis{
		BandwidthComparison:    []BandwidthEntry{},
		LatencyAnalysis:        []LatencyEntry{},
		ReliabilityMetrics:     []ReliabilityEntry{},
		CPUUtilizationAnalysis: []CPUEntry{},
		ServerBreakdown:        []ServerStats{},
	}
}

// DomainTiming is the average response time of a domain.
type DomainTiming struct {
	Domain            string
	AvgResponseTimeMs float64
	Queries           int
	Successes         int
}

// DNSPerformanceEntry holds the DNS metrics of a single dataset.
type DNSPerformanceEntry struct {
	Dataset           string
	Configuration     ConfigKey
	Label             string
	BackendServer     string
	AvgResponseTimeMs float64
	SuccessRate       float64
	TotalQueries      int
	SuccessfulQueries int
	SlowestDomains    []DomainTiming
	FastestDomains    []DomainTiming
}

// DomainRanking aggregates a domain across every dataset.
type DomainRanking struct {
	Domain            string
	AvgResponseTimeMs float64
	SuccessRate       float64
	QueryCount        int
}

// DNSServerEntry aggregates a DNS server across every dataset.
type DNSServerEntry struct {
	Server            string
	AvgResponseTimeMs float64
	SuccessRate       float64
	QueryCount        int
	// Configurations lists the labels of the configurations that queried
	// this server.
	Configurations []string
}

// FailurePattern is the number of occurrences of a DNS error message.
type FailurePattern struct {
	Error string
	Count int
}

// DNSAnalysis is the DNS analysis across every dataset.
type DNSAnalysis struct {
	PerformanceMetrics []DNSPerformanceEntry
	DomainRankings     []DomainRanking
	ServerComparison   []DNSServerEntry
	FailurePatterns    []FailurePattern
}

// NewDNSAnalysis returns a DNSAnalysis with empty, non-nil sequences.
func NewDNSAnalysis() DNSAnalysis {
	return DNSAnalysis{
		PerformanceMetrics: []DNSPerformanceEntry{},
		DomainRankings:     []DomainRanking{},
		ServerComparison:   []DNSServerEntry{},
		FailurePatterns:    []FailurePattern{},
	}
}

// GroupMetrics are the average iperf3 metrics of a group of datasets.
type GroupMetrics struct {
	DatasetCount     int
	TrialCount       int
	AvgBandwidthMbps float64
	AvgJitterMs      float64
	SuccessRate      float64
	AvgHostCPUUsage  float64
	AvgPacketLoss    float64
	AvgRetransmits   float64
}

// MtuGroup are the metrics of all datasets sharing an MTU.
type MtuGroup struct {
	MTU     int
	Metrics GroupMetrics
}

// MtuImpact describes how the MTU affects performance.
type MtuImpact struct {
	Groups []MtuGroup
	// OptimalMtu is the MTU with the highest average bandwidth, or 0.
	OptimalMtu      int
	Recommendations []string
}

// LoggingImpact compares logging-enabled and logging-disabled datasets.
type LoggingImpact struct {
	Enabled       GroupMetrics
	Disabled      GroupMetrics
	EnabledScore  float64
	DisabledScore float64
	// PerformanceImpact is the percent change of the composite score when
	// logging is disabled.
	PerformanceImpact float64
	// BandwidthDifference is disabled minus enabled average bandwidth.
	BandwidthDifference float64
	// LatencyDifference is disabled minus enabled average jitter.
	LatencyDifference float64
	Recommendations   []string
}

// RankedConfiguration is one row of the overall configuration ranking.
type RankedConfiguration struct {
	Rank             int
	Configuration    ConfigKey
	Label            string
	BandwidthScore   float64
	LatencyScore     float64
	ReliabilityScore float64
	OverallScore     float64
	AvgBandwidthMbps float64
	AvgJitterMs      float64
	SuccessRate      float64
	DatasetCount     int
}

// TrendGroup summarizes a group of datasets for the trends report.
type TrendGroup struct {
	Key                string
	Metrics            GroupMetrics
	BandwidthStability float64
	PerformanceIndex   float64
}

// PerformanceTrends groups datasets by MTU, backend server and logging.
type PerformanceTrends struct {
	ByMtu     []TrendGroup
	ByServer  []TrendGroup
	ByLogging []TrendGroup
}

// ConfigurationComparison is the cross-configuration comparison.
type ConfigurationComparison struct {
	MtuImpact      MtuImpact
	LoggingImpact  LoggingImpact
	OverallRanking []RankedConfiguration
	Trends         PerformanceTrends
}

// NewConfigurationComparison returns a comparison with every field set to
// its empty value.
func NewConfigurationComparison() ConfigurationComparison {
	return ConfigurationComparison{
		MtuImpact: MtuImpact{
			Groups:          []MtuGroup{},
			Recommendations: []string{},
		},
		LoggingImpact: LoggingImpact{
			Recommendations: []string{},
		},
		OverallRanking: []RankedConfiguration{},
		Trends: PerformanceTrends{
			ByMtu:     []TrendGroup{},
			ByServer:  []TrendGroup{},
			ByLogging: []TrendGroup{},
		},
	}
}

// AnomalyKind classifies the direction of an anomaly.
type AnomalyKind string

const (
	// KindDegradation is a value worse than the cross-configuration mean.
	KindDegradation = AnomalyKind("performance_degradation")
	// KindImprovement is a value better than the cross-configuration mean.
	KindImprovement = AnomalyKind("unexpected_improvement")
)

// AnomalySeverity is the severity of an anomaly.
type AnomalySeverity string

const (
	SeverityLow    = AnomalySeverity("low")
	SeverityMedium = AnomalySeverity("medium")
	SeverityHigh   = AnomalySeverity("high")
)

// Rank returns a sortable rank for the severity (higher is more severe).
func (s AnomalySeverity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// PerformanceAnomaly is a per-configuration metric value that deviates from
// the cross-configuration mean by more than the configured threshold.
type PerformanceAnomaly struct {
	Kind          AnomalyKind
	Severity      AnomalySeverity
	Configuration ConfigKey
	Label         string
	Metric        string
	Observed      float64
	// Expected is the cross-configuration mean.
	Expected    float64
	StdDev      float64
	ZScore      float64
	Description string
}
