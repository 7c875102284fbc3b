// Package report renders the archival record of an analysis run as a
// markdown document.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

// MaxDomains is the number of domains listed in the domain ranking table.
const MaxDomains = 15

// cellReplacer keeps free text on one table row.
var cellReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "|", "\\|")

// cell escapes s for use in a markdown table cell.
func cell(s string) string {
	return strings.TrimSpace(cellReplacer.Replace(s))
}

var funcs = template.FuncMap{
	"cell": cell,
	"f2":  func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"pct": func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
	"signed": func(v float64) string {
		return fmt.Sprintf("%+.2f", v)
	},
	"time": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"join": func(values []string, sep string) string {
		cells := make([]string, 0, len(values))
		for _, v := range values {
			cells = append(cells, cell(v))
		}
		return strings.Join(cells, sep)
	},
	"head": func(n int, rankings []model.DomainRanking) []model.DomainRanking {
		if len(rankings) > n {
			return rankings[:n]
		}
		return rankings
	},
	"domains": func(timings []model.DomainTiming) string {
		parts := make([]string, 0, len(timings))
		for _, d := range timings {
			parts = append(parts, fmt.Sprintf("%s (%.1f ms)", cell(d.Domain), d.AvgResponseTimeMs))
		}
		return strings.Join(parts, ", ")
	},
	"scenarios": func(top []model.ScenarioBandwidth) string {
		parts := make([]string, 0, len(top))
		for _, s := range top {
			parts = append(parts, fmt.Sprintf("%s (%.2f Mbps)", cell(s.Scenario), s.AvgBandwidthMbps))
		}
		return strings.Join(parts, ", ")
	},
	"maxDomains": func() int { return MaxDomains },
}

const markdown = `# Network performance analysis

- Run: {{.RunID}}
- Started: {{time .StartTime}}
- Completed: {{time .EndTime}}
- State: {{.State}}
- Version: {{.Version}} ({{.GitShortCommit}})

## Datasets
{{if .Datasets}}
| Dataset | Configuration | MTU | Logging | Backend | Loaded | iperf3 trials | DNS queries |
|---|---|---|---|---|---|---|---|
{{range .Datasets}}| {{cell .Name}} | {{.Label}} | {{.MTU}} | {{.AWSLogging}} | {{cell .BackendServer}} | {{.Loaded}} | {{.IperfTests}} | {{.DNSQueries}} |
{{end}}{{else}}
_No data._
{{end}}
## Overall ranking
{{if .Comparison.OverallRanking}}
| Rank | Configuration | Score | Bandwidth (Mbps) | Jitter (ms) | Success rate | Datasets |
|---|---|---|---|---|---|---|
{{range .Comparison.OverallRanking}}| {{.Rank}} | {{.Label}} | {{f2 .OverallScore}} | {{f2 .AvgBandwidthMbps}} | {{f2 .AvgJitterMs}} | {{pct .SuccessRate}} | {{.DatasetCount}} |
{{end}}{{else}}
_No data._
{{end}}
## Throughput
{{if .Iperf.BandwidthComparison}}
| Configuration | Bandwidth (Mbps) | Stability | Samples |
|---|---|---|---|
{{range .Iperf.BandwidthComparison}}| {{.Label}} | {{f2 .AvgBandwidthMbps}} | {{f2 .Stability}} | {{.Samples}} |
{{end}}{{else}}
_No data._
{{end}}
## Latency
{{if .Iperf.LatencyAnalysis}}
| Configuration | Jitter (ms) | Samples |
|---|---|---|
{{range .Iperf.LatencyAnalysis}}| {{.Label}} | {{f2 .AvgJitterMs}} | {{.Samples}} |
{{end}}{{else}}
_No data._
{{end}}
## Reliability
{{if .Iperf.ReliabilityMetrics}}
| Configuration | Success rate | Trials | Successful | Packet loss | Retransmits |
|---|---|---|---|---|---|
{{range .Iperf.ReliabilityMetrics}}| {{.Label}} | {{pct .SuccessRate}} | {{.TotalTests}} | {{.SuccessfulTests}} | {{pct .AvgPacketLoss}} | {{f2 .AvgRetransmits}} |
{{end}}{{else}}
_No data._
{{end}}
## CPU utilization
{{if .Iperf.CPUUtilizationAnalysis}}
| Configuration | Host CPU (%) | Samples |
|---|---|---|
{{range .Iperf.CPUUtilizationAnalysis}}| {{.Label}} | {{f2 .AvgHostCPUUsage}} | {{.Samples}} |
{{end}}{{else}}
_No data._
{{end}}
## Servers
{{if .Iperf.ServerBreakdown}}
| Server | Samples | Mean (Mbps) | Median (Mbps) | Min (Mbps) | Max (Mbps) | Std dev (Mbps) | Top scenarios |
|---|---|---|---|---|---|---|---|
{{range .Iperf.ServerBreakdown}}| {{cell .Server}} | {{.Samples}} | {{f2 .MeanBandwidthMbps}} | {{f2 .MedianBandwidthMbps}} | {{f2 .MinBandwidthMbps}} | {{f2 .MaxBandwidthMbps}} | {{f2 .StdDevBandwidthMbps}} | {{scenarios .TopScenarios}} |
{{end}}{{else}}
_No data._
{{end}}
## MTU impact
{{with .Comparison.MtuImpact}}{{if .Groups}}
| MTU | Bandwidth (Mbps) | Jitter (ms) | Success rate | Host CPU (%) | Packet loss |
|---|---|---|---|---|---|
{{range .Groups}}| {{.MTU}} | {{f2 .Metrics.AvgBandwidthMbps}} | {{f2 .Metrics.AvgJitterMs}} | {{pct .Metrics.SuccessRate}} | {{f2 .Metrics.AvgHostCPUUsage}} | {{pct .Metrics.AvgPacketLoss}} |
{{end}}
{{if .OptimalMtu}}Optimal MTU: **{{.OptimalMtu}}**
{{end}}{{range .Recommendations}}
- {{.}}{{end}}
{{else}}
_No data._
{{end}}{{end}}
## Logging impact
{{with .Comparison.LoggingImpact}}{{if .Recommendations}}
| Logging | Bandwidth (Mbps) | Jitter (ms) | Success rate | Score |
|---|---|---|---|---|
| enabled | {{f2 .Enabled.AvgBandwidthMbps}} | {{f2 .Enabled.AvgJitterMs}} | {{pct .Enabled.SuccessRate}} | {{f2 .EnabledScore}} |
| disabled | {{f2 .Disabled.AvgBandwidthMbps}} | {{f2 .Disabled.AvgJitterMs}} | {{pct .Disabled.SuccessRate}} | {{f2 .DisabledScore}} |

Performance impact of disabling logging: {{f2 .PerformanceImpact}}% (bandwidth {{signed .BandwidthDifference}} Mbps, jitter {{signed .LatencyDifference}} ms)
{{range .Recommendations}}
- {{.}}{{end}}
{{else}}
_No data._
{{end}}{{end}}
## Trends
{{with .Comparison.Trends}}{{if or .ByMtu .ByServer .ByLogging}}
| Group | Trials | Bandwidth (Mbps) | Stability | Performance index |
|---|---|---|---|---|
{{range .ByMtu}}| {{cell .Key}} | {{.Metrics.TrialCount}} | {{f2 .Metrics.AvgBandwidthMbps}} | {{f2 .BandwidthStability}} | {{f2 .PerformanceIndex}} |
{{end}}{{range .ByServer}}| {{cell .Key}} | {{.Metrics.TrialCount}} | {{f2 .Metrics.AvgBandwidthMbps}} | {{f2 .BandwidthStability}} | {{f2 .PerformanceIndex}} |
{{end}}{{range .ByLogging}}| {{cell .Key}} | {{.Metrics.TrialCount}} | {{f2 .Metrics.AvgBandwidthMbps}} | {{f2 .BandwidthStability}} | {{f2 .PerformanceIndex}} |
{{end}}{{else}}
_No data._
{{end}}{{end}}
## DNS performance
{{if .DNS.PerformanceMetrics}}
| Dataset | Configuration | Response time (ms) | Success rate | Queries | Slowest domains |
|---|---|---|---|---|---|
{{range .DNS.PerformanceMetrics}}| {{cell .Dataset}} | {{.Label}} | {{f2 .AvgResponseTimeMs}} | {{pct .SuccessRate}} | {{.TotalQueries}} | {{domains .SlowestDomains}} |
{{end}}{{else}}
_No data._
{{end}}
## DNS servers
{{if .DNS.ServerComparison}}
| Server | Response time (ms) | Success rate | Queries | Configurations |
|---|---|---|---|---|
{{range .DNS.ServerComparison}}| {{cell .Server}} | {{f2 .AvgResponseTimeMs}} | {{pct .SuccessRate}} | {{.QueryCount}} | {{join .Configurations ", "}} |
{{end}}{{else}}
_No data._
{{end}}
## Slowest domains
{{if .DNS.DomainRankings}}
| Domain | Response time (ms) | Success rate | Queries |
|---|---|---|---|
{{range head maxDomains .DNS.DomainRankings}}| {{cell .Domain}} | {{f2 .AvgResponseTimeMs}} | {{pct .SuccessRate}} | {{.QueryCount}} |
{{end}}{{else}}
_No data._
{{end}}
## DNS failures
{{if .DNS.FailurePatterns}}
| Error | Count |
|---|---|
{{range .DNS.FailurePatterns}}| {{cell .Error}} | {{.Count}} |
{{end}}{{else}}
_No failures._
{{end}}
## Anomalies
{{if .Anomalies}}
| Severity | Kind | Configuration | Metric | Observed | Expected | z-score |
|---|---|---|---|---|---|---|
{{range .Anomalies}}| {{.Severity}} | {{.Kind}} | {{.Label}} | {{.Metric}} | {{f2 .Observed}} | {{f2 .Expected}} | {{f2 .ZScore}} |
{{end}}{{range .Anomalies}}
- {{.Description}}{{end}}
{{else}}
_No anomalies detected._ A configuration is flagged when its value is more than the
anomaly threshold (2 standard deviations by default) away from the mean of all
configurations. With n configurations no value can be more than sqrt(n-1) standard
deviations away, so the default threshold needs at least 6 configurations.
{{end}}
## Errors
{{if .Errors}}
| Category | Severity | Dataset | File | Message |
|---|---|---|---|---|
{{range .Errors}}| {{.Category}} | {{.Severity}} | {{cell .Dataset}} | {{cell .File}} | {{cell .Message}} |
{{end}}{{else}}
_No errors._
{{end}}`

var tmpl = template.Must(template.New("report").Funcs(funcs).Parse(markdown))

// Markdown writes the markdown report of data to w.
func Markdown(w io.Writer, data *model.ArchivalData) error {
	return tmpl.Execute(w, data)
}

// Render returns the markdown report of data.
func Render(data *model.ArchivalData) ([]byte, error) {
	var buf bytes.Buffer
	if err := Markdown(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
