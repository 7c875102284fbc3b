// Package dns aggregates DNS resolution trials into per-dataset metrics,
// domain rankings, server comparisons and failure tallies.
package dns

import (
	"sort"

	"github.com/m-lab/netperf-analyzer/internal/stats"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

// DefaultTopDomains is the number of slowest and fastest domains reported
// per dataset when no other value is configured.
const DefaultTopDomains = 5

// UnknownError is tallied for failed queries without an error message.
const UnknownError = "Unknown error"

// tally accumulates the queries for a domain or server.
type tally struct {
	name      string
	order     int
	queries   int
	successes int
	times     []*float64
}

func (t *tally) add(r *model.DNSTestResult) {
	t.queries++
	if r.Success {
		t.successes++
		t.times = append(t.times, r.ResponseTimeMs)
	}
}

func (t *tally) average() float64 {
	return stats.Average(stats.Present(t.times...))
}

func (t *tally) successRate() float64 {
	return stats.Ratio(float64(t.successes), float64(t.queries))
}

// tallies keeps one tally per name, in first-seen order.
type tallies struct {
	byName map[string]*tally
	list   []*tally
}

func newTallies() *tallies {
	return &tallies{byName: map[string]*tally{}}
}

func (ts *tallies) get(name string) *tally {
	t, ok := ts.byName[name]
	if !ok {
		t = &tally{name: name, order: len(ts.list)}
		ts.byName[name] = t
		ts.list = append(ts.list, t)
	}
	return t
}

func queries(ds *model.Dataset) []model.DNSTestResult {
	if !ds.Usable() {
		return nil
	}
	return ds.Results.DNSResults
}

// CalculatePerformanceMetrics returns the DNS metrics of every usable
// dataset with at least one query, in input order. The average response
// time only covers successful queries; domains without a successful query
// are listed with an average of 0.
func CalculatePerformanceMetrics(datasets []*model.Dataset, topN int) []model.DNSPerformanceEntry {
	if topN <= 0 {
		topN = DefaultTopDomains
	}
	out := []model.DNSPerformanceEntry{}
	for _, ds := range datasets {
		results := queries(ds)
		if len(results) == 0 {
			continue
		}
		all := &tally{}
		domains := newTallies()
		for i := range results {
			all.add(&results[i])
			domains.get(results[i].Domain).add(&results[i])
		}
		timings := make([]model.DomainTiming, 0, len(domains.list))
		for _, d := range domains.list {
			timings = append(timings, model.DomainTiming{
				Domain:            d.name,
				AvgResponseTimeMs: d.average(),
				Queries:           d.queries,
				Successes:         d.successes,
			})
		}
		out = append(out, model.DNSPerformanceEntry{
			Dataset:           ds.Name,
			Configuration:     ds.Key(),
			Label:             ds.Key().String(),
			BackendServer:     ds.Configuration.BackendServer,
			AvgResponseTimeMs: all.average(),
			SuccessRate:       all.successRate(),
			TotalQueries:      all.queries,
			SuccessfulQueries: all.successes,
			SlowestDomains:    topDomains(timings, topN, true),
			FastestDomains:    topDomains(timings, topN, false),
		})
	}
	return out
}

// topDomains returns up to n timings sorted by average response time,
// slowest first if desc is true. Ties break on the domain name.
func topDomains(timings []model.DomainTiming, n int, desc bool) []model.DomainTiming {
	sorted := make([]model.DomainTiming, len(timings))
	copy(sorted, timings)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.AvgResponseTimeMs != b.AvgResponseTimeMs {
			if desc {
				return a.AvgResponseTimeMs > b.AvgResponseTimeMs
			}
			return a.AvgResponseTimeMs < b.AvgResponseTimeMs
		}
		return a.Domain < b.Domain
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// CalculateDomainRankings returns one entry per domain seen in any dataset,
// slowest first. Ties keep the order in which domains were first seen.
// Domains that never resolved are kept with zero average and success rate.
func CalculateDomainRankings(datasets []*model.Dataset) []model.DomainRanking {
	domains := newTallies()
	for _, ds := range datasets {
		results := queries(ds)
		for i := range results {
			domains.get(results[i].Domain).add(&results[i])
		}
	}
	list := make([]*tally, len(domains.list))
	copy(list, domains.list)
	avg := make(map[*tally]float64, len(list))
	for _, d := range list {
		avg[d] = d.average()
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if avg[a] != avg[b] {
			return avg[a] > avg[b]
		}
		return a.order < b.order
	})
	out := make([]model.DomainRanking, 0, len(list))
	for _, d := range list {
		out = append(out, model.DomainRanking{
			Domain:            d.name,
			AvgResponseTimeMs: avg[d],
			SuccessRate:       d.successRate(),
			QueryCount:        d.queries,
		})
	}
	return out
}

// CalculateServerComparison returns one entry per DNS server, fastest first.
// Servers without a successful query sort after every server with one. Ties
// break on the server name.
func CalculateServerComparison(datasets []*model.Dataset) []model.DNSServerEntry {
	servers := newTallies()
	labels := map[string]map[string]bool{}
	for _, ds := range datasets {
		results := queries(ds)
		label := ds.Key().String()
		for i := range results {
			name := results[i].DNSServer
			servers.get(name).add(&results[i])
			if labels[name] == nil {
				labels[name] = map[string]bool{}
			}
			labels[name][label] = true
		}
	}
	out := make([]model.DNSServerEntry, 0, len(servers.list))
	for _, s := range servers.list {
		configs := make([]string, 0, len(labels[s.name]))
		for l := range labels[s.name] {
			configs = append(configs, l)
		}
		sort.Strings(configs)
		out = append(out, model.DNSServerEntry{
			Server:            s.name,
			AvgResponseTimeMs: s.average(),
			SuccessRate:       s.successRate(),
			QueryCount:        s.queries,
			Configurations:    configs,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aOK, bOK := a.SuccessRate > 0, b.SuccessRate > 0
		if aOK != bOK {
			return aOK
		}
		if a.AvgResponseTimeMs != b.AvgResponseTimeMs {
			return a.AvgResponseTimeMs < b.AvgResponseTimeMs
		}
		return a.Server < b.Server
	})
	return out
}

// AnalyzeFailurePatterns counts the error messages of failed queries.
// Messages are kept verbatim; an empty message counts as UnknownError.
func AnalyzeFailurePatterns(datasets []*model.Dataset) map[string]int {
	patterns := map[string]int{}
	for _, ds := range datasets {
		for _, r := range queries(ds) {
			if r.Success {
				continue
			}
			msg := r.Error
			if msg == "" {
				msg = UnknownError
			}
			patterns[msg]++
		}
	}
	return patterns
}

// SortPatterns converts failure counts to a slice sorted by count, most
// frequent first, then by message.
func SortPatterns(patterns map[string]int) []model.FailurePattern {
	out := make([]model.FailurePattern, 0, len(patterns))
	for msg, n := range patterns {
		out = append(out, model.FailurePattern{Error: msg, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Error < out[j].Error
	})
	return out
}

// Analyze runs every DNS analysis.
func Analyze(datasets []*model.Dataset, topN int) model.DNSAnalysis {
	return model.DNSAnalysis{
		PerformanceMetrics: CalculatePerformanceMetrics(datasets, topN),
		DomainRankings:     CalculateDomainRankings(datasets),
		ServerComparison:   CalculateServerComparison(datasets),
		FailurePatterns:    SortPatterns(AnalyzeFailurePatterns(datasets)),
	}
}
