package iperf_test

import (
	"math"
	"reflect"
	"testing"

	"github.com/m-lab/netperf-analyzer/internal/iperf"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

func dataset(name string, mtu int, logs bool, trials ...model.IperfTestResult) *model.Dataset {
	return &model.Dataset{
		Name: name,
		Configuration: model.TestConfiguration{
			MTU:           mtu,
			AWSLogging:    logs,
			BackendServer: "server-a",
		},
		Results: &model.TestResults{IperfTests: trials},
	}
}

func trial(ok bool, bw, jitter *float64) model.IperfTestResult {
	return model.IperfTestResult{
		Server:        "server-a",
		Scenario:      "tcp",
		Success:       ok,
		BandwidthMbps: bw,
		JitterMs:      jitter,
	}
}

var f = model.Float

func TestAnalyzeBandwidth(t *testing.T) {
	datasets := []*model.Dataset{
		dataset("a", 1500, false,
			trial(true, f(900), nil),
			trial(true, f(1000), nil),
			// Failed trials never count.
			trial(false, f(10), nil),
			// Absent values are excluded, not zero-filled.
			trial(true, nil, nil),
		),
		dataset("b", 1500, false, trial(true, f(950), nil)),
		dataset("c", 1420, true, trial(true, nil, f(2))),
		// Invalid configuration is ignored.
		dataset("d", 0, false, trial(true, f(5000), nil)),
		// Not loaded.
		{Name: "e", Configuration: model.TestConfiguration{MTU: 9001, BackendServer: "x"}},
	}
	got := iperf.AnalyzeBandwidth(datasets, 1)
	if len(got) != 1 {
		t.Fatalf("AnalyzeBandwidth() = %+v, want one entry", got)
	}
	e := got[0]
	if e.Label != "mtu1500-logs_disabled" || e.AvgBandwidthMbps != 950 || e.Samples != 3 {
		t.Errorf("AnalyzeBandwidth() entry = %+v", e)
	}
	if e.Stability <= 0 || e.Stability > 1 {
		t.Errorf("Stability = %f out of (0,1]", e.Stability)
	}
}

func TestAnalyzeLatency(t *testing.T) {
	datasets := []*model.Dataset{
		dataset("a", 1500, true, trial(true, f(900), f(1)), trial(true, f(900), f(3))),
		dataset("b", 1500, false, trial(true, f(900), nil)),
	}
	got := iperf.AnalyzeLatency(datasets)
	if len(got) != 1 || got[0].AvgJitterMs != 2 || got[0].Label != "mtu1500-logs_enabled" {
		t.Errorf("AnalyzeLatency() = %+v", got)
	}
}

func TestAnalyzeReliability(t *testing.T) {
	loss := model.IperfTestResult{Success: true, PacketLoss: f(0.1), Retransmits: f(4)}
	loss2 := model.IperfTestResult{Success: true, PacketLoss: f(0.3)}
	datasets := []*model.Dataset{
		dataset("a", 9001, false, loss, loss2, trial(false, nil, nil), trial(false, nil, nil)),
		dataset("b", 1500, false),
	}
	got := iperf.AnalyzeReliability(datasets)
	if len(got) != 1 {
		t.Fatalf("AnalyzeReliability() = %+v, want one entry", got)
	}
	e := got[0]
	if e.SuccessRate != 0.5 || e.TotalTests != 4 || e.SuccessfulTests != 2 {
		t.Errorf("AnalyzeReliability() entry = %+v", e)
	}
	if math.Abs(e.AvgPacketLoss-0.2) > 1e-9 || e.AvgRetransmits != 4 {
		t.Errorf("AnalyzeReliability() averages = %f %f", e.AvgPacketLoss, e.AvgRetransmits)
	}
}

func TestAnalyzeCPUUtilization(t *testing.T) {
	datasets := []*model.Dataset{
		dataset("a", 1500, false,
			model.IperfTestResult{Success: true, HostCPUUsage: f(10)},
			model.IperfTestResult{Success: true, HostCPUUsage: f(30)},
			model.IperfTestResult{Success: true},
		),
	}
	got := iperf.AnalyzeCPUUtilization(datasets)
	if len(got) != 1 || got[0].AvgHostCPUUsage != 20 || got[0].Samples != 2 {
		t.Errorf("AnalyzeCPUUtilization() = %+v", got)
	}
}

func TestAnalyze(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		got := iperf.Analyze(nil, 1)
		if !reflect.DeepEqual(got, model.NewIperfAnalysis()) {
			t.Errorf("Analyze(nil) = %+v, want empty sequences", got)
		}
		if got.BandwidthComparison == nil || got.CPUUtilizationAnalysis == nil {
			t.Errorf("Analyze(nil) must return non-nil sequences")
		}
	})
	t.Run("ordering and idempotence", func(t *testing.T) {
		datasets := []*model.Dataset{
			dataset("c", 9001, true, trial(true, f(700), f(1))),
			dataset("a", 1500, true, trial(true, f(900), f(2))),
			dataset("b", 1500, false, trial(true, f(950), f(3))),
		}
		first := iperf.Analyze(datasets, 1)
		want := []string{"mtu1500-logs_disabled", "mtu1500-logs_enabled", "mtu9001-logs_enabled"}
		for i, e := range first.BandwidthComparison {
			if e.Label != want[i] {
				t.Errorf("BandwidthComparison[%d] = %s, want %s", i, e.Label, want[i])
			}
		}
		second := iperf.Analyze(datasets, 1)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("Analyze() is not idempotent")
		}
	})
	t.Run("datasets sharing a key are merged", func(t *testing.T) {
		a := dataset("a", 1500, false, trial(true, f(900), nil))
		b := dataset("b", 1500, false, trial(true, f(1000), nil))
		b.Configuration.BackendServer = "server-b"
		got := iperf.Analyze([]*model.Dataset{a, b}, 1)
		if len(got.BandwidthComparison) != 1 || got.BandwidthComparison[0].AvgBandwidthMbps != 950 {
			t.Errorf("Analyze() = %+v", got.BandwidthComparison)
		}
	})
}

func serverTrial(server, scenario string, ok bool, bw *float64) model.IperfTestResult {
	return model.IperfTestResult{Server: server, Scenario: scenario, Success: ok, BandwidthMbps: bw}
}

func TestAnalyzeServers(t *testing.T) {
	parallel := serverTrial("server-a", "parallel", true, f(1200))
	parallel.Retransmits = f(4)
	unloaded := &model.Dataset{Name: "e", Configuration: model.TestConfiguration{MTU: 1500, BackendServer: "x"}}
	datasets := []*model.Dataset{
		dataset("a", 1500, false,
			serverTrial("server-a", "tcp", true, f(900)),
			serverTrial("server-a", "udp", true, f(500)),
			parallel,
			// Failed trials and absent values never count.
			serverTrial("server-a", "tcp", false, f(5000)),
			serverTrial("server-a", "udp", true, nil),
			serverTrial("server-d", "tcp", false, f(10)),
		),
		dataset("b", 9001, true,
			serverTrial("server-a", "tcp", true, f(1000)),
			serverTrial("server-a", "reverse", true, f(700)),
			serverTrial("server-b", "tcp", true, f(300)),
		),
		dataset("c", 0, false, serverTrial("server-c", "tcp", true, f(100))),
		unloaded,
	}

	tests := []struct {
		server    string
		samples   int
		mean      float64
		median    float64
		min, max  float64
		stddev    float64
		scenarios []model.ScenarioBandwidth
	}{
		{
			server: "server-a", samples: 5, mean: 860, median: 900, min: 500, max: 1200,
			stddev: math.Sqrt(58400),
			scenarios: []model.ScenarioBandwidth{
				{Scenario: "parallel", AvgBandwidthMbps: 1200, AvgRetransmits: 4, Samples: 1},
				{Scenario: "tcp", AvgBandwidthMbps: 950, Samples: 2},
				{Scenario: "reverse", AvgBandwidthMbps: 700, Samples: 1},
			},
		},
		{
			server: "server-b", samples: 1, mean: 300, median: 300, min: 300, max: 300,
			scenarios: []model.ScenarioBandwidth{
				{Scenario: "tcp", AvgBandwidthMbps: 300, Samples: 1},
			},
		},
	}

	got := iperf.AnalyzeServers(datasets)
	if len(got) != len(tests) {
		t.Fatalf("AnalyzeServers() returned %d servers, want %d: %+v", len(got), len(tests), got)
	}
	for i, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			s := got[i]
			if s.Server != tt.server || s.Samples != tt.samples {
				t.Fatalf("AnalyzeServers()[%d] = %+v", i, s)
			}
			if s.MeanBandwidthMbps != tt.mean || s.MedianBandwidthMbps != tt.median ||
				s.MinBandwidthMbps != tt.min || s.MaxBandwidthMbps != tt.max {
				t.Errorf("bandwidth stats = %+v", s)
			}
			if math.Abs(s.StdDevBandwidthMbps-tt.stddev) > 1e-9 {
				t.Errorf("StdDevBandwidthMbps = %f, want %f", s.StdDevBandwidthMbps, tt.stddev)
			}
			if !reflect.DeepEqual(s.TopScenarios, tt.scenarios) {
				t.Errorf("TopScenarios = %+v, want %+v", s.TopScenarios, tt.scenarios)
			}
		})
	}
}
