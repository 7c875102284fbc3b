package model

import "encoding/json"

// IperfTestResult is a single iperf3 trial as written by the data gatherer.
// Numeric fields are optional: a nil value means the metric was not reported
// and must not be counted as zero.
type IperfTestResult struct {
	Server   string `json:"server"`
	Scenario string `json:"scenario"`
	Success  bool   `json:"success"`

	// BandwidthMbps is the achieved bandwidth in Mbit/s.
	BandwidthMbps *float64 `json:"bandwidth_mbps,omitempty"`
	// JitterMs is the jitter in milliseconds (UDP scenarios).
	JitterMs *float64 `json:"jitter_ms,omitempty"`
	// PacketLoss is the lost packet fraction, in [0, 1]. Files written as
	// percentages are converted when loaded.
	PacketLoss *float64 `json:"packet_loss,omitempty"`
	// Retransmits is the number of TCP retransmits.
	Retransmits *float64 `json:"retransmits,omitempty"`
	// HostCPUUsage is the sender host CPU utilization percentage.
	HostCPUUsage *float64 `json:"host_cpu_usage,omitempty"`
	// Duration is the trial duration in seconds.
	Duration *float64 `json:"duration,omitempty"`

	// Error is the failure reason for unsuccessful trials.
	Error string `json:"error,omitempty"`
}

// DNSTestResult is a single DNS resolution trial.
type DNSTestResult struct {
	Domain    string `json:"domain"`
	DNSServer string `json:"dns_server"`
	Success   bool   `json:"success"`

	// ResponseTimeMs is only meaningful when Success is true.
	ResponseTimeMs *float64 `json:"response_time_ms,omitempty"`
	// Error is only set when Success is false.
	Error string `json:"error,omitempty"`

	Status      string   `json:"status,omitempty"`
	QueryTimeMs *float64 `json:"query_time_ms,omitempty"`
	ResolvedIPs []string `json:"resolved_ips,omitempty"`
}

// TestResults holds every trial from one results file. It is not modified
// once loaded.
type TestResults struct {
	IperfTests []IperfTestResult `json:"iperf_tests"`
	DNSResults []DNSTestResult   `json:"dns_results"`
}

// UnmarshalJSON accepts the gatherer's older "dns_tests" key as an alias
// for "dns_results".
func (r *TestResults) UnmarshalJSON(b []byte) error {
	type plain TestResults
	aux := struct {
		*plain
		DNSTests []DNSTestResult `json:"dns_tests"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if len(r.DNSResults) == 0 && len(aux.DNSTests) > 0 {
		r.DNSResults = aux.DNSTests
	}
	return nil
}

// Float returns a pointer to v. It is a convenience for building results.
func Float(v float64) *float64 {
	return &v
}
