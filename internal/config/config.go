// Package config holds the tunable parameters of the analysis pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBandwidthWeight   = 0.4
	defaultLatencyWeight     = 0.3
	defaultReliabilityWeight = 0.3
	defaultPacketLossWeight  = 0.2
	defaultRetransmitWeight  = 0.1
	defaultMaxVariation      = 1.0
	defaultTopDomains        = 5

	defaultAnomalyThreshold      = 2.0
	defaultAnomalyMinConfigCount = 3

	defaultMaxConcurrentLoads = 4
	defaultLoadTimeout        = 30 * time.Second
	defaultCacheTTL           = 5 * time.Minute
	defaultPacketLossUnit     = LossFraction
)

// Units of the packet_loss field of results files.
const (
	LossFraction = "fraction"
	LossPercent  = "percent"
)

// Duration is a time.Duration that can be decoded from YAML as a number of
// seconds or as a duration string such as "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the full configuration.
type Config struct {
	Analysis AnalysisConfig `yaml:"analysis"`
	Anomaly  AnomalyConfig  `yaml:"anomaly"`
	Engine   EngineConfig   `yaml:"engine"`
}

// Weights are the weights of the composite scores.
type Weights struct {
	Bandwidth   float64 `yaml:"bandwidth"`
	Latency     float64 `yaml:"latency"`
	Reliability float64 `yaml:"reliability"`
	PacketLoss  float64 `yaml:"packet_loss"`
	Retransmit  float64 `yaml:"retransmit"`
}

// AnalysisConfig configures the analyzers and the comparator.
type AnalysisConfig struct {
	Weights Weights `yaml:"weights"`
	// MaxVariation is the coefficient of variation mapped to a zero
	// stability score.
	MaxVariation float64 `yaml:"max_variation"`
	// TopDomains is the number of slowest/fastest domains kept per dataset.
	TopDomains int `yaml:"top_domains"`
}

// AnomalyConfig configures the anomaly detector.
type AnomalyConfig struct {
	// Threshold is the number of standard deviations above which a value is
	// anomalous.
	Threshold float64 `yaml:"threshold"`
	// MinConfigurations is the minimum number of configurations needed to
	// look for anomalies.
	MinConfigurations int `yaml:"min_configurations"`
}

// EngineConfig configures the analysis engine.
type EngineConfig struct {
	MaxConcurrentLoads int      `yaml:"max_concurrent_loads"`
	LoadTimeout        Duration `yaml:"load_timeout"`
	// FailFast aborts a run on the first reported error.
	FailFast bool `yaml:"fail_fast"`
	// CacheTTL is how long loaded results are reused. Zero disables the
	// cache.
	CacheTTL Duration `yaml:"cache_ttl"`
	// PacketLossUnit is LossFraction or LossPercent.
	PacketLossUnit string `yaml:"packet_loss_unit"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Analysis: AnalysisConfig{
			Weights: Weights{
				Bandwidth:   defaultBandwidthWeight,
				Latency:     defaultLatencyWeight,
				Reliability: defaultReliabilityWeight,
				PacketLoss:  defaultPacketLossWeight,
				Retransmit:  defaultRetransmitWeight,
			},
			MaxVariation: defaultMaxVariation,
			TopDomains:   defaultTopDomains,
		},
		Anomaly: AnomalyConfig{
			Threshold:         defaultAnomalyThreshold,
			MinConfigurations: defaultAnomalyMinConfigCount,
		},
		Engine: EngineConfig{
			MaxConcurrentLoads: defaultMaxConcurrentLoads,
			LoadTimeout:        Duration(defaultLoadTimeout),
			CacheTTL:           Duration(defaultCacheTTL),
			PacketLossUnit:     defaultPacketLossUnit,
		},
	}
}

// Load reads a YAML file and decodes it over the defaults. Keys absent from
// the file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return Parse(data)
}

// Parse decodes YAML data over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate returns an error describing every invalid value.
func (c Config) Validate() error {
	var errs []error
	w := c.Analysis.Weights
	for name, v := range map[string]float64{
		"bandwidth":   w.Bandwidth,
		"latency":     w.Latency,
		"reliability": w.Reliability,
		"packet_loss": w.PacketLoss,
		"retransmit":  w.Retransmit,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("analysis.weights.%s must not be negative", name))
		}
	}
	if c.Analysis.MaxVariation <= 0 {
		errs = append(errs, errors.New("analysis.max_variation must be positive"))
	}
	if c.Analysis.TopDomains <= 0 {
		errs = append(errs, errors.New("analysis.top_domains must be positive"))
	}
	if c.Anomaly.Threshold <= 0 {
		errs = append(errs, errors.New("anomaly.threshold must be positive"))
	}
	if c.Anomaly.MinConfigurations < 2 {
		errs = append(errs, errors.New("anomaly.min_configurations must be at least 2"))
	}
	if c.Engine.MaxConcurrentLoads <= 0 {
		errs = append(errs, errors.New("engine.max_concurrent_loads must be positive"))
	}
	if c.Engine.LoadTimeout < 0 {
		errs = append(errs, errors.New("engine.load_timeout must not be negative"))
	}
	if c.Engine.CacheTTL < 0 {
		errs = append(errs, errors.New("engine.cache_ttl must not be negative"))
	}
	if u := c.Engine.PacketLossUnit; u != LossFraction && u != LossPercent {
		errs = append(errs, fmt.Errorf("engine.packet_loss_unit must be %q or %q, not %q",
			LossFraction, LossPercent, u))
	}
	return errors.Join(errs...)
}
