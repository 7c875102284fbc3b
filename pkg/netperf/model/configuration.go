package model

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is returned by TestConfiguration.Validate.
var ErrInvalidConfiguration = errors.New("invalid test configuration")

// TestConfiguration identifies one experimental network configuration.
type TestConfiguration struct {
	// MTU is the interface MTU used during the test. Must be positive.
	MTU int `json:"mtu"`
	// AWSLogging says whether AWS flow logging was enabled.
	AWSLogging bool `json:"aws_logging"`
	// BackendServer is the server the tests were run against.
	BackendServer string `json:"backend_server"`
	// TestDate is the timestamp of the test run, as recorded by the gatherer.
	TestDate string `json:"test_date"`
}

// Validate returns an error wrapping ErrInvalidConfiguration if the
// configuration cannot be analyzed.
func (c TestConfiguration) Validate() error {
	if c.MTU <= 0 {
		return fmt.Errorf("%w: mtu must be positive (got %d)", ErrInvalidConfiguration, c.MTU)
	}
	if c.BackendServer == "" {
		return fmt.Errorf("%w: backend server is empty", ErrInvalidConfiguration)
	}
	return nil
}

// Key returns the grouping key for this configuration.
func (c TestConfiguration) Key() ConfigKey {
	return ConfigKey{MTU: c.MTU, LoggingEnabled: c.AWSLogging}
}

// ConfigKey is the grouping key used throughout the analysis. Datasets that
// only differ by backend server share the same key.
type ConfigKey struct {
	MTU            int
	LoggingEnabled bool
}

// String returns the canonical label, e.g. "mtu1500-logs_enabled".
func (k ConfigKey) String() string {
	state := "disabled"
	if k.LoggingEnabled {
		state = "enabled"
	}
	return fmt.Sprintf("mtu%d-logs_%s", k.MTU, state)
}

// Less orders keys by MTU, then logging disabled before enabled.
func (k ConfigKey) Less(other ConfigKey) bool {
	if k.MTU != other.MTU {
		return k.MTU < other.MTU
	}
	return !k.LoggingEnabled && other.LoggingEnabled
}

// Dataset is a set of test artifacts sharing one TestConfiguration.
type Dataset struct {
	// Name is the unique name of this dataset.
	Name string
	// ParametersFile is the path of the file the configuration was read from.
	ParametersFile string
	// ResultsFile is the path of the test results file.
	ResultsFile string
	// Configuration is the network configuration the tests ran under.
	Configuration TestConfiguration
	// Results is populated by the analysis engine. Analyzers only read it.
	Results *TestResults
}

// Key returns the grouping key of the dataset's configuration.
func (d *Dataset) Key() ConfigKey {
	return d.Configuration.Key()
}

// Usable reports whether the dataset has loaded results and a valid
// configuration.
func (d *Dataset) Usable() bool {
	return d != nil && d.Results != nil && d.Configuration.Validate() == nil
}
