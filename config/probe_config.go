package config

import (
	"fmt"
)

// a type with parameters governing active connection health probes
type probeConfig struct {
	// URL of the lightweight health endpoint probed by the connection monitor
	URL string `json:"url" yaml:"url"`
	// interval between probes while the connection is classified online
	// (milliseconds)
	Interval int `json:"interval" yaml:"interval"`
	// cap on the backoff between probes while the connection is classified
	// offline (milliseconds)
	OfflineCap int `json:"offlineCap" yaml:"offline_cap"`
	// timeout for a single probe request (milliseconds)
	Timeout int `json:"timeout" yaml:"timeout"`
	// number of recent probe outcomes considered when classifying connection
	// quality
	Window int `json:"window" yaml:"window"`
	// number of consecutive probe failures after which the connection is
	// classified offline regardless of the platform signal
	FailureThreshold int `json:"failureThreshold" yaml:"failure_threshold"`
}

func defaultProbeConfig() probeConfig {
	return probeConfig{
		Interval:         30000,
		OfflineCap:       30000,
		Timeout:          5000,
		Window:           20,
		FailureThreshold: 10,
	}
}

// This helper validates the given probe parameters, returning an error
// indicating success or failure.
func validateProbeParameters(params probeConfig) error {
	if params.URL == "" {
		return fmt.Errorf("No probe URL was provided!")
	}
	if params.Interval <= 0 {
		return fmt.Errorf("Invalid probe interval: %d ms (must be positive)", params.Interval)
	}
	if params.OfflineCap <= 0 {
		return fmt.Errorf("Invalid probe offlineCap: %d ms (must be positive)", params.OfflineCap)
	}
	if params.Timeout <= 0 {
		return fmt.Errorf("Invalid probe timeout: %d ms (must be positive)", params.Timeout)
	}
	if params.Window <= 0 {
		return fmt.Errorf("Invalid probe window: %d (must be positive)", params.Window)
	}
	if params.FailureThreshold <= 1 {
		return fmt.Errorf("Invalid probe failureThreshold: %d (must be > 1)",
			params.FailureThreshold)
	}
	return nil
}
