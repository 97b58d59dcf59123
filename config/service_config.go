package config

import (
	"fmt"
)

// a type with service configuration parameters
type serviceConfig struct {
	// port on which the service listens
	Port int `json:"port" yaml:"port"`
	// maximum number of allowed incoming connections
	MaxConnections int `json:"maxConnections" yaml:"max_connections"`
	// directory in which the service keeps its durable state (transfer queue,
	// journal)
	DataDirectory string `json:"dataDirectory" yaml:"data_directory"`
	// interval at which the reconciliation engine polls for eligible
	// transfers (milliseconds)
	PollInterval int `json:"pollInterval" yaml:"poll_interval"`
	// optional name distinguishing this service instance's state files
	Name string `json:"name" yaml:"name"`
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Port:           8080,
		MaxConnections: 100,
		PollInterval:   500,
	}
}

// This helper validates the given service parameters, returning an
// error indicating success or failure.
func validateServiceParameters(params serviceConfig) error {
	if params.Port < 0 || params.Port > 65535 {
		return fmt.Errorf("Invalid port: %d (must be 0-65535)", params.Port)
	}
	if params.MaxConnections <= 0 {
		return fmt.Errorf("Invalid maxConnections: %d (must be positive)",
			params.MaxConnections)
	}
	if params.PollInterval <= 0 {
		return fmt.Errorf("Invalid pollInterval: %d (must be positive)",
			params.PollInterval)
	}
	return nil
}
