package config

import (
	"fmt"
)

// a type with parameters governing chunked uploads and their retry behavior
type uploadConfig struct {
	// size of each uploaded chunk in bytes (the final chunk may be shorter)
	ChunkSize int64 `json:"chunkSize" yaml:"chunk_size"`
	// maximum number of simultaneous uploads dispatched by the
	// reconciliation engine
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	// number of attempts made for a transfer before it is marked as
	// permanently failed
	MaxAttempts int `json:"maxAttempts" yaml:"max_attempts"`
	// number of times a single chunk is retried on a transient network error
	// before the transfer attempt itself is considered failed
	ChunkAttempts int `json:"chunkAttempts" yaml:"chunk_attempts"`
	// base timeout for a single chunk request (milliseconds); scaled up when
	// the connection quality is poor
	ChunkTimeout int `json:"chunkTimeout" yaml:"chunk_timeout"`
	// factor by which the chunk timeout is multiplied under poor connection
	// quality
	PoorQualityTimeoutFactor int `json:"poorQualityTimeoutFactor" yaml:"poor_quality_timeout_factor"`
	// base delay for the exponential retry backoff (milliseconds)
	RetryBase int `json:"retryBase" yaml:"retry_base"`
	// cap on the retry backoff delay (milliseconds)
	RetryCap int `json:"retryCap" yaml:"retry_cap"`
}

func defaultUploadConfig() uploadConfig {
	return uploadConfig{
		ChunkSize:                5 * 1024 * 1024,
		Concurrency:              3,
		MaxAttempts:              10,
		ChunkAttempts:            3,
		ChunkTimeout:             30000,
		PoorQualityTimeoutFactor: 3,
		RetryBase:                1000,
		RetryCap:                 30000,
	}
}

// This helper validates the given upload parameters, returning an error
// indicating success or failure.
func validateUploadParameters(params uploadConfig) error {
	if params.ChunkSize <= 0 {
		return fmt.Errorf("Invalid chunkSize: %d (must be positive)", params.ChunkSize)
	}
	if params.Concurrency <= 0 {
		return fmt.Errorf("Invalid concurrency: %d (must be positive)", params.Concurrency)
	}
	if params.MaxAttempts <= 0 {
		return fmt.Errorf("Invalid maxAttempts: %d (must be positive)", params.MaxAttempts)
	}
	if params.ChunkAttempts <= 0 {
		return fmt.Errorf("Invalid chunkAttempts: %d (must be positive)", params.ChunkAttempts)
	}
	if params.ChunkTimeout <= 0 {
		return fmt.Errorf("Invalid chunkTimeout: %d ms (must be positive)", params.ChunkTimeout)
	}
	if params.PoorQualityTimeoutFactor < 1 {
		return fmt.Errorf("Invalid poorQualityTimeoutFactor: %d (must be >= 1)",
			params.PoorQualityTimeoutFactor)
	}
	if params.RetryBase <= 0 {
		return fmt.Errorf("Invalid retryBase: %d ms (must be positive)", params.RetryBase)
	}
	if params.RetryCap < params.RetryBase {
		return fmt.Errorf("Invalid retryCap: %d ms (must be >= retryBase)", params.RetryCap)
	}
	return nil
}
