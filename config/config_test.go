package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// a complete, valid configuration
const validConfig string = `
service:
  port: 8080
  max_connections: 100
  poll_interval: 250
  data_directory: /tmp/uplink
upload:
  chunk_size: 5242880
  concurrency: 3
  max_attempts: 10
  chunk_attempts: 3
probe:
  url: https://imaging.example.org/healthz
  interval: 30000
  window: 20
  failure_threshold: 10
auth:
  token_file: /tmp/uplink/tokens
  key: cUzkpt3HTWdO8IRWoAiyUPdv3_TkxmIxx_iQkIKYmlc=
destinations:
  ct-scans:
    name: CT Scan Archive
    url: https://imaging.example.org/ct
    modality: CT
    model_id: lung-nodule-v3
`

// a configuration with a bad port number
const invalidPortConfig string = `
service:
  port: 100000
probe:
  url: https://imaging.example.org/healthz
destinations:
  ct-scans:
    url: https://imaging.example.org/ct
    modality: CT
`

// a configuration missing destinations
const noDestinationsConfig string = `
service:
  port: 8080
probe:
  url: https://imaging.example.org/healthz
`

// a destination without a modality
const noModalityConfig string = `
probe:
  url: https://imaging.example.org/healthz
destinations:
  ct-scans:
    url: https://imaging.example.org/ct
`

// tests whether config.Init works on valid config data and fills in defaults
func TestInit(t *testing.T) {
	assert := assert.New(t)

	err := Init([]byte(validConfig))
	assert.Nil(err)
	assert.Equal(8080, Service.Port)
	assert.Equal(100, Service.MaxConnections)
	assert.Equal("/tmp/uplink", Service.DataDirectory)
	assert.Equal(int64(5242880), Upload.ChunkSize)
	assert.Equal(3, Upload.Concurrency)
	assert.Equal(10, Upload.MaxAttempts)
	assert.Equal("https://imaging.example.org/healthz", Probe.URL)

	// defaults for parameters the file doesn't mention
	assert.Equal(30000, Upload.ChunkTimeout)
	assert.Equal(1000, Upload.RetryBase)
	assert.Equal(30000, Probe.OfflineCap)

	destination, found := Destinations["ct-scans"]
	assert.True(found)
	assert.Equal("CT", destination.Modality)
	assert.Equal("lung-nodule-v3", destination.ModelId)
}

// tests whether config.Init rejects invalid config data
func TestInitWithInvalidConfig(t *testing.T) {
	assert := assert.New(t)

	err := Init([]byte(invalidPortConfig))
	assert.NotNil(err)

	err = Init([]byte(noDestinationsConfig))
	assert.NotNil(err)

	err = Init([]byte(noModalityConfig))
	assert.NotNil(err)

	err = Init([]byte("not yaml: [[["))
	assert.NotNil(err)
}

// tests that environment variables are expanded in config data
func TestEnvironmentExpansion(t *testing.T) {
	assert := assert.New(t)

	t.Setenv("UPLINK_TEST_MODEL", "bone-age-v1")
	withEnvVar := `
probe:
  url: https://imaging.example.org/healthz
destinations:
  xrays:
    url: https://imaging.example.org/cr
    modality: CR
    model_id: ${UPLINK_TEST_MODEL}
`
	err := Init([]byte(withEnvVar))
	assert.Nil(err)
	assert.Equal("bone-age-v1", Destinations["xrays"].ModelId)
}
