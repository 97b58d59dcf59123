package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// global config variables
var Service serviceConfig
var Upload uploadConfig
var Probe probeConfig
var Auth authConfig
var Destinations map[string]destinationConfig

// This struct performs the unmarshalling from the YAML config file and then
// copies its fields to the globals above.
type configFile struct {
	Service      serviceConfig                `yaml:"service"`
	Upload       uploadConfig                 `yaml:"upload"`
	Probe        probeConfig                  `yaml:"probe"`
	Auth         authConfig                   `yaml:"auth"`
	Destinations map[string]destinationConfig `yaml:"destinations"`
}

// This helper reads configuration data, returning an error indicating success
// or failure. All environment variables of the form ${ENV_VAR} are expanded.
func readConfig(bytes []byte) error {
	// Before we do anything else, expand any provided environment variables.
	bytes = []byte(os.ExpandEnv(string(bytes)))

	conf := configFile{
		Service: defaultServiceConfig(),
		Upload:  defaultUploadConfig(),
		Probe:   defaultProbeConfig(),
	}
	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		log.Printf("Couldn't parse configuration data: %s\n", err)
		return err
	}

	// copy the config data into place
	Service = conf.Service
	Upload = conf.Upload
	Probe = conf.Probe
	Auth = conf.Auth
	Destinations = conf.Destinations

	return err
}

// This helper validates the configuration, returning an error that indicates
// success or failure.
func validateConfig() error {
	if err := validateServiceParameters(Service); err != nil {
		return err
	}
	if err := validateUploadParameters(Upload); err != nil {
		return err
	}
	if err := validateProbeParameters(Probe); err != nil {
		return err
	}

	// were we given any destinations?
	if len(Destinations) == 0 {
		return fmt.Errorf("No destinations were provided!")
	}
	for name, destination := range Destinations {
		if destination.URL == "" {
			return fmt.Errorf("Destination %s has no URL!", name)
		}
		if destination.Modality == "" {
			return fmt.Errorf("Destination %s has no image modality!", name)
		}
	}
	return nil
}

// Initializes the upload service configuration using the given YAML byte
// data.
func Init(yamlData []byte) error {

	// Read the configuration from our YAML data.
	err := readConfig(yamlData)
	if err != nil {
		return err
	}

	// Validate the configuration.
	err = validateConfig()
	return err
}
