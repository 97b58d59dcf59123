package config

// parameters that describe a logical upload destination: an imaging endpoint
// identified by modality and an optional analysis model
type destinationConfig struct {
	// human-readable destination name
	Name string `json:"name" yaml:"name"`
	// base URL of the destination's upload API
	URL string `json:"url" yaml:"url"`
	// image modality accepted by this destination (e.g. "CT", "MR", "CR")
	Modality string `json:"modality" yaml:"modality"`
	// identifier of the analysis model applied after a completed upload
	// (empty if the destination picks its own)
	ModelId string `json:"modelId" yaml:"model_id"`
}
