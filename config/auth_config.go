package config

// parameters related to client authentication and outbound credentials
type authConfig struct {
	// path to the fernet-encrypted access token file
	TokenFile string `json:"tokenFile" yaml:"token_file"`
	// base64-encoded fernet key used to decrypt the token file
	Key string `json:"key" yaml:"key"`
	// path to a file holding the bearer credential presented to upload
	// destinations (rotated out of band; see the resume endpoint)
	UploadTokenFile string `json:"uploadTokenFile" yaml:"upload_token_file"`
}
