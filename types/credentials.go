package types

// ConnectorCredentials are the secrets FrameSync needs to talk to its
// collaborators. They live in the vault, never in configuration files.
type ConnectorCredentials struct {
	// Connector names the collaborator, e.g. "bank" or "journal"
	Connector string `json:"connector"`

	APIToken     string `json:"apiToken,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	SigningKey   string `json:"signingKey,omitempty"`
	Password     string `json:"password,omitempty"`
}
