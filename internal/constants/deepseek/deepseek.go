package deepseek

import "time"

const (
	DefaultEndpoint    = "https://api.deepseek.com"
	DefaultChatModel   = "deepseek-chat"
	DefaultTemperature = 0.7

	DefaultTimeout      = 30 * time.Second
	DefaultRetryBackoff = 500 * time.Millisecond

	// APIKeyEnv is the environment variable holding the upstream bearer credential.
	APIKeyEnv = "DEEPSEEK_API_KEY"

	// MissingAPIKeyReply is returned in place of a completion when no credential
	// was configured at startup.
	MissingAPIKeyReply = "Server missing DEEPSEEK_API_KEY env var."
)
