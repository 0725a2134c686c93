package backend

import (
	"context"
	"encoding/json"
)

// Completer is an upstream LLM provider able to answer a conversation
type Completer interface {
	// Name returns the name of the backend
	Name() string

	// Complete sends the conversation turns upstream, authenticated with apiKey,
	// and returns the content of the first completion choice. Failures are
	// reported as *UpstreamError.
	Complete(ctx context.Context, apiKey string, turns []json.RawMessage) (string, error)
}
