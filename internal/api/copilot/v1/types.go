package v1

import "encoding/json"

// ChatLLMRequest is the body of POST /api/chat_llm. Each element of Messages is
// a conversation turn, conventionally {"role": ..., "content": ...}, and is
// relayed upstream without re-shaping.
type ChatLLMRequest struct {
	Messages []json.RawMessage `json:"messages"`
}

// EchoRequest is the body of POST /api/chat
type EchoRequest struct {
	Message *string `json:"message"`
}

// ChatReply is returned by both chat endpoints
type ChatReply struct {
	Reply string `json:"reply"`
}

type HelloResponse struct {
	Msg string `json:"msg"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is written for every non-2xx answer produced by this server
type ErrorResponse struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}
