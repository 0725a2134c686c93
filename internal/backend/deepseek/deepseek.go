package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	deepseekv1 "github.com/ZhenchangMin/AI-study-copilot/internal/api/deepseek/v1"
	"github.com/ZhenchangMin/AI-study-copilot/internal/backend"
	deepseekconstants "github.com/ZhenchangMin/AI-study-copilot/internal/constants/deepseek"
	logutils "github.com/ZhenchangMin/AI-study-copilot/internal/utils/logger"
	"github.com/pkg/errors"
	"golang.org/x/net/http2"
)

var _ backend.Completer = &Backend{}

// Backend talks to the DeepSeek chat completions API. The model and
// temperature are fixed; only transport behaviour is configurable.
type Backend struct {
	endpoint     string
	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
	client       *http.Client
}

type Options struct {
	Endpoint     string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	// HTTPClient overrides the default HTTP/2 capable client
	HTTPClient *http.Client
}

func NewDeepseekBackend(opts Options) *Backend {
	b := &Backend{
		endpoint:     opts.Endpoint,
		timeout:      opts.Timeout,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		client:       opts.HTTPClient,
	}
	if b.endpoint == "" {
		b.endpoint = deepseekconstants.DefaultEndpoint
	}
	if b.timeout <= 0 {
		b.timeout = deepseekconstants.DefaultTimeout
	}
	if b.maxRetries < 0 {
		b.maxRetries = 0
	}
	if b.retryBackoff <= 0 {
		b.retryBackoff = deepseekconstants.DefaultRetryBackoff
	}
	if b.client == nil {
		b.client = newHTTPClient()
	}
	return b
}

// newHTTPClient negotiates HTTP/2 over TLS and falls back to HTTP/1.1.
// Deadlines come from the request context rather than Client.Timeout.
func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if _, err := http2.ConfigureTransports(transport); err != nil {
		logutils.FromContext(context.Background()).Warnf(context.Background(), "HTTP/2 unavailable for upstream client: %s", err)
	}
	return &http.Client{Transport: transport}
}

// Name returns the name of the backend
func (b *Backend) Name() string {
	return "deepseek"
}

// Complete forwards turns to DeepSeek and returns the first choice's content.
func (b *Backend) Complete(ctx context.Context, apiKey string, turns []json.RawMessage) (string, error) {
	lgr, ctx := logutils.FromContext(ctx).Clone(ctx, b.Name())

	body, err := json.Marshal(deepseekv1.Request{
		Model:       deepseekconstants.DefaultChatModel,
		Messages:    turns,
		Temperature: deepseekconstants.DefaultTemperature,
		Stream:      false,
	})
	if err != nil {
		return "", backend.Rejected(0, "conversation is not valid JSON", errors.Wrap(err, "error creating request body"))
	}

	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			wait := b.retryBackoff * time.Duration(attempt)
			lgr.Infof(ctx, "Retrying upstream call in %s (attempt %d of %d)", wait, attempt+1, b.maxRetries+1)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", backend.Unavailable(ctx.Err(), "cancelled while waiting to retry")
			case <-timer.C:
			}
		}

		reply, err := b.send(ctx, apiKey, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !backend.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		lgr.Warnf(ctx, "Upstream attempt %d failed: %s", attempt+1, err)
	}
	return "", lastErr
}

// send performs a single bounded round trip
func (b *Backend) send(ctx context.Context, apiKey string, body []byte) (string, error) {
	lgr := logutils.FromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	targetURL := b.endpoint + "/chat/completions"
	lgr.Debugf(ctx, "Forwarding to: %s", targetURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "error creating upstream request")
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := b.client.Do(req)
	if err != nil {
		ue := backend.Unavailable(errors.Wrap(err, "error forwarding request"), "")
		ue.Timeout = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return "", ue
	}
	defer resp.Body.Close()

	lgr.Debugf(ctx, "DeepSeek response status: %d", resp.StatusCode)

	respBody, err := readResponse(resp)
	if err != nil {
		ue := backend.Unavailable(errors.Wrap(err, "error reading response"), "")
		ue.Timeout = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return "", ue
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := errorMessage(resp.StatusCode, respBody)
		lgr.Infof(ctx, "DeepSeek error response: %d %s", resp.StatusCode, msg)
		return "", backend.Rejected(resp.StatusCode, msg, nil)
	}

	var deepseekResp deepseekv1.Response
	if err := json.Unmarshal(respBody, &deepseekResp); err != nil {
		return "", backend.Rejected(resp.StatusCode, "malformed completion response", errors.Wrap(err, "error parsing DeepSeek response"))
	}
	if len(deepseekResp.Choices) == 0 {
		return "", backend.Rejected(resp.StatusCode, "completion response has no choices", nil)
	}

	lgr.Debugf(ctx, "DeepSeek usage: prompt=%d completion=%d total=%d",
		deepseekResp.Usage.PromptTokens,
		deepseekResp.Usage.CompletionTokens,
		deepseekResp.Usage.TotalTokens,
	)
	return deepseekResp.Choices[0].Message.Content, nil
}
