// Package relay forwards a caller's conversation to the configured LLM
// provider and hands back the generated reply.
package relay

import (
	"context"
	"encoding/json"

	copilot "github.com/ZhenchangMin/AI-study-copilot/internal/api/copilot/v1"
	"github.com/ZhenchangMin/AI-study-copilot/internal/backend"
	deepseekconstants "github.com/ZhenchangMin/AI-study-copilot/internal/constants/deepseek"
	logutils "github.com/ZhenchangMin/AI-study-copilot/internal/utils/logger"
	"github.com/pkg/errors"
)

type Options struct {
	// Credential is the provider API key, resolved once at startup. An empty
	// credential is allowed; Relay then answers with MissingAPIKeyReply.
	Credential string
	Completer  backend.Completer
}

// Relay is stateless after construction and safe for concurrent use
type Relay struct {
	credential string
	completer  backend.Completer
}

func New(opts Options) (*Relay, error) {
	if opts.Completer == nil {
		return nil, errors.New("completer is required")
	}
	return &Relay{
		credential: opts.Credential,
		completer:  opts.Completer,
	}, nil
}

// HasCredential reports whether upstream calls will be attempted
func (r *Relay) HasCredential() bool {
	return r.credential != ""
}

// Relay sends turns upstream unmodified. Without a credential it returns the
// diagnostic reply and makes no network call.
func (r *Relay) Relay(ctx context.Context, turns []json.RawMessage) (copilot.ChatReply, error) {
	lgr := logutils.FromContext(ctx)

	if !r.HasCredential() {
		lgr.Warnf(ctx, "%s is not configured, answering with diagnostic reply", deepseekconstants.APIKeyEnv)
		return copilot.ChatReply{Reply: deepseekconstants.MissingAPIKeyReply}, nil
	}

	lgr.Debugf(ctx, "Relaying %d conversation turns to %s", len(turns), r.completer.Name())
	reply, err := r.completer.Complete(ctx, r.credential, turns)
	if err != nil {
		return copilot.ChatReply{}, errors.Wrapf(err, "error relaying conversation to %s", r.completer.Name())
	}
	return copilot.ChatReply{Reply: reply}, nil
}
