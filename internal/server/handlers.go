package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	copilot "github.com/ZhenchangMin/AI-study-copilot/internal/api/copilot/v1"
	"github.com/ZhenchangMin/AI-study-copilot/internal/backend"
	"github.com/ZhenchangMin/AI-study-copilot/internal/utils"
	logutils "github.com/ZhenchangMin/AI-study-copilot/internal/utils/logger"
	"github.com/pkg/errors"
)

const echoPrefix = "You said: "

var (
	errMissingMessages = errors.New("messages is required")
	errEmptyMessages   = errors.New("messages must not be empty")
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, copilot.HealthResponse{OK: true})
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, copilot.HelloResponse{Msg: "hello from backend"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req copilot.EchoRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Message == nil {
		s.writeError(w, r, http.StatusBadRequest, "message is required")
		return
	}
	s.writeJSON(w, r, http.StatusOK, copilot.ChatReply{Reply: echoPrefix + *req.Message})
}

func (s *Server) handleChatLLM(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lgr := logutils.FromContext(ctx)

	var req copilot.ChatLLMRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := validateTurns(req.Messages); err != nil {
		lgr.Infof(ctx, "Rejecting chat request: %s", err)
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.relay.Relay(ctx, req.Messages)
	if err != nil {
		lgr.Error(ctx, err.Error())
		s.writeRelayError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, reply)
}

// validateTurns accepts a non-empty array whose elements are all JSON objects.
// Their contents are left for the provider to judge.
func validateTurns(turns []json.RawMessage) error {
	if turns == nil {
		return errMissingMessages
	}
	if len(turns) == 0 {
		return errEmptyMessages
	}
	for i, turn := range turns {
		trimmed := bytes.TrimSpace(turn)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return errors.Errorf("messages[%d] must be a JSON object", i)
		}
	}
	return nil
}

// decodeBody reads a size-limited JSON body into v, answering the request
// itself on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		err = errors.Wrap(err, "error parsing request")
		logutils.FromContext(ctx).Info(ctx, err.Error())
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) writeRelayError(w http.ResponseWriter, r *http.Request, err error) {
	ue, ok := backend.AsUpstreamError(err)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := http.StatusBadGateway
	if ue.Kind == backend.UpstreamUnavailable && ue.Timeout {
		status = http.StatusGatewayTimeout
	}

	msg := ue.Kind.String()
	if ue.Message != "" {
		msg += ": " + ue.Message
	}
	s.writeJSON(w, r, status, copilot.ErrorResponse{
		Error:          msg,
		UpstreamStatus: ue.StatusCode,
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, copilot.ErrorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	if err := utils.WriteJSON(w, status, v); err != nil {
		ctx := r.Context()
		err = errors.Wrap(err, "error encoding response")
		logutils.FromContext(ctx).Error(ctx, err.Error())
	}
}
