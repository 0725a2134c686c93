package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	copilot "github.com/ZhenchangMin/AI-study-copilot/internal/api/copilot/v1"
	"github.com/ZhenchangMin/AI-study-copilot/internal/server/middleware"
	logutils "github.com/ZhenchangMin/AI-study-copilot/internal/utils/logger"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 1 << 20
)

// ChatRelay answers a conversation; *relay.Relay is the production implementation
type ChatRelay interface {
	Relay(ctx context.Context, turns []json.RawMessage) (copilot.ChatReply, error)
}

// Options configures the server
type Options struct {
	Port           string
	Relay          ChatRelay
	ApiKey         string
	Timeout        string
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// Server represents the API server
type Server struct {
	ctx            context.Context
	port           string
	relay          ChatRelay
	apikey         string
	timeout        time.Duration
	allowedOrigins []string
	maxBodyBytes   int64
	httpServer     *http.Server
}

// New creates a new server instance. The logger is taken from ctx.
func New(ctx context.Context, opts Options) (*Server, error) {
	_, ctx = logutils.FromContext(ctx).Clone(ctx, "server")

	timeout, err := time.ParseDuration(opts.Timeout)
	if err != nil || timeout <= 0 {
		timeout = defaultTimeout
	}

	if opts.Port == "" {
		return nil, errors.New("port is required")
	}
	if opts.Relay == nil {
		return nil, errors.New("relay is required")
	}

	maxBodyBytes := opts.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		ctx:            ctx,
		port:           opts.Port,
		relay:          opts.Relay,
		apikey:         opts.ApiKey,
		timeout:        timeout,
		allowedOrigins: opts.AllowedOrigins,
		maxBodyBytes:   maxBodyBytes,
	}

	s.httpServer = &http.Server{
		Addr: ":" + s.port,
		// accept cleartext HTTP/2 alongside HTTP/1.1
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		BaseContext:       func(l net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Enable HTTP/2 support
	if err := http2.ConfigureServer(s.httpServer, nil); err != nil {
		return nil, errors.Wrap(err, "error configuring HTTP/2")
	}

	return s, nil
}

// Handler builds the routed handler with all middlewares applied
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	middleware.Use(s.ctx, r, middleware.Params{
		Timeout:        s.timeout,
		AllowedOrigins: s.allowedOrigins,
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireApiKey(s.apikey))
		r.Get("/hello", s.handleHello)
		r.Post("/chat", s.handleChat)
		r.Post("/chat_llm", s.handleChatLLM)
	})

	return r
}

// Start starts the HTTP server and blocks until it stops. A clean Shutdown
// returns nil.
func (s *Server) Start() error {
	logutils.FromContext(s.ctx).Infof(s.ctx, "Starting server on port %s", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "error serving HTTP")
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	logutils.FromContext(s.ctx).Info(s.ctx, "Shutting down server")
	return s.httpServer.Shutdown(ctx)
}
