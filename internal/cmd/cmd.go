package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZhenchangMin/AI-study-copilot/internal/backend/deepseek"
	deepseekconstants "github.com/ZhenchangMin/AI-study-copilot/internal/constants/deepseek"
	"github.com/ZhenchangMin/AI-study-copilot/internal/relay"
	"github.com/ZhenchangMin/AI-study-copilot/internal/server"
	"github.com/ZhenchangMin/AI-study-copilot/internal/server/logger"
	logutils "github.com/ZhenchangMin/AI-study-copilot/internal/utils/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 10 * time.Second

const rootLongDesc = `Backend for the AI Study Copilot frontend.

Serves a health check, a hello endpoint, an echo chat endpoint and
/api/chat_llm, which relays the conversation history to DeepSeek
(model deepseek-chat, temperature 0.7) and returns the reply.

The DeepSeek credential is read from DEEPSEEK_API_KEY (a .env file is
honoured) or deepseek.api_key in the config file.`

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "copilot",
		Short:         "Run the AI Study Copilot backend",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	addConfigFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, res, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.Loglevel)
	if err != nil {
		return errors.Wrap(err, "invalid log_level")
	}

	exitCh := make(chan string, 1)
	lgr := logger.New(cmd.Context(), "copilot", level, exitCh)
	defer func() { _ = lgr.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logutils.ContextWithLogger(ctx, lgr)

	if res.envErr != nil {
		lgr.Warn(ctx, res.envErr.Error())
	}
	if res.configFile != "" {
		lgr.Infof(ctx, "Loaded config from %s", res.configFile)
	}

	timeout := parseDuration(cfg.Timeout, deepseekconstants.DefaultTimeout)
	completer := deepseek.NewDeepseekBackend(deepseek.Options{
		Endpoint:     cfg.Deepseek.Endpoint,
		Timeout:      timeout,
		MaxRetries:   cfg.Deepseek.MaxRetries,
		RetryBackoff: parseDuration(cfg.Deepseek.RetryBackoff, deepseekconstants.DefaultRetryBackoff),
	})

	rl, err := relay.New(relay.Options{
		Credential: cfg.Deepseek.Apikey,
		Completer:  completer,
	})
	if err != nil {
		return errors.Wrap(err, "error creating relay")
	}
	if !rl.HasCredential() {
		lgr.Warnf(ctx, "%s is not set; /api/chat_llm will answer with a diagnostic reply", deepseekconstants.APIKeyEnv)
	}
	lgr.Infof(ctx, "Relaying to %s at %s (timeout %s, retries %d)",
		deepseekconstants.DefaultChatModel, cfg.Deepseek.Endpoint, timeout, cfg.Deepseek.MaxRetries)

	// requests get a little longer than the upstream call so its error can be reported
	svr, err := server.New(ctx, server.Options{
		Port:           cfg.Port,
		Relay:          rl,
		ApiKey:         cfg.ServerApiKey,
		Timeout:        (timeout + 5*time.Second).String(),
		AllowedOrigins: cfg.Cors.AllowedOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})
	if err != nil {
		return errors.Wrap(err, "unable to create server")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(svr.Start)
	g.Go(func() error {
		var killErr error
		select {
		case <-gctx.Done():
		case s := <-exitCh:
			killErr = errors.Errorf("killed with message %s", s)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := svr.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "error shutting down server")
		}
		return killErr
	})

	return g.Wait()
}
