package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"training-sync-service/internal/app"
	"training-sync-service/internal/auth"
	"training-sync-service/internal/config"
	"training-sync-service/internal/content"
	"training-sync-service/internal/logging"
	"training-sync-service/internal/presence"
	transport "training-sync-service/internal/transport/http"
)

const (
	defaultPort     = "8080"
	defaultTokenTTL = 12 * time.Hour
	shutdownTimeout = 5 * time.Second
	startupTimeout  = 10 * time.Second
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = defaultPort
	}

	handler, cleanup, err := buildHandler(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting session sync service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildHandler wires backends, service and router. An unreachable durable
// backend is logged and the process keeps serving from the in-process store.
func buildHandler(ctx context.Context, cfg config.Config, logger *zap.Logger) (http.Handler, func(), error) {
	if cfg.DurableEnabled() && cfg.DurableDriver() == driverPostgres {
		migrateCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		err := runMigrationsWithConfig(migrateCtx, cfg, logger)
		cancel()
		if err != nil {
			logger.Warn("startup migrations failed, serving from the in-process store until postgres is reachable",
				zap.String("operation", "migrate"),
				zap.Error(err))
		}
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	service, err := newSessionService(ctx, cfg, b, logger)
	if err != nil {
		b.Close()
		return nil, nil, err
	}

	handler, err := transport.NewHTTPHandler(transport.Dependencies{
		Service:        service,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		service.Close()
		b.Close()
		return nil, nil, err
	}
	return handler, func() {
		service.Close()
		b.Close()
	}, nil
}

func newSessionService(ctx context.Context, cfg config.Config, b *backends, logger *zap.Logger) (*app.SessionService, error) {
	repo, err := contentRepository(cfg, b, logger)
	if err != nil {
		return nil, err
	}
	loadCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	course, err := repo.LoadContent(loadCtx, content.DefaultID)
	cancel()
	if err != nil {
		return nil, err
	}

	sessions, err := newStore(cfg, b, logger, course.FirstSection())
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewHostTokens(auth.HostTokensConfig{
		SigningSecret: []byte(cfg.Auth.TokenSecret),
		TokenTTL:      config.TTLDuration(cfg.Auth.TokenTTL, defaultTokenTTL),
	})
	if err != nil {
		return nil, err
	}
	if cfg.Auth.TokenSecret == "" {
		logger.Warn("no token secret configured, host tokens will not survive a restart")
	}

	return app.NewSessionService(app.Dependencies{
		Store:         sessions,
		Content:       repo,
		Authority:     tokens,
		HostPassword:  auth.NewPasswordGate(cfg.Auth.HostPassword, cfg.Auth.HostPasswordHash),
		AdminPassword: auth.NewPasswordGate(cfg.Auth.AdminPassword, cfg.Auth.AdminPasswordHash),
		Presence:      presence.NewTracker(presence.DefaultWindow, time.Now, logger),
		Logger:        logger,
	})
}
