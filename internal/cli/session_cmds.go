package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"training-sync-service/internal/config"
	"training-sync-service/internal/logging"
	"training-sync-service/internal/syncclient"
)

// NewHostCmd hosts a session and drives it from console commands.
func NewHostCmd(configPath *string) *cobra.Command {
	flags := clientFlags{}
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a session: next, prev, jump M S, reveal M, toggle ID, end, reset, quit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), *configPath, flags, func(ctx context.Context, env clientEnv) error {
				code, err := env.client.Host(ctx, nil)
				if err != nil {
					return err
				}
				env.logger.Info("session ready", zap.String("code", code), zap.String("mode", string(env.client.Mode())))
				env.run(func(line string) (bool, error) {
					return hostCommand(env.ctx, env.client, line)
				})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flags.name, "name", "Facilitator", "display name")
	cmd.Flags().StringVar(&flags.hostPassword, "host-password", os.Getenv("TRAINSYNC_HOST_PASSWORD"), "password required to create sessions")
	return cmd
}

// NewJoinCmd follows a session as a participant and logs each accepted state.
func NewJoinCmd(configPath *string) *cobra.Command {
	flags := clientFlags{}
	cmd := &cobra.Command{
		Use:   "join CODE",
		Short: "Follow a session: pause, resume, quit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), *configPath, flags, func(ctx context.Context, env clientEnv) error {
				if err := env.client.Join(ctx, args[0]); err != nil {
					return err
				}
				env.logger.Info("joined session", zap.String("code", env.client.Code()), zap.String("mode", string(env.client.Mode())))
				env.run(func(line string) (bool, error) {
					return participantCommand(env.client, line)
				})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flags.name, "name", "", "display name")
	return cmd
}

type clientEnv struct {
	ctx    context.Context
	client *syncclient.Client
	logger *zap.Logger
	run    func(handle func(string) (bool, error))
}

func runClient(parent context.Context, configPath string, flags clientFlags, body func(context.Context, clientEnv) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, cleanup, err := openSyncClient(ctx, cfg, logger, flags, logState(logger))
	if err != nil {
		return err
	}
	defer cleanup()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)

	env := clientEnv{
		ctx:    runCtx,
		client: client,
		logger: logger,
		run: func(handle func(string) (bool, error)) {
			go func() { done <- client.Run(runCtx) }()
			readCommands(runCtx, os.Stdin, logger, handle)
			cancel()
			if err := <-done; err != nil {
				logger.Warn("sync loops stopped", zap.Error(err))
			}
		},
	}
	return body(ctx, env)
}
