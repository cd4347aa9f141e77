package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"training-sync-service/internal/auth"
	"training-sync-service/internal/config"
	"training-sync-service/internal/content"
	"training-sync-service/internal/infra/memory"
	"training-sync-service/internal/infra/postgres"
	"training-sync-service/internal/logging"
)

// NewClearStoreCmd wipes every session from the configured durable backend.
// Unlike the HTTP route it needs no admin password: shell access to the
// config is the credential.
func NewClearStoreCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-store",
		Short: "Delete every session, participant and score",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(cfg.Server.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			b, err := openBackends(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			sessions, err := newStore(cfg, b, logger, content.Default().FirstSection())
			if err != nil {
				return err
			}
			result, err := sessions.ClearAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear store: %w", err)
			}
			if !result.Cleared {
				logger.Warn("nothing cleared", zap.String("reason", result.Reason))
				return nil
			}
			logger.Info("store cleared")
			return nil
		},
	}
}

// NewHashPasswordCmd prints a bcrypt hash for the *_password_hash settings.
func NewHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password PASSWORD",
		Short: "Print a bcrypt hash for a host or admin password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// NewImportContentCmd stores a YAML course file as the default document in
// postgres so every server instance serves it.
func NewImportContentCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import-content FILE",
		Short: "Store a course description in postgres",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(cfg.Server.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			loader, err := memory.LoadContentFile(args[0])
			if err != nil {
				return err
			}
			doc, err := loader.LoadContent(cmd.Context(), content.DefaultID)
			if err != nil {
				return err
			}

			b, err := openBackends(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()
			if b.pool == nil {
				return fmt.Errorf("import-content needs the postgres durable backend")
			}
			if err := runMigrationsWithConfig(cmd.Context(), cfg, logger); err != nil {
				return err
			}
			if err := postgres.NewContentLoader(b.pool).SaveContent(cmd.Context(), content.DefaultID, doc); err != nil {
				return err
			}
			logger.Info("content imported", zap.String("title", doc.Title), zap.Int("modules", len(doc.Modules)))
			return nil
		},
	}
}
