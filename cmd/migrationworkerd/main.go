package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artemis/schema-migrate/internal/apiserver"
	"github.com/artemis/schema-migrate/internal/clientdb"
	"github.com/artemis/schema-migrate/internal/config"
	"github.com/artemis/schema-migrate/internal/observability"
	"github.com/artemis/schema-migrate/internal/persistence"
	"github.com/artemis/schema-migrate/internal/schemamodel"
	"github.com/artemis/schema-migrate/internal/stepmapper"
	"github.com/artemis/schema-migrate/internal/supervisor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	logger  *observability.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "migrationworkerd",
	Short: "Per-project schema migration worker daemon",
	Long: `migrationworkerd runs one DeploymentWorker per project, admitting at
most one concurrent migration per project and applying its steps against
the project's client database.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		logger, err = observability.NewLogger("info")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			os.Exit(1)
		}

		cfg, err = config.LoadConfig(cfgFile)
		if err != nil {
			logger.Error("failed to load config", zap.Error(err))
			os.Exit(1)
		}

		if cfg.LogLevel != "" {
			logger, err = observability.NewLogger(cfg.LogLevel)
			if err != nil {
				logger.Warn("failed to set log level, using default", zap.Error(err))
			}
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the migration worker daemon",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			logger.Error("daemon exited with error", zap.Error(err))
			os.Exit(1)
		}
	},
}

func runServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := persistence.NewBadger(persistence.BadgerConfig{Dir: cfg.BadgerDir}, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open persistence store: %w", err)
	}
	defer store.Close()

	var db clientdb.DB
	if cfg.ClientDSN == "" {
		logger.Warn("no client_dsn configured, using in-memory client database fake")
		db = clientdb.NewFake()
	} else {
		db, err = clientdb.NewSQLXDatabase(clientdb.SQLXConfig{
			DSN:             cfg.ClientDSN,
			MaxOpenConns:    cfg.ClientMaxOpenConns,
			MaxIdleConns:    cfg.ClientMaxIdleConns,
			ConnMaxLifetime: cfg.ClientConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("failed to open client database: %w", err)
		}
	}
	defer db.Close()

	health := observability.NewHealthChecker()
	health.RegisterCheck("persistence", observability.PersistenceHealthCheck(func(ctx context.Context) error {
		_, err := store.ScanPending(ctx)
		return err
	}))
	go health.StartPeriodicChecks(ctx, 10*time.Second)

	mapper := stepmapper.NewSQLMapper()
	sup := supervisor.New(ctx, store, db, mapper, logger.Logger, cfg.MailboxBuffer)

	httpServer := apiserver.NewServer(cfg, sup, store, logger, health)

	go reconcilePending(ctx, sup, store, cfg.ScanInterval, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		httpServer.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := sup.Shutdown(shutdownCtx); err != nil {
			logger.Warn("supervisor shutdown did not complete cleanly", zap.Error(err))
		}
		cancel()
	}()

	logger.Info("starting migrationworkerd", zap.String("http_addr", cfg.HTTPAddr))
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// reconcilePending implements spec.md's "polling fallback" note: on an
// interval, scan persistence for migrations still Pending and re-kick
// their project's worker, in case a crash dropped the in-memory
// self-posted Deploy that would otherwise have resumed them.
func reconcilePending(ctx context.Context, sup *supervisor.Supervisor, store persistence.Store, interval time.Duration, logger *observability.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := store.ScanPending(ctx)
			if err != nil {
				logger.Warn("reconciliation scan failed", zap.Error(err))
				continue
			}
			for _, mig := range pending {
				observability.PendingScanMatches.Inc()
				sup.Kick(ctx, mig.ProjectID, mig)
			}
		}
	}
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap [project-id]",
	Short: "Persist the initial revision-0 migration for a project",
	Long: `bootstrap stands in for the external provisioner spec.md assumes runs
before a worker is ever started for a project: it persists a revision-0
Success migration with an empty schema, so the first real Schedule call
has a last migration to build on.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectID := args[0]

		store, err := persistence.NewBadger(persistence.BadgerConfig{Dir: cfg.BadgerDir}, logger.Logger)
		if err != nil {
			logger.Error("failed to open persistence store", zap.Error(err))
			os.Exit(1)
		}
		defer store.Close()

		mapper := stepmapper.NewSQLMapper()
		sup := supervisor.New(context.Background(), store, clientdb.NewFake(), mapper, logger.Logger, cfg.MailboxBuffer)

		schema, err := schemamodel.NewSchema([]byte("{}"))
		if err != nil {
			logger.Error("failed to build zero schema", zap.Error(err))
			os.Exit(1)
		}

		if err := sup.Bootstrap(context.Background(), projectID, schema); err != nil {
			logger.Error("bootstrap failed", zap.Error(err))
			os.Exit(1)
		}

		fmt.Printf("bootstrapped project %q at revision 0\n", projectID)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.schema-migrate/config.json)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bootstrapCmd)
}
