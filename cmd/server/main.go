package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fenggwsx/chatrelay/internal/auth"
	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/server"
	"github.com/fenggwsx/chatrelay/internal/storage"
	"github.com/fenggwsx/chatrelay/internal/storage/mongo"
	"github.com/fenggwsx/chatrelay/internal/storage/sqlite"
)

const connectTimeout = 10 * time.Second

func main() {
	cmd, _ := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the server command. Precedence, lowest first: defaults,
// the --config file, CHATRELAY_* variables, flags. The returned config is
// the one the flags are bound to.
func newRootCmd() (*cobra.Command, *config.ServerConfig) {
	cfg := config.LoadServerConfig()
	var logLevel string
	configPath := os.Getenv("CHATRELAY_CONFIG")

	cmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Run the chat relay server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := reloadFromFile(cmd, &cfg, configPath); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = config.ParseLevel(logLevel)
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error("server stopped", "err", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP listen address")
	flags.StringVar(&cfg.WebSocketAddr, "ws-listen", cfg.WebSocketAddr, "WebSocket listen address (empty disables)")
	flags.StringVar(&cfg.TLS.CertFile, "tls-cert", cfg.TLS.CertFile, "TLS certificate file")
	flags.StringVar(&cfg.TLS.KeyFile, "tls-key", cfg.TLS.KeyFile, "TLS private key file")
	flags.StringVar(&cfg.Database.Driver, "storage", cfg.Database.Driver, "storage backend: sqlite or mongo")
	flags.StringVar(&cfg.Database.Path, "db", cfg.Database.Path, "SQLite database path")
	flags.StringVar(&cfg.Database.MongoURI, "mongo-uri", cfg.Database.MongoURI, "MongoDB connection URI")
	flags.StringVar(&cfg.Database.MongoDB, "mongo-db", cfg.Database.MongoDB, "MongoDB database name")
	flags.IntVar(&cfg.Limits.HistoryLimit, "history-limit", cfg.Limits.HistoryLimit, "maximum messages per history reply")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&configPath, "config", configPath, "YAML config file")
	return cmd, &cfg
}

// reloadFromFile replaces cfg with the file-based configuration and then
// re-applies every flag the user set explicitly, since flags are bound to
// cfg's fields.
func reloadFromFile(cmd *cobra.Command, cfg *config.ServerConfig, path string) error {
	loaded, err := config.LoadServerConfigFile(path)
	if err != nil {
		return err
	}
	changed := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	*cfg = loaded
	for name, value := range changed {
		if err := cmd.Flags().Set(name, value); err != nil {
			return fmt.Errorf("reapply --%s: %w", name, err)
		}
	}
	return nil
}

func run(parent context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()
	logger.Info("storage ready", "driver", cfg.Database.Driver)

	authSvc := auth.NewService(store, cfg.JWT)
	app := server.NewApp(cfg, store, authSvc, logger)
	return app.Run(ctx)
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return sqlite.NewStore(cfg)
	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return mongo.NewStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
