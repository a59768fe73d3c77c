// sshkeeper is an MCP server that keeps SSH connections alive: it health
// checks them, classifies failures and reconnects with backoff.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acolita/sshkeeper/internal/adapters/realdialog"
	"github.com/acolita/sshkeeper/internal/adapters/realfs"
	"github.com/acolita/sshkeeper/internal/config"
	"github.com/acolita/sshkeeper/internal/logging"
	"github.com/acolita/sshkeeper/internal/manager"
	"github.com/acolita/sshkeeper/internal/mcp"
	"github.com/acolita/sshkeeper/internal/reconnect"
	"github.com/acolita/sshkeeper/internal/security"
	"github.com/acolita/sshkeeper/internal/ssh"
	"github.com/acolita/sshkeeper/internal/state"
)

// Version information - set at build time.
var (
	Version   = mcp.Version
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configPath  string
		addServer   bool
		accessible  bool
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", config.DefaultConfigPath(), "Path to configuration file")
	flag.BoolVar(&addServer, "add-server", false, "Add a server profile interactively and exit")
	flag.BoolVar(&accessible, "accessible", false, "Use plain prompts instead of the TUI form")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if showVersion {
		fmt.Printf("sshkeeper version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)

	dialog := realdialog.New(accessible)

	if addServer {
		server, err := config.AddServerInteractive(dialog, config.ServerConfig{}, configPath)
		if errors.Is(err, config.ErrFormCancelled) {
			fmt.Fprintln(os.Stderr, "Cancelled.")
			os.Exit(0)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error adding server: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added server %q (%s@%s) to %s\n", server.Name, server.User, server.Host, configPath)
		os.Exit(0)
	}

	if err := run(cfg, configPath, dialog, debug); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, dialog *realdialog.Provider, debug bool) error {
	slog.Info("starting sshkeeper",
		slog.String("version", Version),
		slog.String("state_driver", cfg.State.Driver),
	)

	fsys := realfs.New()

	store, err := state.Open(state.OpenOptions{
		Driver: cfg.State.Driver,
		Path:   cfg.State.Path,
		FS:     fsys,
	})
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	var server *mcp.Server
	current := func() *config.Config {
		if server == nil {
			return cfg
		}
		return server.Config()
	}

	var keyring config.Keyring
	if cfg.Security.UseKeyring {
		if ks := security.NewKeyringStore(); ks.IsEnabled() {
			keyring = ks
		} else {
			slog.Warn("use_keyring is set but no OS keyring is available")
		}
	}
	secrets := config.NewSecretResolver(current, fsys, keyring)

	mcpServer := mcp.NewMCPServer()
	engine := reconnect.NewEngine(store,
		reconnect.WithNotifier(mcp.NewNotifier(mcpServer)),
		reconnect.WithSettings(cfg),
	)

	mgr, err := manager.New(manager.Options{
		Store:               store,
		Transports:          ssh.NewTransportFactory(ssh.Deps{FS: fsys}),
		Engine:              engine,
		Secrets:             secrets.Resolve,
		HealthCheckInterval: cfg.HealthCheck.Interval,
		HealthCheckTimeout:  cfg.HealthCheck.Timeout,
		HealthCheckCommand:  cfg.HealthCheck.Command,
	})
	if err != nil {
		return err
	}

	server = mcp.NewServer(cfg, mgr,
		mcp.WithMCPServer(mcpServer),
		mcp.WithFileSystem(fsys),
		mcp.WithConfigPath(configPath),
		mcp.WithDialogProvider(dialog),
	)

	var configWatcher *config.Watcher
	if configPath != "" {
		configWatcher, err = config.NewWatcher(configPath, func(newCfg *config.Config) {
			if debug {
				newCfg.Logging.Level = "debug"
			}
			server.UpdateConfig(newCfg)
		})
		if err != nil {
			slog.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		} else {
			slog.Info("config hot-reload enabled", slog.String("path", configPath))
			defer configWatcher.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if _, err := mgr.RestoreConnections(ctx); err != nil {
			slog.Warn("restore failed", slog.String("error", err.Error()))
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- server.Run() }()

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
		err = nil
	case err = <-runErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	mgr.Dispose(shutdownCtx)
	return err
}
