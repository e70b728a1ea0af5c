package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loomchat/loom/internal/approval"
	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/event"
	"github.com/loomchat/loom/internal/eventlog"
	"github.com/loomchat/loom/internal/logging"
	"github.com/loomchat/loom/internal/server"
	"github.com/loomchat/loom/internal/session"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the loomd HTTP server",
	Long: `Start the session engine and expose it over HTTP.

Sessions are durable when a data directory is configured; otherwise the
event logs live in memory for the lifetime of the process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Directory holding loom.json")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Optional .env in the working directory; absence is fine.
	_ = godotenv.Load()

	dir := serveDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveHostname != "" {
		cfg.Hostname = serveHostname
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Pretty: prettyLog,
	})
	logging.Info().
		Str("version", Version).
		Str("dataDir", cfg.DataDir).
		Msg("starting loomd")

	bus := event.NewBus()
	defer bus.Close()

	store := eventlog.NewStore(cfg.DataDir)
	invoker := session.NewInvoker(bus, nil)
	trigger := session.NewTrigger(invoker)
	registry := session.NewRegistry(store, bus, trigger)
	defer registry.Close()

	approvals := approval.NewManager(bus, time.Duration(cfg.ApprovalTimeout))

	if cfg.AgentsFile != "" {
		roster, err := config.LoadRoster(cfg.AgentsFile)
		if err != nil {
			return err
		}
		registry.SetDefaultAgents(roster)
		logging.Info().
			Str("file", cfg.AgentsFile).
			Int("agents", len(roster)).
			Msg("loaded agent roster")

		stop, err := config.WatchRoster(cfg.AgentsFile, registry.SetDefaultAgents)
		if err != nil {
			logging.Warn().Err(err).Msg("roster hot reload unavailable")
		} else {
			defer stop()
		}
	}

	serverCfg := server.DefaultConfig()
	serverCfg.Port = cfg.Port
	serverCfg.Hostname = cfg.Hostname
	serverCfg.EnableCORS = cfg.EnableCORS

	srv := server.New(serverCfg, registry, approvals, bus)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info().
			Str("hostname", cfg.Hostname).
			Int("port", cfg.Port).
			Msg("server listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logging.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info().Msg("server stopped")
	return nil
}
