package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vibetunnel/core/internal/config"
	"github.com/vibetunnel/core/internal/control"
	"github.com/vibetunnel/core/internal/eventbus"
	"github.com/vibetunnel/core/internal/historydb"
	"github.com/vibetunnel/core/internal/session"
	"github.com/vibetunnel/core/internal/stream"
	"github.com/vibetunnel/core/internal/supervisor"
)

// Exit codes of the server binary.
const (
	exitOK           = 0
	exitUnspecified  = 1
	exitConfigError  = 2
	exitPortUnusable = 9
)

func newServeCmd() *cobra.Command {
	var host string
	var port int
	var controlDir string
	var natsURL string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the control API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				os.Exit(exitConfigError)
			}

			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if controlDir != "" {
				cfg.Server.ControlDir = controlDir
			}
			if natsURL != "" {
				cfg.Server.NatsURL = natsURL
			}

			if err := cfg.EnsureControlDir(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitConfigError)
			}

			code := runServer(cfg)
			if code != exitOK {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "host to bind (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "port to bind (default from config)")
	cmd.Flags().StringVar(&controlDir, "control-dir", "", "control directory (default from config)")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "session event bus URL (default from config)")

	return cmd
}

// runServer wires the session manager, stream hub, history index, event
// bus, control API, and supervisor together and blocks until shutdown,
// returning the process exit code.
func runServer(cfg *config.Config) int {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	hub := stream.New()
	registry := session.New(cfg.Server.ControlDir, hub, log)

	history, err := historydb.Open(cfg.Server.HistoryDBPath)
	if err != nil {
		log.WithError(err).Error("opening history index")
		return exitConfigError
	}
	defer history.Close()

	// The event bus is the hook external notifiers subscribe to; the
	// disable switch silences it entirely.
	natsURL := cfg.Server.NatsURL
	if cfg.Server.DisablePushNotifications {
		natsURL = ""
	}
	bus, err := eventbus.NewBus(natsURL)
	if err != nil {
		log.WithError(err).Error("connecting session event bus")
		return exitConfigError
	}
	defer bus.Close()

	srv := control.New(control.Config{
		Registry: registry,
		Hub:      hub,
		History:  history,
		Events:   bus,
		Log:      log,
		Username: cfg.Server.Username,
		Password: cfg.Server.Password,
	})

	sup := supervisor.New(supervisor.Options{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		ControlDir: cfg.Server.ControlDir,
		Log:        log,
		Runner:     srv,
		Health:     registry,
		OnDrain: func(ctx context.Context) {
			registry.DrainAll(ctx)
			registry.Shutdown()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		if errors.Is(err, supervisor.ErrPortUnrecoverable) {
			log.WithError(err).Error("port unusable")
			return exitPortUnusable
		}
		if errors.Is(err, supervisor.ErrCrashLoop) {
			log.WithError(err).Error("crash-restart budget exceeded")
			return exitUnspecified
		}
		log.WithError(err).Error("server error")
		return exitUnspecified
	}
	return exitOK
}
