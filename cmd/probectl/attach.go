package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/probectl/internal/integration/debug"
	"github.com/dshills/probectl/internal/integration/debug/agent"
	"github.com/dshills/probectl/internal/metrics"
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach to a debug agent and drive a session interactively",
	Long: `Connects to the remote debug agent and reads debugger commands from stdin,
one per line. Type "help" for the command list.

With --http, an introspection endpoint serves /healthz, /session and /metrics.`,
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)

	attachCmd.Flags().String("url", "", "Agent websocket URL (overrides agent.url)")
	attachCmd.Flags().String("device", "", "Target device id (overrides session.deviceId)")
	attachCmd.Flags().String("build", "", "Build command run before each session start")
	attachCmd.Flags().String("http", "", "Listen address for the introspection endpoint")
	attachCmd.Flags().Bool("start", false, "Start a session immediately")
}

func runAttach(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("url"); v != "" {
		cfg.Agent.URL = v
	}
	if v, _ := cmd.Flags().GetString("device"); v != "" {
		cfg.Session.DeviceID = v
	}
	if v, _ := cmd.Flags().GetString("build"); v != "" {
		cfg.Session.BuildCommand = v
	}
	if v, _ := cmd.Flags().GetString("http"); v != "" {
		cfg.HTTP.Addr = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	m := metrics.New()
	out := cmd.OutOrStdout()

	client := agent.NewClient(agent.Config{
		URL:            cfg.Agent.URL,
		ConnectTimeout: cfg.Agent.ConnectTimeout,
		InitialBackoff: cfg.Agent.InitialBackoff,
		MaxBackoff:     cfg.Agent.MaxBackoff,
		MaxAttempts:    cfg.Agent.ReconnectAttempts,
		Logger:         logger,
		Metrics:        m,
	})
	defer client.Close()

	con := newConsole(out)
	engine := debug.NewEngine(client, debug.Config{
		StartTimeout:   cfg.Session.StartTimeout,
		CommandTimeout: cfg.Session.CommandTimeout,
		DebounceWindow: cfg.Snapshot.DebounceWindow,
		DeviceID:       cfg.Session.DeviceID,
		Build:          newCommandBuild(cfg.Session.BuildCommand, out, logger),
		Navigation:     con,
		Handlers:       con.handlers(),
		Logger:         logger,
		Metrics:        m,
	})
	defer engine.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           newHTTPHandler(engine, client, m),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("introspection endpoint listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("introspection endpoint failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to debug agent: %w", err)
	}
	fmt.Fprintf(out, "connected to %s; type \"help\" for commands\n", cfg.Agent.URL)

	if start, _ := cmd.Flags().GetBool("start"); start {
		printResult(out, engine.Start(ctx))
	}

	err = runREPL(ctx, engine, cmd.InOrStdin(), out)
	if engine.State() != debug.StateDisconnected {
		engine.Stop()
	}
	return err
}
