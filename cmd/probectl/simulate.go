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

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/dshills/probectl/internal/integration/debug/agenttest"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated debug agent for manual testing",
	Long: `Serves a fake debug agent that walks the lines of a single source file.
Point "probectl attach --url ws://ADDR/debug --device sim" at it.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().String("addr", "127.0.0.1:9229", "Listen address")
	simulateCmd.Flags().String("file", "main.c", "Source file of the simulated program")
	simulateCmd.Flags().Int("lines", 40, "Number of lines in the simulated program")
	simulateCmd.Flags().Duration("run-delay", 500*time.Millisecond, "How long a continue runs before halting")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging).With("component", "simulator")

	addr, _ := cmd.Flags().GetString("addr")
	file, _ := cmd.Flags().GetString("file")
	lines, _ := cmd.Flags().GetInt("lines")
	delay, _ := cmd.Flags().GetDuration("run-delay")
	if lines <= 0 {
		return fmt.Errorf("--lines must be positive, got %d", lines)
	}

	sim := agenttest.NewSimulator(file, lines)
	sim.RunDelay = delay
	agentSrv := agenttest.New(func(s *agenttest.Server, msg agenttest.Received) {
		logger.Debug("received", "type", msg.Type)
		sim.Respond(s, msg)
	})

	r := chi.NewRouter()
	r.Handle("/debug", agentSrv)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("simulated agent listening", "url", "ws://"+addr+"/debug", "file", file, "lines", lines)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	agentSrv.DropConnections()
	return srv.Shutdown(shutdownCtx)
}
