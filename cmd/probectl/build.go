package main

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/dshills/probectl/internal/integration/debug"
)

// commandBuild runs an external build command before a session starts.
type commandBuild struct {
	argv   []string
	out    io.Writer
	logger *slog.Logger
}

// newCommandBuild returns nil when cmdline is empty, which skips the build.
func newCommandBuild(cmdline string, out io.Writer, logger *slog.Logger) debug.BuildService {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return nil
	}
	return &commandBuild{argv: argv, out: out, logger: logger}
}

// EnsureCompiled runs the build and reports whether it exited cleanly.
func (b *commandBuild) EnsureCompiled(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, b.argv[0], b.argv[1:]...)
	cmd.Stdout = b.out
	cmd.Stderr = b.out

	b.logger.Info("building target", "command", strings.Join(b.argv, " "))
	if err := cmd.Run(); err != nil {
		b.logger.Error("build failed", "command", b.argv[0], "error", err)
		return false
	}
	return true
}
