package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dshills/probectl/internal/integration/debug"
)

const helpText = `Commands:
  start                     start a session
  stop                      stop the session
  continue, c               resume execution
  pause, p                  halt execution
  next, n                   step over
  step, s                   step into
  finish, o                 step out
  break, b FILE:LINE [COND] set a breakpoint
  delete, d FILE:LINE       remove a breakpoint
  toggle, t FILE:LINE       add or remove a breakpoint
  enable FILE:LINE          enable a breakpoint
  disable FILE:LINE         disable a breakpoint
  clear [FILE]              remove all breakpoints (in FILE)
  breakpoints, bl           list breakpoints
  vars, v                   show variables from the last halt
  regs, r                   show registers from the last halt
  bt                        show the callstack from the last halt
  info, i                   show session state
  quit, q                   exit
`

var errQuit = errors.New("quit")

// runREPL reads commands from in until EOF, "quit" or ctx is done.
func runREPL(ctx context.Context, e *debug.Engine, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := execLine(ctx, e, line, out); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

// execLine runs one command line against the engine.
func execLine(ctx context.Context, e *debug.Engine, input string, out io.Writer) error {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "start":
		printResult(out, e.Start(ctx))
	case "stop":
		printResult(out, e.Stop())
	case "continue", "c":
		printResult(out, e.Continue())
	case "pause", "p":
		printResult(out, e.Pause())
	case "next", "n":
		printResult(out, e.StepOver())
	case "step", "s":
		printResult(out, e.StepInto())
	case "finish", "o":
		printResult(out, e.StepOut())

	case "break", "b":
		file, line, err := parseLocation(args)
		if err != nil {
			return err
		}
		printResult(out, e.SetBreakpoint(file, line, strings.Join(args[1:], " ")))
	case "delete", "d":
		file, line, err := parseLocation(args)
		if err != nil {
			return err
		}
		printResult(out, e.RemoveBreakpoint(file, line))
	case "toggle", "t":
		file, line, err := parseLocation(args)
		if err != nil {
			return err
		}
		printResult(out, e.ToggleBreakpoint(file, line))
	case "enable", "disable":
		file, line, err := parseLocation(args)
		if err != nil {
			return err
		}
		printResult(out, e.SetBreakpointEnabled(file, line, name == "enable"))
	case "clear":
		file := ""
		if len(args) > 0 {
			file = args[0]
		}
		printResult(out, e.ClearBreakpoints(file))
	case "breakpoints", "bl":
		printBreakpoints(out, e.Breakpoints().All())

	case "vars", "v":
		snap, ok := e.Snapshots().Current()
		if !ok {
			return errNoSnapshot
		}
		printVariables(out, snap.Variables)
	case "regs", "r":
		snap, ok := e.Snapshots().Current()
		if !ok {
			return errNoSnapshot
		}
		printRegisters(out, snap.Registers)
	case "bt":
		snap, ok := e.Snapshots().Current()
		if !ok {
			return errNoSnapshot
		}
		printCallstack(out, snap.Callstack)
	case "info", "i":
		printSession(out, e.Session(), e.Affordances())

	case "help", "h", "?":
		fmt.Fprint(out, helpText)
	case "quit", "q", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", name)
	}
	return nil
}

var errNoSnapshot = errors.New("no snapshot; the target has not halted")

// parseLocation parses the FILE:LINE argument at args[0].
func parseLocation(args []string) (string, int, error) {
	if len(args) == 0 {
		return "", 0, errors.New("expected FILE:LINE")
	}
	loc := args[0]
	i := strings.LastIndex(loc, ":")
	if i <= 0 || i == len(loc)-1 {
		return "", 0, fmt.Errorf("expected FILE:LINE, got %q", loc)
	}
	line, err := strconv.Atoi(loc[i+1:])
	if err != nil || line <= 0 {
		return "", 0, fmt.Errorf("invalid line number in %q", loc)
	}
	return loc[:i], line, nil
}

func printResult(out io.Writer, res debug.Result) {
	if res.Success {
		fmt.Fprintf(out, "ok: %s\n", res.Message)
		return
	}
	fmt.Fprintf(out, "rejected: %s\n", res.Message)
}

func printSession(out io.Writer, s debug.Session, a debug.Affordances) {
	fmt.Fprintf(out, "state:    %s\n", s.State)
	if s.ID != "" {
		fmt.Fprintf(out, "session:  %s\n", s.ID)
	}
	if s.DeviceID != "" {
		fmt.Fprintf(out, "device:   %s\n", s.DeviceID)
	}
	if s.HasLocation() {
		fmt.Fprintf(out, "location: %s:%d", s.CurrentFile, s.CurrentLine)
		if s.CurrentPC != "" {
			fmt.Fprintf(out, " (pc %s)", s.CurrentPC)
		}
		fmt.Fprintln(out)
	}
	var can []string
	for _, c := range []struct {
		ok   bool
		name string
	}{
		{a.CanContinue, "continue"},
		{a.CanPause, "pause"},
		{a.CanStepOver, "next"},
		{a.CanStepInto, "step"},
		{a.CanStepOut, "finish"},
	} {
		if c.ok {
			can = append(can, c.name)
		}
	}
	if len(can) > 0 {
		fmt.Fprintf(out, "can:      %s\n", strings.Join(can, ", "))
	}
}

func printBreakpoints(out io.Writer, bps []debug.Breakpoint) {
	if len(bps) == 0 {
		fmt.Fprintln(out, "no breakpoints")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCATION\tSTATUS\tVERIFIED\tHITS\tCONDITION\tMESSAGE")
	for _, bp := range bps {
		status := bp.Status.Kind.String()
		if !bp.Enabled {
			status += " (disabled)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\t%s\n", bp.ID, status, bp.Verified, bp.HitCount, bp.Condition, bp.Message)
	}
	tw.Flush()
}

func printVariables(out io.Writer, vars []debug.Variable) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, v := range vars {
		mark := " "
		if v.HasChanged {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\n", mark, v.Name, v.Type, v.Value, v.Scope)
	}
	tw.Flush()
}

func printRegisters(out io.Writer, regs map[string]string) {
	names := make([]string, 0, len(regs))
	for name := range regs {
		names = append(names, name)
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", name, regs[name])
	}
	tw.Flush()
}

func printCallstack(out io.Writer, frames []debug.StackFrame) {
	for _, f := range frames {
		fmt.Fprintf(out, "#%d  %s  %s at %s:%d\n", f.Level, f.Address, f.Function, f.File, f.Line)
	}
}
