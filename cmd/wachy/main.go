// Command wachy is an interactive, source-aware tracing profiler: point
// it at a native executable and a function, and it instruments call
// sites in that function (and any function you descend into) using
// bpftrace, showing per-line latency and call-frequency statistics
// updated once per second.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/rubrikinc/wachy-go/internal/binary"
	"github.com/rubrikinc/wachy-go/internal/config"
	"github.com/rubrikinc/wachy-go/internal/events"
	"github.com/rubrikinc/wachy-go/internal/search"
	"github.com/rubrikinc/wachy-go/internal/trace"
	"github.com/rubrikinc/wachy-go/internal/tracer"
	"github.com/rubrikinc/wachy-go/internal/ui"
)

func main() {
	os.Exit(mainWithExitCode())
}

// mainWithExitCode is main's body, factored out so a deferred recover can
// still control the process exit code (os.Exit does not run deferred
// calls).
func mainWithExitCode() int {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Bug: %v\n%s\n", r, debug.Stack())
			os.Exit(1)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, argv []string) error {
	cfg, err := config.Parse(argv)
	if err != nil {
		return err
	}

	logFile, err := config.SetupLogging(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if _, err := exec.LookPath(tracer.BinaryPath); err != nil {
		return fmt.Errorf("%s not found on PATH: %w", tracer.BinaryPath, err)
	}

	programPath, err := filepath.Abs(cfg.ProgramPath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", cfg.ProgramPath, err)
	}

	prog, err := binary.Open(programPath)
	if err != nil {
		return err
	}
	defer prog.Close()

	if cfg.ProgramTrace {
		logrus.SetLevel(logrus.TraceLevel)
	}

	root, err := resolveRootFunction(prog, cfg.FunctionName)
	if err != nil {
		return err
	}

	frame, err := trace.NewFrame(prog, root)
	if err != nil {
		return fmt.Errorf("disassembling %s: %w", root.Demangled(), err)
	}

	bus := events.NewBus(64)
	stack := trace.New(programPath, frame, bus, func(program string) error {
		return tracer.DryCompile(ctx, program)
	})
	sv := tracer.NewSupervisor(stack, bus)
	defer sv.Stop()

	searcher := search.NewSearcher(bus)
	defer searcher.Exit()

	model := ui.New(ctx, prog, stack, sv, searcher, bus)
	p := tea.NewProgram(model, tea.WithAltScreen())

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("running UI: %w", err)
	}

	if m, ok := final.(ui.Model); ok {
		if msg := m.FatalError(); msg != "" {
			return fmt.Errorf("%s", msg)
		}
	}
	return nil
}

// resolveRootFunction seeds the top-level frame from the CLI's FUNCTION
// argument: an exact demangled-name match is used outright; with no exact
// match, the lexicographically first substring match is used so the
// session always starts somewhere sane, and the search dialog (">") is
// available to navigate elsewhere.
func resolveRootFunction(prog *binary.Program, query string) (binary.FunctionName, error) {
	matches := prog.GetMatches(query)
	if len(matches) == 0 {
		return binary.FunctionName{}, fmt.Errorf("no function matching %q", query)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Demangled < matches[j].Demangled })
	return matches[0].Name, nil
}
