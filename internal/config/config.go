// Package config parses command-line arguments and environment variables
// and wires up logging, mirroring the process-lifetime concerns spec.md
// treats as an external collaborator but which any complete binary still
// needs.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Config holds everything parsed from argv and the environment before the
// tracing session starts.
type Config struct {
	ProgramPath  string
	FunctionName string

	// LogSpec is the raw value of WACHY_LOG: a logrus level name, enabling
	// file logging when non-empty.
	LogSpec string
	// ProgramTrace mirrors WACHY_PROGRAM_TRACE=1. When set, cmd/wachy
	// raises the logrus level to Trace once the binary has been loaded;
	// binary loading itself emits no per-symbol or per-relocation log
	// lines.
	ProgramTrace bool
}

// Parse reads argv (excluding argv[0]) and the process environment,
// returning a descriptive error for usage mistakes.
func Parse(argv []string) (Config, error) {
	flags := pflag.NewFlagSet("wachy", pflag.ContinueOnError)
	help := flags.BoolP("help", "h", false, "show usage")

	if err := flags.Parse(argv); err != nil {
		return Config{}, err
	}
	if *help {
		fmt.Fprintln(os.Stderr, flags.FlagUsages())
		return Config{}, pflag.ErrHelp
	}

	args := flags.Args()
	if len(args) != 2 {
		return Config{}, fmt.Errorf("usage: wachy <program> <function>")
	}

	return Config{
		ProgramPath:  args[0],
		FunctionName: args[1],
		LogSpec:      os.Getenv("WACHY_LOG"),
		ProgramTrace: os.Getenv("WACHY_PROGRAM_TRACE") == "1",
	}, nil
}

// SetupLogging configures logrus per cfg.LogSpec: WACHY_LOG=<level> opens
// a timestamp-suppressed log file in the working directory and sets the
// logging level; an empty spec disables logging altogether (output is
// discarded), so as not to corrupt the terminal UI's rendering.
func SetupLogging(cfg Config) (*os.File, error) {
	logrus.SetLevel(logrus.WarnLevel)

	if cfg.LogSpec == "" {
		logrus.SetOutput(io.Discard)
		return nil, nil
	}

	level, err := logrus.ParseLevel(cfg.LogSpec)
	if err != nil {
		return nil, fmt.Errorf("invalid WACHY_LOG level %q: %w", cfg.LogSpec, err)
	}

	f, err := os.OpenFile("wachy.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	logrus.SetOutput(f)
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	return f, nil
}
