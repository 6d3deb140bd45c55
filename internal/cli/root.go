// Package cli provides the schoolchat terminal client.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ashureev/schoolinfo/internal/backend"
	"github.com/ashureev/schoolinfo/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// offlineAnnotation marks commands that never contact the backend and so
// skip configuration loading.
const offlineAnnotation = "schoolchat/offline"

// app holds state shared by every subcommand.
type app struct {
	// Flags overriding backend configuration.
	transport  string
	backendURL string
	command    string
	grpcAddr   string
	timeout    time.Duration
	verbose    bool

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "schoolchat",
		Short: "Ask the school information service from the terminal",
		Long: `schoolchat sends questions about grades, past events and upcoming events
to the school information service and prints its answers.

The backend transport is taken from the same environment variables as the
server (BACKEND_TRANSPORT, BACKEND_URL, ...) and can be overridden with flags.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[offlineAnnotation] == "true" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.closeLog != nil {
				if err := a.closeLog(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
				}
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.transport, "transport", "", "backend transport: http, process or grpc")
	flags.StringVar(&a.backendURL, "backend-url", "", "HTTP endpoint of the answering service")
	flags.StringVar(&a.command, "command", "", "executable for the process transport (arguments after --)")
	flags.StringVar(&a.grpcAddr, "grpc-addr", "", "address of the gRPC answering service")
	flags.DurationVar(&a.timeout, "timeout", 0, "per-request timeout (0 waits indefinitely)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(newAskCmd(a))
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newChatCmd(a))

	return root
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// setup loads configuration, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Backend.Transport = strings.ToLower(a.transport)
	}
	if flags.Changed("backend-url") {
		cfg.Backend.URL = a.backendURL
	}
	if flags.Changed("command") {
		cfg.Backend.Command = a.command
		cfg.Backend.Args = nil
	}
	if flags.Changed("grpc-addr") {
		cfg.Backend.GRPCAddr = a.grpcAddr
	}
	if flags.Changed("timeout") {
		cfg.Backend.Timeout = a.timeout
	}
	if err := cfg.Backend.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.SlogLevel()
	if a.verbose {
		level = slog.LevelDebug
	}

	// Stdout belongs to the conversation; logs go to stderr and the optional file.
	var file io.Writer
	a.closeLog = func() error { return nil }
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		file = f
		a.closeLog = f.Close
	}
	a.logger = config.SetupLoggerWithWriters(cmd.ErrOrStderr(), file, level)
	return nil
}

// dispatcher builds the configured transport. Extra positional arguments
// after -- are passed to the process transport.
func (a *app) dispatcher(extraArgs []string) (*backend.Dispatcher, func(), error) {
	bc := a.cfg.Backend
	if len(extraArgs) > 0 {
		bc.Args = append(append([]string(nil), bc.Args...), extraArgs...)
	}

	sender, err := backend.NewSender(bc, a.logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := sender.Close(); err != nil {
			a.logger.Warn("Failed to close backend transport", "error", err)
		}
	}
	return backend.NewDispatcher(sender, a.logger), closeFn, nil
}

// splitDash separates positional arguments from those after "--".
func splitDash(cmd *cobra.Command, args []string) (before, after []string) {
	if n := cmd.ArgsLenAtDash(); n >= 0 {
		return args[:n], args[n:]
	}
	return args, nil
}
