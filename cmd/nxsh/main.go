package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opal-lang/nxsh/core/errors"
	"github.com/opal-lang/nxsh/runtime/config"
	"github.com/opal-lang/nxsh/runtime/executor"
	"github.com/opal-lang/nxsh/runtime/jobs"
	"github.com/opal-lang/nxsh/runtime/parser"
	"github.com/opal-lang/nxsh/runtime/shell"
	"github.com/opal-lang/nxsh/runtime/trap"
)

type options struct {
	command    string
	strategy   string
	native     bool
	timeout    time.Duration
	cmdTimeout time.Duration
	stats      bool
	debug      bool
	noColor    bool
}

type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	code := run(ctx, os.Args[1:], streams{in: os.Stdin, out: os.Stdout, err: os.Stderr})
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit status.
func run(ctx context.Context, args []string, std streams) int {
	var opts options
	status := 0

	rootCmd := &cobra.Command{
		Use:           "nxsh [flags] [script [arg ...]]",
		Short:         "Run shell scripts on the nxsh execution core",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runShell(ctx, opts, args, std)
			status = code
			return err
		},
	}
	rootCmd.SetArgs(args)
	rootCmd.SetIn(std.in)
	rootCmd.SetOut(std.out)
	rootCmd.SetErr(std.err)
	// Script arguments belong to the script, not to nxsh.
	rootCmd.Flags().SetInterspersed(false)

	rootCmd.Flags().StringVarP(&opts.command, "command", "c", "", "Run the given command string instead of a script")
	rootCmd.Flags().StringVar(&opts.strategy, "strategy", "", "Execution strategy: 'ast' or 'mir' (default from NXSH_EXEC_STRATEGY)")
	rootCmd.Flags().BoolVar(&opts.native, "native", false, "Enable native compilation on the MIR path (implies --strategy=mir)")
	rootCmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Global deadline for the whole run, e.g. 5s")
	rootCmd.Flags().DurationVar(&opts.cmdTimeout, "cmd-timeout", 0, "Budget for each external command, e.g. 500ms")
	rootCmd.Flags().BoolVar(&opts.stats, "stats", false, "Print execution metrics to stderr after each run")
	rootCmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	if err := rootCmd.Execute(); err != nil {
		FormatError(std.err, err, ShouldUseColor(opts.noColor, std.err))
		if status == 0 {
			status = exitCode(err)
		}
	}
	return status
}

// session bundles what one invocation of the shell needs.
type session struct {
	opts  options
	io    streams
	sh    *shell.Context
	ex    *executor.Executor
	log   *slog.Logger
	traps *trap.Traps
}

func runShell(ctx context.Context, opts options, args []string, std streams) (int, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return errors.ExitUsage, &CLIError{
			Type:    "config",
			Message: "invalid configuration",
			Details: err.Error(),
			Hint:    "check the file named by " + config.EnvConfig,
			Code:    errors.ExitUsage,
		}
	}

	s := newSession(cfg, opts, std)
	defer s.traps.Stop()

	switch {
	case opts.command != "":
		s.sh.Positional = args
		return s.runSource(ctx, "-c", opts.command)
	case len(args) > 0:
		src, err := os.ReadFile(args[0])
		if err != nil {
			return errors.ExitNotFound, &CLIError{
				Type:    "io",
				Message: fmt.Sprintf("cannot read %s", args[0]),
				Details: err.Error(),
				Code:    errors.ExitNotFound,
			}
		}
		s.sh.Positional = args[1:]
		return s.runSource(ctx, args[0], string(src))
	case isTerminal(std.in):
		return s.interactive(ctx), nil
	default:
		src, err := readAll(std.in)
		if err != nil {
			return 1, &CLIError{Type: "io", Message: "cannot read standard input", Details: err.Error()}
		}
		return s.runSource(ctx, "stdin", src)
	}
}

func resolveConfig(opts options) (config.Config, error) {
	cfg, err := config.Resolve(os.Getenv)
	if err != nil {
		return cfg, err
	}
	switch opts.strategy {
	case "":
	case "ast", "mir":
		cfg.Strategy = opts.strategy
	default:
		return cfg, fmt.Errorf("unknown strategy %q (want 'ast' or 'mir')", opts.strategy)
	}
	if opts.native {
		cfg.Native = true
		cfg.Strategy = "mir"
	}
	if opts.timeout > 0 {
		cfg.Timeout = config.Duration{Duration: opts.timeout}
	}
	if opts.cmdTimeout > 0 {
		cfg.CommandTimeout = config.Duration{Duration: opts.cmdTimeout}
	}
	if opts.debug {
		cfg.Debug = true
	}
	return cfg, nil
}

func newSession(cfg config.Config, opts options, std streams) *session {
	// Info carries xtrace output.
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(std.err, &slog.HandlerOptions{Level: level}))

	ecfg := executor.Config{
		Strategy:    executor.DirectInterpreter,
		Native:      cfg.Native,
		Logger:      log,
		Jobs:        jobs.Default(),
		Passthrough: isTerminal(std.out),
	}
	if cfg.UseMIR() {
		ecfg.Strategy = executor.MirEngine
	}
	if opts.stats {
		ecfg.Telemetry = executor.TelemetryBasic
	}
	if cfg.Debug {
		ecfg.Debug = executor.DebugPaths
	}

	// Trap bodies get their own executor without the trap builtin.
	traps := trap.New(executor.TrapRunner(ecfg, os.Environ), log)
	ecfg.Traps = traps

	sh := shell.New(os.Environ())
	sh.Stdin = std.in
	sh.Stdout = std.out
	sh.Stderr = std.err
	if err := cfg.Apply(sh); err != nil {
		log.Warn("configuration not fully applied", sh.LogAttr(), "error", err)
	}
	log.Debug("session started", sh.LogAttr(), "strategy", ecfg.Strategy.String(), "native", ecfg.Native)

	return &session{opts: opts, io: std, sh: sh, ex: executor.New(ecfg), log: log, traps: traps}
}

// runSource parses and executes one complete script.
func (s *session) runSource(ctx context.Context, name, src string) (int, error) {
	tree := parser.ParseString(src, parser.WithName(name))
	if len(tree.Errors) > 0 {
		for _, pe := range tree.Errors {
			FormatError(s.io.err, pe, ShouldUseColor(s.opts.noColor, s.io.err))
		}
		s.sh.LastStatus = errors.ExitUsage
		return errors.ExitUsage, nil
	}
	res, err := s.ex.Execute(ctx, tree.Program, s.sh)
	if err != nil {
		return 1, err
	}
	s.report(res)
	return res.ExitCode, nil
}

// interactive reads statements from a terminal until EOF or exit.
// Lines are accumulated while the parser reports incomplete input.
func (s *session) interactive(ctx context.Context) int {
	useColor := ShouldUseColor(s.opts.noColor, s.io.err)
	in := bufio.NewScanner(s.io.in)
	var pending strings.Builder
	prompt := func() {
		p := "nxsh$ "
		if pending.Len() > 0 {
			p = "> "
		}
		_, _ = fmt.Fprint(s.io.err, Colorize(p, ColorCyan, useColor))
	}

	for prompt(); in.Scan(); prompt() {
		line := in.Text()
		if pending.Len() == 0 && strings.TrimSpace(line) == "exit" {
			break
		}
		pending.WriteString(line)
		pending.WriteByte('\n')

		tree := parser.ParseString(pending.String(), parser.WithName("stdin"))
		if len(tree.Errors) > 0 {
			if tree.Errors[0].Incomplete {
				continue
			}
			FormatError(s.io.err, tree.Errors[0], useColor)
			s.sh.LastStatus = errors.ExitUsage
			pending.Reset()
			continue
		}
		pending.Reset()

		res, err := s.ex.Execute(ctx, tree.Program, s.sh)
		if err != nil {
			FormatError(s.io.err, err, useColor)
			continue
		}
		s.report(res)
	}
	return s.sh.LastStatus
}

// report prints metrics when --stats is set.
func (s *session) report(res *executor.ExecutionResult) {
	if !s.opts.stats {
		return
	}
	m := res.Metrics
	line := fmt.Sprintf("strategy=%s exit=%d time=%dus instrs=%d folded=%d native=%dB",
		res.Strategy, res.ExitCode, res.Micros(), m.InstructionCount, m.Folded, m.NativeCodeSize)
	if res.Telemetry != nil {
		line += fmt.Sprintf(" commands=%d substitutions=%d", res.Telemetry.Commands, res.Telemetry.Substitutions)
	}
	_, _ = fmt.Fprintln(s.io.err, Colorize(line, ColorGray, ShouldUseColor(s.opts.noColor, s.io.err)))
}

func readAll(r io.Reader) (string, error) {
	if r == nil {
		return "", nil
	}
	b, err := io.ReadAll(r)
	return string(b), err
}
