// Package cli implements the moonwire command line: one-shot commands,
// an interactive shell and subscriber mode.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eternalApril/moonwire/internal/client"
	"github.com/eternalApril/moonwire/internal/config"
	"github.com/eternalApril/moonwire/internal/logger"
	"github.com/eternalApril/moonwire/internal/metrics"
	"github.com/eternalApril/moonwire/internal/persistence"
	"github.com/eternalApril/moonwire/internal/resp"
)

const pushTimeout = 5 * time.Second

// app carries the state shared by every subcommand of one invocation
type app struct {
	cfgPath  string
	addr     string
	password string
	db       int
	verbose  bool
	record   string

	out      io.Writer
	errColor *color.Color

	cfg     *config.Config
	log     *zap.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	journal *persistence.Journal
}

// NewRootCmd builds the command tree. Without arguments the root command starts the shell
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "moonwire [flags] [COMMAND [ARG...]]",
		Short: "Command line client for RESP servers",
		Long: `Command line client for RESP servers

Usage
	moonwire SET greeting hello
	moonwire --addr 10.0.0.5:6379 GET greeting
	moonwire repl
	moonwire subscribe news

`,
		Args:               cobra.ArbitraryArgs,
		SilenceUsage:       true,
		PersistentPreRunE: a.setup,
		RunE: a.withTeardown(func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return a.repl(cmd.Context())
			}
			return a.oneShot(cmd.Context(), args)
		}),
	}
	// flags after the command name belong to the command, e.g. SET k -1
	root.Flags().SetInterspersed(false)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgPath, "config", "", "directory holding config.yaml (default is $HOME/.moonwire)")
	flags.StringVarP(&a.addr, "addr", "s", "", "server address host:port")
	flags.StringVarP(&a.password, "password", "a", "", "password sent with AUTH")
	flags.IntVarP(&a.db, "db", "n", 0, "database number")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")
	flags.StringVar(&a.record, "record", "", "append every sent command to this journal file")

	root.AddCommand(a.replCmd(), a.subscribeCmd(false), a.subscribeCmd(true), a.replayCmd())
	return root
}

// Execute runs the root command until it finishes or the process is interrupted
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCmd().ExecuteContext(ctx)
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.out = cmd.OutOrStdout()
	a.errColor = color.New(color.FgRed)
	if a.out == os.Stdout {
		a.out = colorable.NewColorableStdout()
	} else {
		a.errColor.DisableColor()
	}

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Any set flags override the configuration
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Client.Addr = a.addr
	}
	if flags.Changed("password") {
		cfg.Client.Password = a.password
	}
	if flags.Changed("db") {
		cfg.Client.DB = a.db
	}
	if flags.Changed("record") {
		cfg.Journal.File = a.record
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg

	if a.log, err = logger.New(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	if cfg.Metrics.Enabled {
		a.reg = metrics.NewRegistry()
		if a.metrics, err = metrics.New(a.reg); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	if cfg.Journal.File != "" {
		if a.journal, err = persistence.Open(cfg.Journal.File, cfg.Journal.Fsync, a.log); err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
	}

	return nil
}

// withTeardown runs fn and then releases what setup acquired, also when fn fails.
// cobra skips PersistentPostRun when RunE fails
func (a *app) withTeardown(fn func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer a.teardown()
		return fn(cmd, args)
	}
}

func (a *app) teardown() {
	defer a.log.Sync() //nolint:errcheck

	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("journal close failed", zap.Error(err))
		}
	}

	if a.reg == nil || a.cfg.Metrics.PushGateway == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	if err := metrics.Push(ctx, a.cfg.Metrics.PushGateway, a.reg); err != nil {
		a.log.Warn("metrics push failed", zap.String("gateway", a.cfg.Metrics.PushGateway), zap.Error(err))
	}
}

// options returns the client options for this invocation
func (a *app) options() client.Options {
	opts := a.cfg.ClientOptions(a.log, a.metrics)
	if a.journal != nil {
		opts.Journal = a.journal
	}
	return opts
}

func (a *app) oneShot(ctx context.Context, args []string) error {
	opts := a.options()
	opts.Reconnect = false

	c, err := client.New(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	v, err := c.Do(ctx, args[0], args[1:]...)
	if err != nil && !isServerError(err) {
		return err
	}

	a.print(v)
	return nil
}

// print writes a reply followed by a newline, error replies in red on a terminal
func (a *app) print(v resp.Value) {
	if v.IsError() {
		a.errColor.Fprintln(a.out, Format(v)) //nolint:errcheck
		return
	}
	fmt.Fprintln(a.out, Format(v)) //nolint:errcheck
}

func isServerError(err error) bool {
	var serr *resp.ServerError
	return errors.As(err, &serr)
}
