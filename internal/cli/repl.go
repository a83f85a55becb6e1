package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eternalApril/moonwire/internal/client"
	"github.com/eternalApril/moonwire/internal/config"
)

var completions = []string{
	"PING", "ECHO", "AUTH", "SELECT", "QUIT",
	"GET", "SET", "DEL", "EXISTS", "EXPIRE", "TTL", "INCR", "DECR", "KEYS",
	"HGET", "HSET", "HGETALL", "LPUSH", "RPUSH", "LRANGE", "SADD", "SMEMBERS",
	"PUBLISH", "INFO", "DBSIZE",
}

func (a *app) replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive shell",
		Args:  cobra.NoArgs,
		RunE: a.withTeardown(func(cmd *cobra.Command, _ []string) error {
			return a.repl(cmd.Context())
		}),
	}
}

func (a *app) repl(ctx context.Context) error {
	c, err := client.New(ctx, a.options())
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	items := make([]readline.PrefixCompleterInterface, 0, len(completions)*2)
	for _, name := range completions {
		items = append(items, readline.PcItem(name), readline.PcItem(strings.ToLower(name)))
	}

	input, err := readline.NewEx(&readline.Config{
		Prompt:          a.cfg.Client.Addr + "> ",
		AutoComplete:    readline.NewPrefixCompleter(items...),
		HistoryFile:     historyFile(a.log),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer input.Close() //nolint:errcheck

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := input.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		if a.eval(ctx, c, line) {
			return nil
		}
	}
}

// eval runs one shell line and prints the outcome. It reports whether the shell should exit
func (a *app) eval(ctx context.Context, c *client.Client, line string) bool {
	args, err := splitArgs(line)
	if err != nil {
		a.errColor.Fprintln(a.out, err.Error()) //nolint:errcheck
		return false
	}
	if len(args) == 0 {
		return false
	}

	switch strings.ToUpper(args[0]) {
	case "QUIT", "EXIT":
		return true
	case "SUBSCRIBE", "PSUBSCRIBE":
		a.errColor.Fprintf(a.out, "(error) run 'moonwire %s' to enter subscribed mode\n", strings.ToLower(args[0])) //nolint:errcheck
		return false
	}

	start := time.Now()
	v, err := c.Do(ctx, args[0], args[1:]...)
	if err != nil && !isServerError(err) {
		a.errColor.Fprintf(a.out, "(error) %v\n", err) //nolint:errcheck
		return false
	}

	if a.log.Core().Enabled(zap.DebugLevel) {
		a.log.Debug("command finished",
			zap.String("command", args[0]),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	a.print(v)
	return false
}

// historyFile returns ~/.moonwire/history, or "" to keep history in memory only
func historyFile(log *zap.Logger) string {
	dir, err := config.Dir()
	if err == nil {
		err = os.MkdirAll(dir, 0o700)
	}
	if err != nil {
		log.Warn("history disabled", zap.Error(err))
		return ""
	}
	return filepath.Join(dir, "history")
}

// printf is fmt.Fprintf on the command output
func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...) //nolint:errcheck
}
