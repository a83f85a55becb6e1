package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eternalApril/moonwire/internal/client"
	"github.com/eternalApril/moonwire/internal/persistence"
)

const replayBatch = 1000

func (a *app) replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay FILE",
		Short: "Send every command recorded in a journal file, in order",
		Args:  cobra.ExactArgs(1),
		RunE: a.withTeardown(func(cmd *cobra.Command, args []string) error {
			return a.replay(cmd.Context(), args[0])
		}),
	}
}

// replay pipelines the journal in batches and prints how many commands failed
func (a *app) replay(ctx context.Context, filename string) error {
	commands, err := persistence.Load(filename, a.log)
	if err != nil {
		return err
	}

	opts := a.options()
	opts.Reconnect = false

	c, err := client.New(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	start := time.Now()
	total := len(commands)
	var failed int

	for len(commands) > 0 {
		n := min(len(commands), replayBatch)

		batch := commands[:n]

		replies, err := c.PipelineBytes(ctx, batch...)
		if err != nil {
			return err
		}
		for i, v := range replies {
			if v.IsError() {
				failed++
				a.log.Warn("replayed command failed",
					zap.ByteString("command", batch[i][0]),
					zap.String("reply", string(v.String)),
				)
			}
		}

		commands = commands[n:]
	}

	a.printf("replayed %d commands, %d failed\n", total, failed)
	a.log.Info("replay finished", zap.String("file", filename), zap.Duration("elapsed", time.Since(start)))
	return nil
}
