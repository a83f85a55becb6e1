package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/eternalApril/moonwire/internal/client"
)

var errSubscriberClosed = errors.New("subscriber connection closed")

func (a *app) subscribeCmd(pattern bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe CHANNEL [CHANNEL...]",
		Short: "Print messages published to channels until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withTeardown(func(cmd *cobra.Command, args []string) error {
			return a.subscribe(cmd.Context(), pattern, args)
		}),
	}
	if pattern {
		cmd.Use = "psubscribe PATTERN [PATTERN...]"
		cmd.Short = "Print messages published to channels matching glob patterns until interrupted"
	}
	return cmd
}

func (a *app) subscribe(ctx context.Context, pattern bool, names []string) error {
	ps, err := client.NewPubSub(ctx, a.options())
	if err != nil {
		return err
	}
	defer ps.Close() //nolint:errcheck

	if pattern {
		err = ps.PSubscribe(ctx, names...)
	} else {
		err = ps.Subscribe(ctx, names...)
	}
	if err != nil {
		return err
	}

	a.printf("Reading messages... (press Ctrl-C to quit)\n")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ps.Messages():
			if !ok {
				return errSubscriberClosed
			}
			a.printf("%s\n", Format(messageValue(msg)))
		}
	}
}
