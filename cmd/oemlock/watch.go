package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kardianos/oemlock/events"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Print flag changes as they are published",
	GroupID: "flags",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.NATSURL == "" {
			return errors.New("nats_url is required to watch flag changes")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sub, err := events.NewNATSSubscriber(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer sub.Close()

		msgs, cancel, err := sub.Subscribe(events.TopicAll)
		if err != nil {
			return err
		}
		defer cancel()

		out := cmd.OutOrStdout()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-msgs:
				if !ok {
					return nil
				}
				ev := msg.Event
				fmt.Fprintf(out, "%s %s allowed=%t backend=%s\n",
					ev.At.Local().Format(time.RFC3339), ev.Field, ev.Allowed, ev.Backend)
			}
		}
	},
}
