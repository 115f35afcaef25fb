package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/warren/internal/chat"
	"github.com/zulandar/warren/internal/history"
	"github.com/zulandar/warren/internal/logging"
)

func newSendCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "send <text...>",
		Short: "Publish one message to the target queue and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			logger := logging.New(cmd.ErrOrStderr(), cfg.Log.Level)
			store, err := history.New(cfg.History.Path)
			if err != nil {
				return err
			}
			return chat.SendOnce(context.Background(), chat.SessionOpts{
				Config:  cfg,
				History: store,
				Out:     cmd.OutOrStdout(),
				Logger:  &logger,
				Dialer:  chatDialer,
				Backoff: chatBackoff,
			}, strings.Join(args, " "))
		},
	}

	flags.register(cmd)
	return cmd
}
