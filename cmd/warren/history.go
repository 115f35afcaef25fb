package main

import (
	"github.com/spf13/cobra"
	"github.com/zulandar/warren/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the local chat history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			store, err := history.New(cfg.History.Path)
			if err != nil {
				return err
			}
			return store.Show(cmd.OutOrStdout())
		},
	}

	flags.register(cmd)
	return cmd
}
