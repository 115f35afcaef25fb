package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const maskedPassword = "********"

func newConfigCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		Long:  "Prints the configuration after defaults, the config file, .env, the environment and flags have been applied. The broker password is masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Broker.Password != "" {
				shown.Broker.Password = maskedPassword
			}
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return fmt.Errorf("config: marshal: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	flags.register(cmd)
	return cmd
}
