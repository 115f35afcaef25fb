package main

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/zulandar/warren/internal/config"
)

const defaultConfigPath = "warren.yaml"

// configFlags are the settings every command can override on the command
// line. Flags win over the environment, which wins over the config file.
type configFlags struct {
	path        string
	envFile     string
	host        string
	queue       string
	target      string
	user        string
	historyPath string
	logLevel    string
	statusAddr  string
	standalone  bool
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", defaultConfigPath, "path to Warren config file (optional)")
	cmd.Flags().StringVar(&f.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.Flags().StringVar(&f.host, "host", "", "RabbitMQ host (RABBIT_HOST)")
	cmd.Flags().StringVar(&f.queue, "queue", "", "inbound queue name (QUEUE_NAME)")
	cmd.Flags().StringVar(&f.target, "target", "", "target queue name (TARGET_QUEUE)")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "local user name (USER_NAME)")
	cmd.Flags().StringVar(&f.historyPath, "history", "", "history file path (HISTORY_FILE)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "diagnostic log level (LOG_LEVEL)")
	cmd.Flags().StringVar(&f.statusAddr, "status-addr", "", "serve /healthz, /status and /metrics on this address (STATUS_ADDR)")
	cmd.Flags().BoolVar(&f.standalone, "standalone", false, "run without a broker (STANDALONE_MODE)")
}

// load resolves the configuration for cmd.
func (f *configFlags) load(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(f.envFile); err != nil {
		return nil, err
	}

	path := f.path
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	overrides := make(map[string]string)
	set := func(flag, key, value string) {
		if cmd.Flags().Changed(flag) {
			overrides[key] = value
		}
	}
	set("host", "RABBIT_HOST", f.host)
	set("queue", "QUEUE_NAME", f.queue)
	set("target", "TARGET_QUEUE", f.target)
	set("user", "USER_NAME", f.user)
	set("history", "HISTORY_FILE", f.historyPath)
	set("log-level", "LOG_LEVEL", f.logLevel)
	set("status-addr", "STATUS_ADDR", f.statusAddr)
	set("standalone", "STANDALONE_MODE", strconv.FormatBool(f.standalone))

	return config.Load(path, config.Chain(config.MapEnv(overrides), config.OSEnv))
}
