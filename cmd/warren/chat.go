package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/warren/internal/broker"
	"github.com/zulandar/warren/internal/chat"
	"github.com/zulandar/warren/internal/config"
	"github.com/zulandar/warren/internal/history"
	"github.com/zulandar/warren/internal/logging"
	"github.com/zulandar/warren/internal/status"
	"golang.org/x/term"
)

// Overridable in tests so commands run against an in-memory broker.
var (
	chatDialer  broker.Dialer
	chatBackoff time.Duration
)

func newChatCmd() *cobra.Command {
	var flags configFlags
	var prompt bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Starts a chat session: prints the local history, listens on the inbound
queue in the background and publishes each typed line to the target queue.
If the broker cannot be reached the session falls back to standalone mode
and exits with status 1 when input ends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("prompt") {
				prompt = isTerminal(cmd.InOrStdin())
			}
			return runChat(cmd, cfg, prompt)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&prompt, "prompt", false, "print input prompts (default: on when stdin is a terminal)")
	return cmd
}

func runChat(cmd *cobra.Command, cfg *config.Config, prompt bool) error {
	logger := logging.New(cmd.ErrOrStderr(), cfg.Log.Level)

	store, err := history.New(cfg.History.Path)
	if err != nil {
		return err
	}

	session, err := chat.NewSession(chat.SessionOpts{
		Config:  cfg,
		History: store,
		In:      cmd.InOrStdin(),
		Out:     cmd.OutOrStdout(),
		Prompt:  prompt,
		Logger:  &logger,
		Dialer:  chatDialer,
		Backoff: chatBackoff,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Status.Addr != "" {
		go func() {
			err := status.Start(ctx, status.StartOpts{
				Addr:     cfg.Status.Addr,
				Provider: session,
			})
			if err != nil {
				logger.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	if err := session.Run(ctx); err != nil {
		if errors.Is(err, chat.ErrFellBack) {
			logger.Warn().Err(err).Msg("session ended in standalone mode")
			return &exitError{code: 1, err: err}
		}
		return err
	}
	return nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
