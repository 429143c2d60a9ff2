package servecmder

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/parley/cmd/parley/settings"
	"github.com/papercomputeco/parley/mockserver"
	"github.com/papercomputeco/parley/pkg/logger"
)

const serveLongDesc string = `Run a local chat API for development.

The server echoes each message back word by word, over the same streaming
and single-request endpoints the chat client uses. Use --no-stream to
exercise the client's fallback.

Examples:
  parley serve
  parley serve --listen :9000 --delay 200ms
  parley serve --no-stream`

const serveShortDesc string = "Run a local echo chat server"

type serveCommander struct {
	flags *settings.Flags

	listen   string
	path     string
	delay    time.Duration
	noStream bool
}

func NewServeCmd(flags *settings.Flags) *cobra.Command {
	cmder := &serveCommander{flags: flags}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&cmder.path, "path", "/chat", "Path of the chat endpoint")
	cmd.Flags().DurationVar(&cmder.delay, "delay", 40*time.Millisecond, "Delay before each streamed word")
	cmd.Flags().BoolVar(&cmder.noStream, "no-stream", false, "Disable the streaming endpoint")

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	log := logger.NewLogger(logger.Options{Debug: c.flags.Debug, Output: cmd.ErrOrStderr()})
	defer func() { _ = log.Sync() }()

	srv, err := mockserver.New(mockserver.Config{
		ListenAddr:       c.listen,
		Path:             c.path,
		FragmentDelay:    c.delay,
		DisableStreaming: c.noStream,
	}, mockserver.EchoResponder{}, log)
	if err != nil {
		return fmt.Errorf("could not create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("chat server stopping")
		return srv.Shutdown()
	}
}
