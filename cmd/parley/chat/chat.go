package chatcmder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/parley/cmd/parley/settings"
	"github.com/papercomputeco/parley/pkg/config"
	"github.com/papercomputeco/parley/pkg/observe"
	"github.com/papercomputeco/parley/pkg/tui"
)

const chatLongDesc string = `Open the interactive chat.

Answers stream in as they are generated. When the streaming endpoint is
unavailable, fails, or times out, the message is resent as a single
request. Conversations are saved locally and can be resumed.

Keys:
  enter        send the message
  alt+enter    insert a newline
  ctrl+r       retry a failed message
  ctrl+n       start a new conversation
  pgup/pgdown  scroll
  esc, ctrl+c  quit

Logs are written to the configured log file. Changes to the config file
take effect for the next message.

Examples:
  parley chat
  parley chat --conversation 3f0c2a1e-...
  parley chat --metrics-addr 127.0.0.1:9090`

const chatShortDesc string = "Chat interactively"

type chatCommander struct {
	flags *settings.Flags

	conversationID string
	noStream       bool
	metricsAddr    string
}

func NewChatCmd(flags *settings.Flags) *cobra.Command {
	cmder := &chatCommander{flags: flags}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.conversationID, "conversation", "c", "", "Resume a saved conversation")
	cmd.Flags().BoolVar(&cmder.noStream, "no-stream", false, "Wait for whole answers instead of streaming")
	cmd.Flags().StringVar(&cmder.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	cfg, err := c.flags.Load()
	if err != nil {
		return err
	}

	log := settings.FileLogger(cfg)
	defer func() { _ = log.Sync() }()

	store, err := settings.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	metrics, err := observe.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("could not register metrics: %w", err)
	}
	observer := observe.Multi{observe.NewLogger(log), metrics}

	client, err := settings.NewClient(cfg, log, observer)
	if err != nil {
		return err
	}

	if c.metricsAddr != "" {
		stop, err := serveMetrics(c.metricsAddr, registry, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	model, err := tui.New(tui.Options{
		Sender:         client,
		Store:          store,
		Logger:         log,
		ConversationID: c.conversationID,
		Streaming:      !c.noStream,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		err := config.Watch(ctx, c.flags.ConfigFile(), log, func(next config.Config) {
			client, err := settings.NewClient(c.flags.Apply(next), log, observer)
			if err != nil {
				log.Warn("keeping previous chat client", zap.Error(err))
				return
			}
			program.Send(tui.SenderChangedMsg{Sender: client})
		})
		if err != nil {
			log.Warn("config changes will not be picked up", zap.Error(err))
		}
	}()

	log.Info("chat started",
		zap.String("endpoint", client.Endpoint()),
		zap.Bool("streaming", !c.noStream),
	)

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat UI failed: %w", err)
	}
	return nil
}

// serveMetrics exposes registry on addr/metrics until stop is called.
func serveMetrics(addr string, registry *prometheus.Registry, log *zap.Logger) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	return func() { _ = srv.Close() }, nil
}
