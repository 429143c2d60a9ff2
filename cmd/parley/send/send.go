package sendcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/papercomputeco/parley/cmd/parley/settings"
	"github.com/papercomputeco/parley/pkg/chat"
	"github.com/papercomputeco/parley/pkg/history"
	"github.com/papercomputeco/parley/pkg/observe"
	"github.com/papercomputeco/parley/pkg/transport"
)

const sendLongDesc string = `Send one message and print the answer.

The message is taken from the arguments, or read from standard input when
no arguments are given. The answer is printed as it streams in. Both the
message and the answer are saved; pass --conversation to continue a saved
conversation.

Examples:
  parley send "What is the capital of France?"
  echo "Summarise this" | parley send
  parley send --conversation 3f0c2a1e-... "And of Spain?"`

const sendShortDesc string = "Send a single message"

type sendCommander struct {
	flags *settings.Flags

	conversationID string
	noStream       bool
}

func NewSendCmd(flags *settings.Flags) *cobra.Command {
	cmder := &sendCommander{flags: flags}

	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: sendShortDesc,
		Long:  sendLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.conversationID, "conversation", "c", "", "Continue a saved conversation")
	cmd.Flags().BoolVar(&cmder.noStream, "no-stream", false, "Wait for the whole answer instead of streaming")

	return cmd
}

func (c *sendCommander) run(ctx context.Context, cmd *cobra.Command, args []string) error {
	message, err := readMessage(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

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

	client, err := settings.NewClient(cfg, log, observe.NewLogger(log))
	if err != nil {
		return err
	}

	conv, prior, err := c.conversation(ctx, store, message)
	if err != nil {
		return err
	}

	userMsg := &history.Message{ConversationID: conv.ID, Role: chat.RoleUser, Content: message}
	if err := store.AppendMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("could not save message: %w", err)
	}

	out := cmd.OutOrStdout()
	var streamed strings.Builder
	var onFragment transport.FragmentFunc
	if !c.noStream {
		onFragment = func(fragment string) {
			streamed.WriteString(fragment)
			fmt.Fprint(out, fragment)
		}
	}

	resp, err := client.Send(ctx, chat.ChatRequest{
		ConversationID: conv.RemoteID,
		Message:        message,
		History:        history.Turns(prior),
	}, onFragment)
	if err != nil {
		if streamed.Len() > 0 {
			fmt.Fprintln(out)
		}
		if markErr := store.MarkFailed(context.WithoutCancel(ctx), userMsg.ID, true); markErr != nil {
			log.Warn("failed to mark message", zap.Error(markErr))
		}
		return fmt.Errorf("send failed: %w", err)
	}

	switch {
	case streamed.Len() == 0:
		fmt.Fprintln(out, resp.Answer)
	case streamed.String() == resp.Answer:
		fmt.Fprintln(out)
	default:
		// The stream broke off and the single request answered in full.
		fmt.Fprintf(out, "\n\n%s\n", resp.Answer)
	}

	answer := &history.Message{ConversationID: conv.ID, Role: chat.RoleAssistant, Content: resp.Answer}
	if err := store.AppendMessage(ctx, answer); err != nil {
		return fmt.Errorf("could not save answer: %w", err)
	}
	if resp.ConversationID != "" && resp.ConversationID != conv.RemoteID {
		if err := store.SetRemoteID(ctx, conv.ID, resp.ConversationID); err != nil {
			return fmt.Errorf("could not save conversation id: %w", err)
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", conv.ID)
	return nil
}

// conversation returns the conversation to send in and its messages so
// far, creating it when none was requested.
func (c *sendCommander) conversation(ctx context.Context, store history.Store, message string) (*history.Conversation, []*history.Message, error) {
	if c.conversationID == "" {
		conv, err := store.CreateConversation(ctx, history.Title(message))
		if err != nil {
			return nil, nil, fmt.Errorf("could not create conversation: %w", err)
		}
		return conv, nil, nil
	}

	conv, err := store.GetConversation(ctx, c.conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("could not find conversation %s: %w", c.conversationID, err)
	}
	prior, err := store.Messages(ctx, conv.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("could not load conversation %s: %w", conv.ID, err)
	}
	return conv, prior, nil
}

// readMessage joins args, or reads piped input when there are none.
func readMessage(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		message := strings.TrimSpace(strings.Join(args, " "))
		if message == "" {
			return "", errors.New("message is empty")
		}
		return message, nil
	}

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("no message given: pass it as arguments or pipe it in")
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("could not read message: %w", err)
	}
	message := strings.TrimSpace(string(data))
	if message == "" {
		return "", errors.New("message is empty")
	}
	return message, nil
}
