package historycmder

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/parley/cmd/parley/settings"
	"github.com/papercomputeco/parley/pkg/history"
)

const historyLongDesc string = `Inspect and manage saved conversations.

Examples:
  parley history list
  parley history show 3f0c2a1e-...
  parley history delete 3f0c2a1e-...
  parley history clear`

const historyShortDesc string = "Manage saved conversations"

const timeLayout = "2006-01-02 15:04"

type historyCommander struct {
	flags *settings.Flags
}

func NewHistoryCmd(flags *settings.Flags) *cobra.Command {
	cmder := &historyCommander{flags: flags}

	cmd := &cobra.Command{
		Use:   "history",
		Short: historyShortDesc,
		Long:  historyLongDesc,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved conversations, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cmder.withStore(cmd.Context(), func(ctx context.Context, store history.Store) error {
					return list(ctx, cmd.OutOrStdout(), store)
				})
			},
		},
		&cobra.Command{
			Use:   "show <conversation-id>",
			Short: "Print the messages of a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cmder.withStore(cmd.Context(), func(ctx context.Context, store history.Store) error {
					return show(ctx, cmd.OutOrStdout(), store, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "delete <conversation-id>",
			Short: "Delete a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cmder.withStore(cmd.Context(), func(ctx context.Context, store history.Store) error {
					if err := store.DeleteConversation(ctx, args[0]); err != nil {
						return fmt.Errorf("could not delete conversation %s: %w", args[0], err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every conversation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cmder.withStore(cmd.Context(), func(ctx context.Context, store history.Store) error {
					if err := store.Clear(ctx); err != nil {
						return fmt.Errorf("could not clear history: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
					return nil
				})
			},
		},
	)

	return cmd
}

func (c *historyCommander) withStore(ctx context.Context, fn func(context.Context, history.Store) error) error {
	cfg, err := c.flags.Load()
	if err != nil {
		return err
	}

	store, err := settings.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, store)
}

func list(ctx context.Context, w io.Writer, store history.Store) error {
	convs, err := store.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("could not list conversations: %w", err)
	}

	if len(convs) == 0 {
		fmt.Fprintln(w, "No saved conversations.")
		return nil
	}

	data := pterm.TableData{{"ID", "TITLE", "MESSAGES", "UPDATED"}}
	for _, conv := range convs {
		msgs, err := store.Messages(ctx, conv.ID)
		if err != nil {
			return fmt.Errorf("could not load conversation %s: %w", conv.ID, err)
		}
		data = append(data, []string{
			conv.ID,
			conv.Title,
			strconv.Itoa(len(msgs)),
			conv.UpdatedAt.Local().Format(timeLayout),
		})
	}

	table, err := pterm.DefaultTable.WithHasHeader(true).WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("could not render table: %w", err)
	}
	fmt.Fprintln(w, table)
	return nil
}

func show(ctx context.Context, w io.Writer, store history.Store, id string) error {
	conv, err := store.GetConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("could not find conversation %s: %w", id, err)
	}
	msgs, err := store.Messages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("could not load conversation %s: %w", id, err)
	}

	fmt.Fprintf(w, "%s (%s)\n", conv.Title, conv.CreatedAt.Local().Format(timeLayout))
	for _, msg := range msgs {
		marker := ""
		if msg.Failed {
			marker = " [not sent]"
		}
		fmt.Fprintf(w, "\n%s%s:\n%s\n", msg.Role, marker, msg.Content)
	}
	return nil
}
