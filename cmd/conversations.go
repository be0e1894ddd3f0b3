package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/asa/internal/config"
	"github.com/nextlevelbuilder/asa/internal/conversation"
	"github.com/nextlevelbuilder/asa/internal/store"
)

const maxNameWidth = 24

func conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect conversations and pause or resume the AI",
	}
	cmd.AddCommand(conversationsListCmd())
	cmd.AddCommand(conversationsPauseCmd())
	cmd.AddCommand(conversationsResumeCmd())
	return cmd
}

func loadStores() (*store.Stores, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openStores(cfg)
}

func conversationsListCmd() *cobra.Command {
	var (
		paused bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := loadStores()
			if err != nil {
				return err
			}
			defer stores.Close()

			convs, err := stores.Conversations.List(context.Background(), store.ConversationListOpts{
				PausedOnly: paused,
				Limit:      limit,
			})
			if err != nil {
				return fmt.Errorf("list conversations: %w", err)
			}
			if len(convs) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			fmt.Print(formatConversations(convs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&paused, "paused", false, "only conversations with the AI paused")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows")
	return cmd
}

// formatConversations renders a fixed-width table. Contact names are
// measured in display cells so emoji and accented names stay aligned.
func formatConversations(convs []store.Conversation) string {
	nameWidth := runewidth.StringWidth("NAME")
	for _, c := range convs {
		nameWidth = max(nameWidth, min(runewidth.StringWidth(c.ContactName), maxNameWidth))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-32s  %s  %-6s  %s\n", "SENDER", runewidth.FillRight("NAME", nameWidth), "AI", "LAST ACTIVITY")
	for _, c := range convs {
		name := runewidth.Truncate(c.ContactName, nameWidth, "…")
		state := "on"
		if c.AIPaused {
			state = "paused"
		}
		fmt.Fprintf(&b, "%-32s  %s  %-6s  %s\n",
			c.Sender,
			runewidth.FillRight(name, nameWidth),
			state,
			c.LastActivity.Local().Format(time.DateTime),
		)
	}
	return b.String()
}

func conversationsPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <sender>",
		Short: "Pause the AI for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(func(ctl *conversation.Controller) error {
				conv, err := ctl.Pause(context.Background(), args[0], "cli")
				if err != nil {
					return err
				}
				fmt.Printf("AI paused for %s since %s\n", conv.Sender, conv.PausedAt.Local().Format(time.DateTime))
				return nil
			})
		},
	}
}

func conversationsResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <sender>",
		Short: "Resume the AI for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(func(ctl *conversation.Controller) error {
				conv, err := ctl.Resume(context.Background(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("AI resumed for %s\n", conv.Sender)
				return nil
			})
		},
	}
}

// withController runs fn against the database directly. A running gateway
// sees the new state on its next flush, which re-reads the pause flag.
func withController(fn func(*conversation.Controller) error) error {
	stores, err := loadStores()
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(conversation.NewController(stores.Conversations, conversation.NewLocker(), nil))
}
