// internal/cli/messages.go

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

var (
	attachPaths []string
	replyTo     string
	voicePath   string
)

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)

	sendCmd.Flags().StringSliceVarP(&attachPaths, "attach", "a", nil, "file to attach (repeatable)")
	sendCmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the message being answered")
	sendCmd.Flags().StringVar(&voicePath, "voice", "", "audio file to send as a voice note")
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation> [text...]",
	Short: "Send a message with optional attachments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var device messaging.AudioDevice
		if voicePath != "" {
			device = fileAudioDevice{path: voicePath}
		}

		inbox, err := openConversation(cmd.Context(), args[0], device)
		if err != nil {
			return err
		}
		defer inbox.Close()

		if len(attachPaths) > 0 {
			if _, err := inbox.AttachFiles(attachPaths...); err != nil {
				return err
			}
		}
		if voicePath != "" {
			if err := inbox.StartRecording(cmd.Context()); err != nil {
				return err
			}
			if _, err := inbox.StopRecording(); err != nil {
				return err
			}
		}

		var reply *string
		if replyTo != "" {
			reply = &replyTo
		}

		msg, err := inbox.SendMessage(cmd.Context(), strings.Join(args[1:], " "), reply)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", msg.ID)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <conversation> <message> <text...>",
	Short: "Edit one of your messages",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		inbox, err := openConversation(cmd.Context(), args[0], nil)
		if err != nil {
			return err
		}
		defer inbox.Close()

		if err := inbox.EditMessage(cmd.Context(), args[1], strings.Join(args[2:], " ")); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Edited %s\n", args[1])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation> <message>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inbox, err := openConversation(cmd.Context(), args[0], nil)
		if err != nil {
			return err
		}
		defer inbox.Close()

		if err := inbox.DeleteMessage(cmd.Context(), args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[1])
		return nil
	},
}

// openConversation opens the inbox with conversationID active and its messages loaded
func openConversation(ctx context.Context, conversationID string, device messaging.AudioDevice) (*messaging.Inbox, error) {
	inbox, err := openInbox(ctx, device)
	if err != nil {
		return nil, err
	}
	if _, err := inbox.Select(conversationID); err != nil {
		inbox.Close()
		return nil, err
	}
	if err := inbox.Refresh(ctx); err != nil {
		inbox.Close()
		return nil, err
	}
	return inbox, nil
}
