// internal/cli/watch.go

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

var watchFor time.Duration

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchFor, "for", 0, "stop watching after this long (default: until interrupted)")
}

var watchCmd = &cobra.Command{
	Use:   "watch <conversation>",
	Short: "Print a conversation and follow new messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if watchFor > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, watchFor)
			defer cancel()
		}

		inbox, err := openConversation(ctx, args[0], nil)
		if err != nil {
			return err
		}
		defer inbox.Close()

		out := cmd.OutOrStdout()
		printed := make(map[string]messaging.Message)
		flush := func() {
			for _, item := range inbox.Feed() {
				if prev, ok := printed[item.ID]; ok && prev.Content == item.Content &&
					prev.Edited == item.Edited && prev.IsDeleted() == item.IsDeleted() {
					continue
				}
				printed[item.ID] = item.Message
				printFeedItem(out, item)
			}
		}
		flush()

		for {
			select {
			case <-ctx.Done():
				return nil
			case u, ok := <-inbox.Updates():
				if !ok {
					return nil
				}
				switch u.Kind {
				case messaging.UpdateMessages:
					if u.ConversationID == args[0] {
						flush()
					}
				case messaging.UpdateSyncDegraded:
					fmt.Fprintf(out, "! connection problems: %v\n", u.Err)
				case messaging.UpdateConversationGone:
					if u.ConversationID == args[0] {
						return fmt.Errorf("conversation %s is no longer available", args[0])
					}
				}
			}
		}
	},
}
