// internal/cli/conversations.go

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

var (
	listChannel string
	listSearch  string
)

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.Flags().StringVar(&listChannel, "channel", "all", "all, general or product")
	conversationsCmd.Flags().StringVarP(&listSearch, "search", "s", "", "filter by counterparty, company, product or subject")
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, err := messaging.ParseChannel(listChannel)
		if err != nil {
			return err
		}

		inbox, err := openInbox(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer inbox.Close()

		list := inbox.Conversations(channel, listSearch)
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversations")
			return nil
		}
		printConversations(cmd.OutOrStdout(), list)
		return nil
	},
}
