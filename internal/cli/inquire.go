// internal/cli/inquire.go

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

var (
	counterpartyID      string
	counterpartyName    string
	counterpartyCompany string
	productID           string
	productName         string
	productThumbnail    string
	openingMessage      string
)

func init() {
	rootCmd.AddCommand(inquireCmd)
	rootCmd.AddCommand(contactCmd)

	for _, cmd := range []*cobra.Command{inquireCmd, contactCmd} {
		cmd.Flags().StringVar(&counterpartyID, "counterparty", "", "counterparty user id")
		cmd.Flags().StringVar(&counterpartyName, "name", "", "counterparty display name")
		cmd.Flags().StringVar(&counterpartyCompany, "company", "", "counterparty company")
		cmd.Flags().StringVarP(&openingMessage, "message", "m", "", "send this message once the conversation is open")
		cmd.MarkFlagRequired("counterparty")
	}

	inquireCmd.Flags().StringVar(&productID, "product", "", "product id")
	inquireCmd.Flags().StringVar(&productName, "product-name", "", "product name")
	inquireCmd.Flags().StringVar(&productThumbnail, "thumbnail", "", "product thumbnail URL")
	inquireCmd.MarkFlagRequired("product")
}

var inquireCmd = &cobra.Command{
	Use:   "inquire",
	Short: "Open the product inquiry with a counterparty, creating it if needed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inbox, err := openInbox(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer inbox.Close()

		conv, err := inbox.CreateOrSelectProductConversation(cmd.Context(), counterparty(), messaging.ProductContext{
			ID:           productID,
			Name:         productName,
			ThumbnailURL: productThumbnail,
		})
		if err != nil {
			return err
		}
		return opened(cmd, inbox, conv)
	},
}

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Open the general conversation with a counterparty, creating it if needed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inbox, err := openInbox(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer inbox.Close()

		conv, err := inbox.ContactCounterparty(cmd.Context(), counterparty())
		if err != nil {
			return err
		}
		return opened(cmd, inbox, conv)
	},
}

func counterparty() messaging.Counterparty {
	return messaging.Counterparty{
		ID:      counterpartyID,
		Name:    counterpartyName,
		Company: counterpartyCompany,
	}
}

func opened(cmd *cobra.Command, inbox *messaging.Inbox, conv *messaging.Conversation) error {
	fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s: %s\n", conv.ID, conv.Subject)
	if openingMessage == "" {
		return nil
	}
	msg, err := inbox.SendMessage(cmd.Context(), openingMessage, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", msg.ID)
	return nil
}
