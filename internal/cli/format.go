// internal/cli/format.go

package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

func printConversations(w io.Writer, list []*messaging.Conversation) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOUNTERPARTY\tPRODUCT\tUNREAD\tLAST ACTIVITY\tPREVIEW")
	for _, c := range list {
		counterparty := c.Counterparty.Name
		if c.Counterparty.Company != "" {
			counterparty += " (" + c.Counterparty.Company + ")"
		}
		product := "-"
		if c.Product != nil {
			product = c.Product.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			c.ID, counterparty, product, c.UnreadCount, humanize.Time(c.LastActivityAt), truncate(c.LastMessagePreview, 40))
	}
	tw.Flush()
}

func printFeedItem(w io.Writer, item messaging.FeedItem) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", item.CreatedAt.Local().Format("Jan 02 15:04"), item.ID, item.SenderID)

	switch state := item.State.(type) {
	case messaging.Pending:
		b.WriteString(" (sending)")
	case messaging.Failed:
		fmt.Fprintf(&b, " (failed: %v)", state.Err)
	case messaging.Sent:
		if state.Delivery != "" {
			fmt.Fprintf(&b, " (%s)", state.Delivery)
		}
	}
	b.WriteString(": ")

	if item.IsDeleted() {
		b.WriteString("message deleted")
	} else {
		b.WriteString(item.Content)
		if item.Edited {
			b.WriteString(" (edited)")
		}
	}
	fmt.Fprintln(w, b.String())

	if item.ReplyTo != nil {
		switch {
		case item.ReplyTarget == nil:
			fmt.Fprintln(w, "    ↳ reply to an earlier message")
		case item.ReplyTarget.IsDeleted():
			fmt.Fprintln(w, "    ↳ reply to a deleted message")
		default:
			fmt.Fprintf(w, "    ↳ reply to %s: %s\n", item.ReplyTarget.SenderID, truncate(item.ReplyTarget.Preview(), 40))
		}
	}
	for _, att := range item.Attachments {
		fmt.Fprintf(w, "    📎 %s %s (%s) %s\n", att.Kind, att.Name, humanize.IBytes(uint64(att.Size)), att.URL)
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
