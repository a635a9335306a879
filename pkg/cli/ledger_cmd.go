package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newLedgerCmd(client *Client) *cobra.Command {
	var q LedgerQuery

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query the audit ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := client.ListLedger(cmd.Context(), q)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, page)
			}

			rows := make([][]string, len(page.Entries))
			for i, e := range page.Entries {
				rows[i] = []string{
					fmt.Sprintf("%d", e.ID),
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.Actor,
					e.Action,
					e.Environment + "/" + e.ResourceID,
					e.Verdict,
					e.Reason,
				}
			}
			printTable(os.Stdout, []string{"ID", "TIME", "ACTOR", "ACTION", "RESOURCE", "VERDICT", "REASON"}, rows)
			fmt.Fprintf(os.Stdout, "\n%d of %d entries", len(page.Entries), page.Total)
			if page.NextPageToken != "" {
				fmt.Fprintf(os.Stdout, " (next page: --page-token %s)", page.NextPageToken)
			}
			fmt.Fprintln(os.Stdout)
			return nil
		},
	}

	cmd.Flags().StringVar(&q.Actor, "actor", "", "Filter by actor")
	cmd.Flags().StringVar(&q.ResourceID, "resource-id", "", "Filter by resource id")
	cmd.Flags().StringVar(&q.ResourceType, "resource-type", "", "Filter by resource type")
	cmd.Flags().StringVar(&q.Verdict, "verdict", "", "Filter by verdict (PERMIT, DENY, ...)")
	cmd.Flags().StringVar(&q.CommandID, "command-id", "", "Filter by command id")
	cmd.Flags().StringVar(&q.From, "from", "", "Entries at or after this RFC 3339 timestamp")
	cmd.Flags().StringVar(&q.To, "to", "", "Entries before this RFC 3339 timestamp")
	cmd.Flags().IntVar(&q.MaxResults, "max-results", 0, "Page size")
	cmd.Flags().StringVar(&q.PageToken, "page-token", "", "Continue from a previous page")

	// Normalize verdict filters typed in lowercase.
	orig := cmd.RunE
	cmd.RunE = func(c *cobra.Command, args []string) error {
		q.Verdict = strings.ToUpper(q.Verdict)
		return orig(c, args)
	}

	return cmd
}
