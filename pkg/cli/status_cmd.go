package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newStatusCmd(client *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <command-id>",
		Short: "Show a command's state and full ledger history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := client.GetCommand(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, detail)
			}

			fmt.Fprintf(os.Stdout, "Command:     %s\n", detail.CommandID)
			fmt.Fprintf(os.Stdout, "Actor:       %s\n", detail.Actor)
			fmt.Fprintf(os.Stdout, "Action:      %s %s/%s (%s)\n",
				detail.Action, detail.ResourceType, detail.ResourceID, detail.Environment)
			fmt.Fprintf(os.Stdout, "State:       %s\n", detail.State)
			fmt.Fprintf(os.Stdout, "Requested:   %s\n", detail.RequestedAt.Format("2006-01-02 15:04:05 MST"))

			if len(detail.History) == 0 {
				return nil
			}
			fmt.Fprintln(os.Stdout, "\nHistory:")
			rows := make([][]string, len(detail.History))
			for i, e := range detail.History {
				note := e.Reason
				if e.Justification != "" {
					note = e.Justification
				}
				rows[i] = []string{
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.Verdict,
					e.Actor,
					strings.Join(e.PolicyIDs, ","),
					note,
				}
			}
			printTable(os.Stdout, []string{"TIME", "VERDICT", "ACTOR", "POLICIES", "NOTE"}, rows)
			return nil
		},
	}
	return cmd
}
