package cli

import (
	"github.com/spf13/cobra"
)

func newApproveCmd(client *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <command-id>",
		Short: "Record an approval for a pending command",
		Long: "Records one approval. The approving identity comes from the " +
			"authenticated token; when the quorum is met the command is " +
			"re-evaluated and, if still clear, executed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client.Approve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printCommandResult(cmd, res)
		},
	}
	return cmd
}
