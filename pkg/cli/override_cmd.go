package cli

import (
	"github.com/spf13/cobra"
)

func newOverrideCmd(client *Client) *cobra.Command {
	var justification string

	cmd := &cobra.Command{
		Use:   "override <command-id>",
		Short: "Execute a denied command with an audited override",
		Long: "Overrides a denial. Requires the override grant and a written " +
			"justification; the ledger entry records both the justification " +
			"and the original denial reason.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client.Override(cmd.Context(), args[0], justification)
			if err != nil {
				return err
			}
			return printCommandResult(cmd, res)
		},
	}

	cmd.Flags().StringVar(&justification, "justification", "", "Why this denial is being overridden")
	_ = cmd.MarkFlagRequired("justification")

	return cmd
}
