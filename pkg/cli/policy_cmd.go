package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newPolicyCmd(client *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and replace the active policy set",
	}
	cmd.AddCommand(newPolicyShowCmd(client))
	cmd.AddCommand(newPolicyApplyCmd(client))
	return cmd
}

func newPolicyShowCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active policy set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := client.GetPolicies(cmd.Context())
			if err != nil {
				return err
			}
			return printPolicySet(cmd, snap)
		},
	}
}

func newPolicyApplyCmd(client *Client) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Replace the active policy set from a YAML file",
		Long: "Uploads a policy document. The whole set is replaced atomically " +
			"and the replacement itself is recorded in the ledger.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(file) //nolint:gosec // path is user input
			if err != nil {
				return fmt.Errorf("read policy file: %w", err)
			}
			snap, err := client.ReplacePolicies(cmd.Context(), raw)
			if err != nil {
				return err
			}
			return printPolicySet(cmd, snap)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the policy YAML document")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func printPolicySet(cmd *cobra.Command, snap *PolicySet) error {
	if getOutputFormat(cmd) == "json" {
		return PrintJSON(os.Stdout, snap)
	}

	fmt.Fprintf(os.Stdout, "Version: %d\n", snap.Version)
	fmt.Fprintf(os.Stdout, "Hash:    %s\n", snap.Hash)
	fmt.Fprintf(os.Stdout, "Loaded:  %s\n", snap.LoadedAt.Format("2006-01-02 15:04:05 MST"))

	fmt.Fprintln(os.Stdout, "\nRoles:")
	for name, perms := range snap.Roles {
		fmt.Fprintf(os.Stdout, "  %s: [%s]\n", name, strings.Join(perms, ", "))
	}

	fmt.Fprintln(os.Stdout, "\nRules:")
	rows := make([][]string, len(snap.Rules))
	for i, r := range snap.Rules {
		rows[i] = []string{r.ID, r.Kind}
	}
	printTable(os.Stdout, []string{"ID", "KIND"}, rows)
	return nil
}
