package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func newPrincipalCmd(client *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "principal",
		Short: "Manage the principal directory",
	}
	cmd.AddCommand(newPrincipalAddCmd(client))
	cmd.AddCommand(newPrincipalListCmd(client))
	cmd.AddCommand(newPrincipalRemoveCmd(client))
	return cmd
}

func newPrincipalAddCmd(client *Client) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a principal with a role from the active policy set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := client.CreatePrincipal(cmd.Context(), args[0], role)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, p)
			}
			fmt.Fprintf(os.Stdout, "Created principal %s (id %d, role %s)\n", p.Name, p.ID, p.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Role declared in the active policy set")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

func newPrincipalListCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered principals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			principals, err := client.ListPrincipals(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, principals)
			}
			rows := make([][]string, len(principals))
			for i, p := range principals {
				rows[i] = []string{
					strconv.FormatInt(p.ID, 10),
					p.Name,
					p.Role,
					p.CreatedAt.Format("2006-01-02 15:04:05"),
				}
			}
			printTable(os.Stdout, []string{"ID", "NAME", "ROLE", "CREATED"}, rows)
			return nil
		},
	}
}

func newPrincipalRemoveCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid principal id %q", args[0])
			}
			if err := client.DeletePrincipal(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Removed principal %d\n", id)
			return nil
		},
	}
}
