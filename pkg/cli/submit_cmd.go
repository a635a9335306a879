package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newSubmitCmd(client *Client) *cobra.Command {
	var (
		action       string
		resourceType string
		resourceID   string
		environment  string
		params       []string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an infrastructure command for guardrail evaluation",
		Long: "Submits a command to the guardrail engine. The verdict is returned " +
			"immediately; permitted commands execute asynchronously.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parameters, err := parseParams(params)
			if err != nil {
				return err
			}

			res, err := client.SubmitCommand(cmd.Context(), SubmitRequest{
				Action:       action,
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Environment:  environment,
				Parameters:   parameters,
			})
			if err != nil {
				return err
			}
			return printCommandResult(cmd, res)
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "Action to perform (scale, deploy, destroy, configure, restart)")
	cmd.Flags().StringVar(&resourceType, "resource-type", "", "Resource type (e.g. service, database)")
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "Resource identifier")
	cmd.Flags().StringVar(&environment, "env", "", "Target environment (development, staging, production)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Command parameter as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("resource-type")
	_ = cmd.MarkFlagRequired("resource-id")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}

// parseParams converts key=value pairs, coercing numbers and booleans so
// scaling parameters arrive as JSON numbers.
func parseParams(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", pair)
		}
		switch {
		case value == "true" || value == "false":
			out[key] = value == "true"
		default:
			if n, err := strconv.ParseFloat(value, 64); err == nil {
				out[key] = n
			} else {
				out[key] = value
			}
		}
	}
	return out, nil
}

func printCommandResult(cmd *cobra.Command, res *CommandResult) error {
	if getOutputFormat(cmd) == "json" {
		return PrintJSON(os.Stdout, res)
	}

	fmt.Fprintf(os.Stdout, "Command:  %s\n", res.CommandID)
	fmt.Fprintf(os.Stdout, "Verdict:  %s\n", res.Verdict)
	fmt.Fprintf(os.Stdout, "State:    %s\n", res.State)
	if res.Reason != "" {
		fmt.Fprintf(os.Stdout, "Reason:   %s\n", res.Reason)
	}
	if res.Detail != "" {
		fmt.Fprintf(os.Stdout, "Detail:   %s\n", res.Detail)
	}
	if len(res.PolicyIDs) > 0 {
		fmt.Fprintf(os.Stdout, "Policies: %s\n", strings.Join(res.PolicyIDs, ", "))
	}
	if res.RequiredApprovals > 0 {
		fmt.Fprintf(os.Stdout, "Approvals: %d of %d", res.ApprovalsRecorded, res.RequiredApprovals)
		if res.ApprovalExpiresAt != nil {
			fmt.Fprintf(os.Stdout, " (window closes %s)", res.ApprovalExpiresAt.Format("2006-01-02 15:04:05 MST"))
		}
		fmt.Fprintln(os.Stdout)
	}
	return nil
}
