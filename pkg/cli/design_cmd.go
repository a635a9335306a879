package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newDesignCmd(client *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "design",
		Short: "Dry-run checks for proposed infrastructure designs",
	}
	cmd.AddCommand(newDesignValidateCmd(client))
	return cmd
}

func newDesignValidateCmd(client *Client) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a design document against scaling limits",
		Long: "Validates a YAML or JSON design document without submitting any " +
			"command. The check is advisory and leaves no ledger trace.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(file) //nolint:gosec // path is user input
			if err != nil {
				return fmt.Errorf("read design file: %w", err)
			}
			body, err := toJSON(raw)
			if err != nil {
				return fmt.Errorf("parse design file: %w", err)
			}

			report, err := client.ValidateDesign(cmd.Context(), body)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, report)
			}

			if report.Allowed {
				fmt.Fprintln(os.Stdout, "Design is within policy limits.")
			} else {
				fmt.Fprintf(os.Stdout, "Design rejected: %s\n", report.Reason)
				for _, id := range report.PolicyIDs {
					fmt.Fprintf(os.Stdout, "  policy: %s\n", id)
				}
			}
			for _, w := range report.Warnings {
				fmt.Fprintf(os.Stdout, "warning: %s\n", w)
			}
			for _, s := range report.Suggestions {
				fmt.Fprintf(os.Stdout, "suggestion: %s\n", s)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the design document (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// toJSON converts a YAML document to JSON; JSON input passes through.
func toJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAML(v))
}

// normalizeYAML rewrites map[interface{}]interface{} trees into
// map[string]interface{} so they can be JSON-encoded.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = normalizeYAML(t[i])
		}
		return t
	default:
		return v
	}
}
