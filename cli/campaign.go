package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Create, inspect, and patch campaigns via the /v2 API",
}

var campaignCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new top-level campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := readJSONFlag(cmd, "spec")
		if err != nil {
			return err
		}
		req := map[string]interface{}{"name": args[0], "spec": spec}
		var out interface{}
		if err := newAPIClient().do("POST", "/v2/campaigns", req, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var campaignGetCmd = &cobra.Command{
	Use:   "get NAME_OR_ID",
	Short: "Fetch a campaign by name or id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out interface{}
		if err := newAPIClient().do("GET", "/v2/campaigns/"+args[0], nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every campaign",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out interface{}
		if err := newAPIClient().do("GET", "/v2/campaigns", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var campaignPatchCmd = &cobra.Command{
	Use:   "patch NAME_OR_ID",
	Short: "Merge-patch a campaign's spec/metadata, or move its status",
	Long: `patch applies a JSON merge-patch document (--merge) to the campaign's
spec/metadata, status included: pass --status to request a target status
(e.g. ready, running, paused, accepted, rejected) and the API derives and
fires the corresponding §4.3 trigger.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := readJSONFlag(cmd, "merge")
		if err != nil {
			return err
		}
		if status, _ := cmd.Flags().GetString("status"); status != "" {
			req["status"] = status
		}
		var out interface{}
		if err := newAPIClient().mergePatch("/v2/campaigns/"+args[0], req, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	campaignCreateCmd.Flags().String("spec", "{}", "campaign spec document, as a JSON string")
	campaignPatchCmd.Flags().String("merge", "{}", "JSON merge-patch document")
	campaignPatchCmd.Flags().String("status", "", "target status to move the campaign to, e.g. running or paused")

	campaignCmd.AddCommand(campaignCreateCmd, campaignGetCmd, campaignListCmd, campaignPatchCmd)
}

// readJSONFlag parses the named string flag as a JSON object, defaulting
// to an empty object if the flag is unset.
func readJSONFlag(cmd *cobra.Command, name string) (map[string]interface{}, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		raw = "{}"
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("campaignctl: --%s must be a JSON object: %w", name, err)
	}
	return out, nil
}
