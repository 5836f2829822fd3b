package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect and patch nodes within a campaign's graph",
}

var nodeListCmd = &cobra.Command{
	Use:   "list CAMPAIGN",
	Short: "List every node in a campaign's graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out interface{}
		path := fmt.Sprintf("/v2/campaigns/%s/nodes", args[0])
		if err := newAPIClient().do("GET", path, nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var nodeGetCmd = &cobra.Command{
	Use:   "get CAMPAIGN NODE_ID",
	Short: "Fetch a single node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out interface{}
		path := fmt.Sprintf("/v2/campaigns/%s/nodes/%s", args[0], args[1])
		if err := newAPIClient().do("GET", path, nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var nodePatchCmd = &cobra.Command{
	Use:   "patch CAMPAIGN NODE_ID",
	Short: "Merge-patch a node's configuration/metadata, or move its status",
	Long: `patch applies a JSON merge-patch document (--merge) to the node's
configuration/metadata; pass --status to request a target status (e.g.
ready, running, accepted, rejected, waiting) and the API derives and fires
the corresponding §4.3 node trigger.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := readJSONFlag(cmd, "merge")
		if err != nil {
			return err
		}
		if status, _ := cmd.Flags().GetString("status"); status != "" {
			req["status"] = status
		}
		var out interface{}
		path := fmt.Sprintf("/v2/campaigns/%s/nodes/%s", args[0], args[1])
		if err := newAPIClient().mergePatch(path, req, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	nodePatchCmd.Flags().String("merge", "{}", "JSON merge-patch document")
	nodePatchCmd.Flags().String("status", "", "target status to move the node to, e.g. running or accepted")

	nodeCmd.AddCommand(nodeListCmd, nodeGetCmd, nodePatchCmd)
}
