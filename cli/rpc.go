package cli

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rpcCmd = &cobra.Command{
	Use:   "rpc",
	Short: "Invoke the manual process RPC",
}

var rpcProcessCmd = &cobra.Command{
	Use:   "process NAMESPACE NODE_ID",
	Short: "Drive exactly one transition on one node, bypassing the task queue (§4.5)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace, err := uuid.Parse(args[0])
		if err != nil {
			return err
		}
		nodeID, err := uuid.Parse(args[1])
		if err != nil {
			return err
		}
		req := map[string]interface{}{
			"namespace": namespace,
			"node":      nodeID,
			"operator":  viper.GetString("operator"),
		}
		var out interface{}
		if err := newAPIClient().do("POST", "/v2/rpc/process", req, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	rpcCmd.AddCommand(rpcProcessCmd)
}
