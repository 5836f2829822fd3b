// Package cli implements campaignctl (§6 component K): the operator-facing
// Cobra/Viper command tree over the campaign manager core. Grounded on the
// teacher's cli.RootCmd (cobra.Command tree, viper binding, config file
// discovery under $HOME and the working directory, PORT/--port-style flag
// plumbing); generalized here from a single "eve serve" bootstrap into a
// command tree with a server half (serve) and a client half (campaign/
// node/rpc/logs) that talks to serve's HTTP API.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// RootCmd is campaignctl's entry point.
var RootCmd = &cobra.Command{
	Use:   "campaignctl",
	Short: "Operate a large batch science pipeline campaign manager",
	Long: `campaignctl runs the campaign manager daemon (serve) and drives it
remotely (campaign, node, rpc, logs) over its /v2 HTTP API.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.campaignctl.yaml)")
	RootCmd.PersistentFlags().String("api-url", "http://localhost:8080", "base URL of a running campaignctl serve instance")
	RootCmd.PersistentFlags().String("token", "", "bearer token for /v2 API requests")
	RootCmd.PersistentFlags().String("operator", "cli", "operator name recorded on activity log entries this invocation produces")
	RootCmd.PersistentFlags().String("log-level", "info", "logrus level: trace, debug, info, warn, error")
	RootCmd.PersistentFlags().String("db-url", "postgres://localhost:5432/campaign_manager?sslmode=disable", "Postgres DSN used by serve and logs tail")

	viper.BindPFlag("api_url", RootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("token", RootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("operator", RootCmd.PersistentFlags().Lookup("operator"))
	viper.BindPFlag("log_level", RootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("db-url", RootCmd.PersistentFlags().Lookup("db-url"))

	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(campaignCmd)
	RootCmd.AddCommand(nodeCmd)
	RootCmd.AddCommand(rpcCmd)
	RootCmd.AddCommand(logsCmd)
}

// initConfig wires Viper's config-file discovery and environment
// overrides, mirroring the teacher's initConfig (home-dir default,
// working-dir fallback, CAMPAIGNCTL_-prefixed env vars).
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".campaignctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("campaignctl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "campaignctl: using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the shared logrus entry every subcommand logs through,
// leveled from the --log-level/CAMPAIGNCTL_LOG_LEVEL setting.
func newLogger() *logrus.Entry {
	log := logrus.New()
	if level, err := logrus.ParseLevel(viper.GetString("log_level")); err == nil {
		log.SetLevel(level)
	}
	return logrus.NewEntry(log)
}
