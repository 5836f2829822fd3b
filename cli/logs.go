package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cm.lsst.io/activitylog"
	"cm.lsst.io/config"
	"cm.lsst.io/model"
	"cm.lsst.io/store"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Follow a campaign's activity log",
}

var logsTailCmd = &cobra.Command{
	Use:   "tail NAMESPACE",
	Short: "Stream a namespace's activity log in real time",
	Long: `tail connects directly to Postgres — not through the /v2 API — and
subscribes via activitylog.Tailer's LISTEN/NOTIFY loop, printing one JSON
line per entry as it's appended (§3's durable audit channel).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace, err := uuid.Parse(args[0])
		if err != nil {
			return err
		}
		log := newLogger()

		dbCfg := config.LoadDatabaseConfig("CAMPAIGNCTL")
		if url := viper.GetString("db-url"); url != "" {
			dbCfg.URL = url
		}

		ctx := cmd.Context()
		st, err := store.New(ctx, dbCfg.URL)
		if err != nil {
			return fmt.Errorf("campaignctl: connect database: %w", err)
		}
		defer st.Close()

		tailer := activitylog.NewTailer(st, st.Pool(), log)
		enc := json.NewEncoder(os.Stdout)
		return tailer.Tail(ctx, namespace, func(entry *model.ActivityLog) {
			enc.Encode(entry)
		})
	},
}

func init() {
	logsCmd.AddCommand(logsTailCmd)
}
