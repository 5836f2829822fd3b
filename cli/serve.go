package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	dockerclient "github.com/docker/docker/client"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cm.lsst.io/api"
	"cm.lsst.io/artifacts"
	"cm.lsst.io/butler"
	"cm.lsst.io/config"
	dockerlauncher "cm.lsst.io/launcher/docker"
	remotelauncher "cm.lsst.io/launcher/remote"
	shelllauncher "cm.lsst.io/launcher/shell"
	"cm.lsst.io/node"
	"cm.lsst.io/scheduler"
	"cm.lsst.io/security"
	"cm.lsst.io/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the campaign manager HTTP API and scheduling daemon",
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.Int("port", 8080, "HTTP listen port")
	flags.String("redis-url", "", "Redis URL for the configuration-chain cache (disabled if empty)")
	flags.Duration("config-cache-ttl", 5*time.Minute, "configuration chain cache TTL")
	flags.String("jwt-secret", "", "HMAC secret signing /v2 bearer tokens")
	flags.String("launcher", "shell", "node launcher backend: shell, docker, or remote")
	flags.String("artifact-root", "./artifacts", "artifact working-directory root; an s3:// URL selects S3 storage")
	flags.String("docker-image", "", "image the docker launcher submits scripts into (required if --launcher=docker)")
	flags.String("remote-host", "", "submit host for the remote launcher (required if --launcher=remote)")
	flags.Int("remote-port", 22, "SSH port for the remote launcher")
	flags.String("remote-user", "", "SSH user for the remote launcher")
	flags.String("remote-key-file", "", "SSH private key path for the remote launcher")
	flags.String("remote-dir", "/tmp/campaignctl", "remote directory scripts are copied to before submission")
	flags.String("remote-submit-command", "sh %s", "command template used to submit a copied script")
	flags.Duration("campaign-interval", 5*time.Second, "scheduler consider_campaigns tick interval")
	flags.Duration("node-interval", 1*time.Second, "scheduler consider_nodes tick interval")
	flags.Int("workers", 5, "task rows consider_nodes claims per tick")

	viper.BindPFlags(flags)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg := config.LoadDatabaseConfig("CAMPAIGNCTL")
	if url := viper.GetString("db-url"); url != "" {
		dbCfg.URL = url
	}

	st, err := store.New(ctx, dbCfg.URL)
	if err != nil {
		return fmt.Errorf("campaignctl: connect database: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("campaignctl: migrate schema: %w", err)
	}

	var apiStore api.Store = st
	if redisURL := viper.GetString("redis-url"); redisURL != "" {
		cs, err := store.NewCachingStore(ctx, st, redisURL, viper.GetDuration("config-cache-ttl"))
		if err != nil {
			return fmt.Errorf("campaignctl: connect config cache: %w", err)
		}
		defer cs.Close()
		apiStore = cs
	}

	launcher, err := buildLauncher()
	if err != nil {
		return err
	}
	artifactStore, err := artifacts.New(ctx, viper.GetString("artifact-root"))
	if err != nil {
		return fmt.Errorf("campaignctl: init artifact store: %w", err)
	}

	deps := node.Deps{
		Store:     apiStore,
		Launcher:  launcher,
		Butler:    butler.New(st.Pool()),
		Artifacts: artifactStore,
		Log:       log,
	}

	jwtSecret := viper.GetString("jwt-secret")
	if jwtSecret == "" {
		return fmt.Errorf("campaignctl: --jwt-secret (or CAMPAIGNCTL_JWT_SECRET) is required")
	}
	jwt := security.NewJWTService(jwtSecret)

	daemon := scheduler.New(scheduler.Config{
		CampaignInterval: viper.GetDuration("campaign-interval"),
		NodeInterval:     viper.GetDuration("node-interval"),
		Workers:          viper.GetInt("workers"),
	}, deps)
	if err := daemon.Start(ctx); err != nil {
		return fmt.Errorf("campaignctl: start scheduler: %w", err)
	}
	defer daemon.Stop()

	handlers := api.NewHandlers(apiStore, deps, jwt, log)
	e := echo.New()
	e.HideBanner = true
	api.SetupRoutes(e, handlers)

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	go func() {
		log.WithField("addr", addr).Info("campaignctl: serving")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("campaignctl: server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("campaignctl: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// buildLauncher selects a node.Launcher backend per --launcher, mirroring
// the teacher's pattern of building a real Docker client from the
// environment (common.DockerClient's production constructor) rather than
// hand-rolling one.
func buildLauncher() (node.Launcher, error) {
	switch viper.GetString("launcher") {
	case "shell", "":
		return shelllauncher.New(), nil
	case "docker":
		image := viper.GetString("docker-image")
		if image == "" {
			return nil, fmt.Errorf("campaignctl: --docker-image is required for --launcher=docker")
		}
		cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("campaignctl: create docker client: %w", err)
		}
		return dockerlauncher.New(cli, image), nil
	case "remote":
		host := viper.GetString("remote-host")
		if host == "" {
			return nil, fmt.Errorf("campaignctl: --remote-host is required for --launcher=remote")
		}
		return remotelauncher.New(remotelauncher.Config{
			Host:          host,
			Port:          viper.GetInt("remote-port"),
			User:          viper.GetString("remote-user"),
			KeyFile:       viper.GetString("remote-key-file"),
			RemoteDir:     viper.GetString("remote-dir"),
			SubmitCommand: viper.GetString("remote-submit-command"),
		}), nil
	default:
		return nil, fmt.Errorf("campaignctl: unknown --launcher %q (want shell, docker, or remote)", viper.GetString("launcher"))
	}
}
