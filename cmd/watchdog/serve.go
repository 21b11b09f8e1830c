// Package main provides the watchdog CLI application.
package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cicd-ai-toolkit/watchdog/pkg/events"
	"github.com/cicd-ai-toolkit/watchdog/pkg/lifecycle"
	"github.com/cicd-ai-toolkit/watchdog/pkg/listener"
	"github.com/cicd-ai-toolkit/watchdog/pkg/observability"
	"github.com/cicd-ai-toolkit/watchdog/pkg/platform"
	"github.com/cicd-ai-toolkit/watchdog/pkg/webhook"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive Jenkins build notifications and report completed builds",
	Long: `Serve listens for Jenkins Notification plugin callbacks on
POST /hooks/jenkins and reports every completed build of a job that has a
watchdog publisher. It also serves the admin configuration endpoints,
which require --admin-token (sent as "Authorization: Bearer <token>")
unless --no-admin is given.

Environment:
  WATCHDOG_HOOK_TOKEN     shared token expected in X-Watchdog-Token
  WATCHDOG_ADMIN_TOKEN    bearer token for the admin endpoints
  WATCHDOG_JENKINS_URL    Jenkins base URL used to look up builds
  WATCHDOG_JENKINS_USER   Jenkins user
  WATCHDOG_JENKINS_TOKEN  Jenkins API token`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// serveFlags holds the flags for the serve command
type serveFlags struct {
	addr         string
	hookToken    string
	adminToken   string
	jenkinsURL   string
	jenkinsUser  string
	jenkinsToken string
	dedupWindow  time.Duration
	noAdmin      bool
}

var serveOpts serveFlags

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveOpts.addr, "addr", webhook.DefaultAddr, "listen address")
	serveCmd.Flags().StringVar(&serveOpts.hookToken, "hook-token", "", "shared webhook token (default $WATCHDOG_HOOK_TOKEN)")
	serveCmd.Flags().StringVar(&serveOpts.adminToken, "admin-token", "", "bearer token for the admin endpoints (default $WATCHDOG_ADMIN_TOKEN)")
	serveCmd.Flags().StringVar(&serveOpts.jenkinsURL, "jenkins-url", "", "Jenkins base URL for build lookups (default $WATCHDOG_JENKINS_URL)")
	serveCmd.Flags().StringVar(&serveOpts.jenkinsUser, "jenkins-user", "", "Jenkins user (default $WATCHDOG_JENKINS_USER)")
	serveCmd.Flags().StringVar(&serveOpts.jenkinsToken, "jenkins-token", "", "Jenkins API token (default $WATCHDOG_JENKINS_TOKEN)")
	serveCmd.Flags().DurationVar(&serveOpts.dedupWindow, "dedup-window", listener.DefaultDedupWindow, "ignore repeated completions of a build for this long")
	serveCmd.Flags().BoolVar(&serveOpts.noAdmin, "no-admin", false, "do not serve the admin configuration endpoints")
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := loadStore(false)
	if err != nil {
		return err
	}
	log := newLogger(cmd, store.Settings())

	var admin *webhook.Admin
	if !serveOpts.noAdmin {
		admin, err = webhook.NewAdmin(store, log, flagOrEnv(serveOpts.adminToken, "WATCHDOG_ADMIN_TOKEN"))
		if err != nil {
			return fmt.Errorf("%w: set --admin-token or $WATCHDOG_ADMIN_TOKEN, or pass --no-admin", err)
		}
	}

	metrics := observability.NewMetrics(0)
	bus := events.NewBus(log)
	listener.New(store, log, listener.Options{
		DedupWindow: serveOpts.dedupWindow,
		Metrics:     metrics,
	}).Register(bus)

	opts := webhook.HandlerOptions{Token: flagOrEnv(serveOpts.hookToken, "WATCHDOG_HOOK_TOKEN")}
	jenkinsTimeout := store.Settings().Global.Timeout
	if jenkinsURL := flagOrEnv(serveOpts.jenkinsURL, "WATCHDOG_JENKINS_URL"); jenkinsURL != "" {
		client, err := platform.NewJenkinsClient(
			jenkinsURL,
			flagOrEnv(serveOpts.jenkinsUser, "WATCHDOG_JENKINS_USER"),
			flagOrEnv(serveOpts.jenkinsToken, "WATCHDOG_JENKINS_TOKEN"),
			jenkinsTimeout,
		)
		if err != nil {
			return fmt.Errorf("failed to create Jenkins client: %w", err)
		}
		opts.Builds = client
	}

	if store.Settings().Global.APIURL == "" {
		log.Warn("no report endpoint configured, builds will not be reported until one is set")
	}
	log.Info("configuration loaded",
		observability.String("path", store.Path()),
		observability.Int("jobs", len(store.Jobs())),
	)

	ctx, cancel := lifecycle.WithSignal(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mux := webhook.NewMux(webhook.NewHandler(store, bus, log, opts), admin, metrics)
	server := webhook.NewServer(serveOpts.addr, mux, log).WithDrainTimeout(func() time.Duration {
		return webhook.DrainTimeout(max(jenkinsTimeout, store.Settings().Global.Timeout))
	})
	err = server.Run(ctx)
	if sig, ok := lifecycle.Signal(ctx); ok {
		log.Info("shutting down", observability.String("signal", sig.String()))
	}
	return err
}
