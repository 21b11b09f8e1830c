// Package main provides the watchdog CLI application.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cicd-ai-toolkit/watchdog/pkg/build"
	"github.com/cicd-ai-toolkit/watchdog/pkg/delivery"
	"github.com/cicd-ai-toolkit/watchdog/pkg/errors"
	"github.com/cicd-ai-toolkit/watchdog/pkg/events"
	"github.com/cicd-ai-toolkit/watchdog/pkg/listener"
	"github.com/cicd-ai-toolkit/watchdog/pkg/observability"
	"github.com/cicd-ai-toolkit/watchdog/pkg/platform"
)

// notifyCmd represents the notify command
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Report one finished build",
	Long: `Notify reports a single finished build, typically from the last step
of a pipeline. The build is read from Jenkins when --jenkins-url (or
$WATCHDOG_JENKINS_URL) is set, otherwise it is described by flags.

The exit status is 0 whatever the delivery outcome, so a reporting problem
never fails the pipeline; pass --strict to exit 1 when nothing was delivered.`,
	Args: cobra.NoArgs,
	RunE: runNotify,
}

// notifyFlags holds the flags for the notify command
type notifyFlags struct {
	job            string
	number         int
	status         string
	previousStatus string
	summary        string
	duration       time.Duration
	displayName    string
	url            string
	jenkinsURL     string
	jenkinsUser    string
	jenkinsToken   string
	strict         bool
}

var notifyOpts notifyFlags

func init() {
	rootCmd.AddCommand(notifyCmd)

	notifyCmd.Flags().StringVar(&notifyOpts.job, "job", "", "job path, e.g. team/deploy-service")
	notifyCmd.Flags().IntVar(&notifyOpts.number, "number", 0, "build number (0 selects the last completed build in Jenkins)")
	notifyCmd.Flags().StringVar(&notifyOpts.status, "status", "", "terminal status: SUCCESS, UNSTABLE, FAILURE, NOT_BUILT, ABORTED")
	notifyCmd.Flags().StringVar(&notifyOpts.previousStatus, "previous-status", "", "status of the previous build")
	notifyCmd.Flags().StringVar(&notifyOpts.summary, "summary", "", "status summary sent as context, derived when empty")
	notifyCmd.Flags().DurationVar(&notifyOpts.duration, "duration", 0, "build duration, e.g. 4.5s")
	notifyCmd.Flags().StringVar(&notifyOpts.displayName, "display-name", "", "full display name, default \"<job> #<number>\"")
	notifyCmd.Flags().StringVar(&notifyOpts.url, "url", "", "absolute URL of the build page")
	notifyCmd.Flags().StringVar(&notifyOpts.jenkinsURL, "jenkins-url", "", "read the build from this Jenkins (default $WATCHDOG_JENKINS_URL)")
	notifyCmd.Flags().StringVar(&notifyOpts.jenkinsUser, "jenkins-user", "", "Jenkins user (default $WATCHDOG_JENKINS_USER)")
	notifyCmd.Flags().StringVar(&notifyOpts.jenkinsToken, "jenkins-token", "", "Jenkins API token (default $WATCHDOG_JENKINS_TOKEN)")
	notifyCmd.Flags().BoolVar(&notifyOpts.strict, "strict", false, "exit 1 unless the report was delivered")
	_ = notifyCmd.MarkFlagRequired("job")
}

func runNotify(cmd *cobra.Command, args []string) error {
	store, err := loadStore(false)
	if err != nil {
		return err
	}
	settings := store.Settings()
	log := newLogger(cmd, settings)
	ctx := cmd.Context()

	b, err := resolveBuild(ctx, settings.Global.Timeout)
	if err != nil {
		return err
	}

	steps, _ := store.Publishers(b.Job)
	l := listener.New(store, log, listener.Options{DedupWindow: -1})
	res := l.Handle(ctx, &events.Event{
		Type:       events.EventCompleted,
		Timestamp:  time.Now(),
		Build:      b,
		Publishers: steps,
		Console:    build.NewConsole(cmd.OutOrStdout()),
	})

	fields := []observability.Field{
		observability.String("build", b.Key()),
		observability.Stringer("outcome", res.Outcome),
	}
	if typ, ok := errors.TypeOf(res.Err); ok {
		fields = append(fields, observability.Stringer("error_type", typ))
	}
	log.Debug("notify finished", fields...)
	if notifyOpts.strict && res.Outcome != delivery.Delivered {
		if res.Err != nil {
			return fmt.Errorf("build report not delivered: %w", res.Err)
		}
		return fmt.Errorf("build report not delivered: %s", res.Outcome)
	}
	return nil
}

func resolveBuild(ctx context.Context, timeout time.Duration) (*build.Build, error) {
	if jenkinsURL := flagOrEnv(notifyOpts.jenkinsURL, "WATCHDOG_JENKINS_URL"); jenkinsURL != "" {
		client, err := platform.NewJenkinsClient(
			jenkinsURL,
			flagOrEnv(notifyOpts.jenkinsUser, "WATCHDOG_JENKINS_USER"),
			flagOrEnv(notifyOpts.jenkinsToken, "WATCHDOG_JENKINS_TOKEN"),
			timeout,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Jenkins client: %w", err)
		}
		b, err := client.GetBuild(ctx, notifyOpts.job, notifyOpts.number)
		if err != nil {
			return nil, fmt.Errorf("failed to read build from Jenkins: %w", err)
		}
		if notifyOpts.summary != "" {
			b.StatusSummary = notifyOpts.summary
		}
		return b, nil
	}

	if notifyOpts.number <= 0 {
		return nil, fmt.Errorf("--number is required without --jenkins-url")
	}
	return &build.Build{
		Job:             notifyOpts.job,
		Number:          notifyOpts.number,
		Status:          build.ParseStatus(notifyOpts.status),
		PreviousStatus:  build.ParseStatus(notifyOpts.previousStatus),
		Duration:        notifyOpts.duration,
		FullDisplayName: notifyOpts.displayName,
		AbsoluteURL:     notifyOpts.url,
		StatusSummary:   notifyOpts.summary,
	}, nil
}
