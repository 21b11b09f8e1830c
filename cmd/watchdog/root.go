// Package main provides the watchdog CLI application.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cicd-ai-toolkit/watchdog/pkg/config"
	"github.com/cicd-ai-toolkit/watchdog/pkg/observability"
	"github.com/cicd-ai-toolkit/watchdog/pkg/version"
)

const defaultEnvFile = ".env"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Build result notifier",
	Long: `watchdog pushes the result of every finished CI build to a reporting
endpoint as a JSON report, optionally through the host proxy.

Run "watchdog serve" to receive Jenkins build notifications, or
"watchdog notify" from a pipeline step to report a single build.`,
	Version:           version.FullString(),
	SilenceUsage:      true,
	PersistentPreRunE: loadEnvFile,
}

// rootFlags holds the flags shared by every command
type rootFlags struct {
	config    string
	envFile   string
	logLevel  string
	logFormat string
}

var rootOpts rootFlags

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootOpts.config, "config", "c", "", "config file (default is $WATCHDOG_CONFIG or ./watchdog.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootOpts.envFile, "env-file", defaultEnvFile, "dotenv file loaded before the configuration")
	rootCmd.PersistentFlags().StringVar(&rootOpts.logLevel, "log-level", "", "operator log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&rootOpts.logFormat, "log-format", "", "operator log format: json or text")
}

// loadEnvFile reads the dotenv file into the process environment. Variables
// already set win. A missing default file is not an error.
func loadEnvFile(cmd *cobra.Command, args []string) error {
	if rootOpts.envFile == "" {
		return nil
	}
	err := godotenv.Load(rootOpts.envFile)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file") {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", rootOpts.envFile, err)
}

// loadStore loads the configuration named by --config.
func loadStore(required bool) (*config.Store, error) {
	path := config.ResolvePath(rootOpts.config)
	store, err := config.Load(path, required)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return store, nil
}

// newLogger builds the operator log from the flags, falling back to the
// loaded settings.
func newLogger(cmd *cobra.Command, settings *config.Settings) observability.Logger {
	level, format := rootOpts.logLevel, rootOpts.logFormat
	if settings != nil {
		if level == "" {
			level = settings.Global.LogLevel
		}
		if format == "" {
			format = settings.Global.LogFormat
		}
	}
	return observability.NewLogger(observability.Options{
		Level:  level,
		Format: format,
		Output: cmd.ErrOrStderr(),
	})
}

// flagOrEnv returns value, or the environment variable key when value is empty.
func flagOrEnv(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}
