// Package main provides the watchdog CLI application.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cicd-ai-toolkit/watchdog/pkg/config"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration file",
	Long: `Validate loads the configuration file and runs the admin field checks
over the report endpoint and every watchdog publisher, printing one line per
field. It exits 1 if any check fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolvePath(rootOpts.config)
		f, err := config.LoadFile(path, true)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		failed := 0
		for _, r := range config.Inspect(f) {
			fmt.Fprintf(out, "%s: %s\n", r.Field, r.Result)
			if !r.Result.IsOK() {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%s: %d field(s) failed validation", path, failed)
		}
		fmt.Fprintf(out, "%s is valid\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
