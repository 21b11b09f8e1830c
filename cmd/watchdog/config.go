// Package main provides the watchdog CLI application.
package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cicd-ai-toolkit/watchdog/pkg/config"
)

// configCmd groups the configuration subcommands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStore(false)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(store.File().Masked())
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", store.Path(), out)
		return nil
	},
}

var configSetURLCmd = &cobra.Command{
	Use:   "set-url <api-url>",
	Short: "Validate and save the report endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStore(false)
		if err != nil {
			return err
		}
		next := store.Settings().Clone()
		next.Global.APIURL = args[0]
		if err := store.UpdateSettings(next); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "report endpoint saved to %s\n", store.Path())
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check <field> <value>",
	Short: "Run one field validator (apiUrl, microServiceId, signature)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := config.CheckField(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result)
		if !result.IsOK() {
			return fmt.Errorf("%s is invalid", args[0])
		}
		return nil
	},
}

var configJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List configured jobs and the notifier each one would use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStore(false)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"Job", "MicroServiceID", "Valid", "Steps"})
		for _, name := range store.Jobs() {
			steps, _ := store.Publishers(name)
			kinds := make([]string, 0, len(steps))
			for _, step := range steps {
				kinds = append(kinds, step.Kind())
			}

			id, valid := "-", "no notifier"
			if step, ok := steps.First(config.CapabilityNotifier); ok {
				if n, ok := step.(config.Notifier); ok {
					id = n.Notifier().MicroServiceID
					valid = "yes"
					if err := n.Notifier().Validate(); err != nil {
						valid = err.Error()
					}
				}
			}
			t.AppendRow(table.Row{name, id, valid, strings.Join(kinds, ", ")})
		}
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetURLCmd, configCheckCmd, configJobsCmd)
}
