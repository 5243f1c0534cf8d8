package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/healthgate/config"
	"github.com/angeloszaimis/healthgate/pkg/logger"
)

var checkCmd = &cobra.Command{
	Use:        "check <service>",
	Args:       cobra.ExactArgs(1),
	ArgAliases: []string{"service"},
	Short:      "Probe one service and print the result",
	Long:       "Runs a single health probe against the named service and prints it as JSON. Exits non-zero unless the service is UP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newCLIApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.monitor.CheckNow(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if err := printJSON(cmd, result); err != nil {
			return err
		}

		if !result.Outcome.IsUp() {
			return fmt.Errorf("service %s is %s", result.Name, result.Outcome)
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Probe every service once and print the status table",
	Long:  "Runs one full sweep and prints the resulting status table as JSON. Exits non-zero if any service is not UP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newCLIApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		a.coordinator.RunSweep(cmd.Context())

		snapshot := a.monitor.AllStatus()
		if err := printJSON(cmd, snapshot); err != nil {
			return err
		}

		var down []string
		for name, entry := range snapshot {
			if !entry.Outcome.IsUp() {
				down = append(down, name)
			}
		}
		if len(down) > 0 {
			sort.Strings(down)
			return fmt.Errorf("services not up: %v", down)
		}
		return nil
	},
}

// newCLIApp builds the app for one-shot commands. Logs go to stderr so
// stdout stays valid JSON.
func newCLIApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		return nil, err
	}

	log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, false, cfg.Server.Environment)
	// One-shot runs publish nowhere but the log.
	cfg.Events.Redis.Enabled = false

	return newApp(cmd.Context(), cfg, log)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
