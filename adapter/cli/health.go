package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show engine health",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return errors.New("app not initialized")
		}
		report := app.Checker.GetHealthReport()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), report)
		}
		newRenderer(cmd.OutOrStdout()).Health(report)
		return nil
	},
}

var healthResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget recorded engine failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return errors.New("app not initialized")
		}
		app.Checker.ResetHealthMonitoring()
		fmt.Fprintln(cmd.OutOrStdout(), "Health monitoring reset.")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show check, cache and engine statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return errors.New("app not initialized")
		}
		stats := app.Checker.GetStats(cmd.Context())
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		newRenderer(cmd.OutOrStdout()).Stats(stats)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engines, module and cache state",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return errors.New("app not initialized")
		}
		status := app.Checker.GetSystemStatus(cmd.Context())
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), status)
		}
		newRenderer(cmd.OutOrStdout()).Status(status)
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached result",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return errors.New("app not initialized")
		}
		if err := app.Checker.ClearCache(cmd.Context()); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
		return nil
	},
}

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Manage the analysis module",
}

var moduleResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the analysis module and load it again",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return errors.New("app not initialized")
		}
		status, err := app.Checker.ResetModule(cmd.Context())
		if jsonOutput {
			if perr := printJSON(cmd.OutOrStdout(), status); perr != nil {
				return perr
			}
		}
		if err != nil {
			return fmt.Errorf("failed to reload module: %w", err)
		}
		if !jsonOutput {
			fmt.Fprintf(cmd.OutOrStdout(), "Module %s via %s.\n", status.State, status.Strategy)
		}
		return nil
	},
}

func init() {
	healthCmd.AddCommand(healthResetCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	moduleCmd.AddCommand(moduleResetCmd)

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(moduleCmd)
}
