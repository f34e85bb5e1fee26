package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var triggerReaperCmd = &cobra.Command{
	Use:   "trigger-reaper",
	Short: "Reap expired accounts now instead of waiting for the next scheduled run",
	Run: func(cmd *cobra.Command, args []string) {
		respBody, err := apiPost("/api/v1/trigger-reaper", "application/json", nil)
		checkFatalError(err)
		fmt.Print(string(respBody))
	},
}

var triggerOrphanCleanupCmd = &cobra.Command{
	Use:   "trigger-orphan-cleanup",
	Short: "Sweep orphaned devices off all active servers now",
	Run: func(cmd *cobra.Command, args []string) {
		respBody, err := apiPost("/api/v1/trigger-orphan-cleanup", "application/json", nil)
		checkFatalError(err)
		fmt.Print(string(respBody))
	},
}

var triggerDeviceLimitsCmd = &cobra.Command{
	Use:   "trigger-device-limits",
	Short: "Enforce per-plan device limits on all active servers now",
	Run: func(cmd *cobra.Command, args []string) {
		respBody, err := apiPost("/api/v1/trigger-device-limits", "application/json", nil)
		checkFatalError(err)
		fmt.Print(string(respBody))
	},
}

var triggerStatusReportCmd = &cobra.Command{
	Use:   "trigger-status-report",
	Short: "Send a server status report to the configured notification channel now",
	Run: func(cmd *cobra.Command, args []string) {
		respBody, err := apiPost("/api/v1/trigger-status-report", "application/json", nil)
		checkFatalError(err)
		fmt.Print(string(respBody))
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-server occupancy stats",
	Run: func(cmd *cobra.Command, args []string) {
		respBody, err := apiGet("/internal/api/v1/stats")
		checkFatalError(err)
		fmt.Print(string(respBody))
	},
}

func init() {
	rootCmd.AddCommand(triggerReaperCmd)
	rootCmd.AddCommand(triggerOrphanCleanupCmd)
	rootCmd.AddCommand(triggerDeviceLimitsCmd)
	rootCmd.AddCommand(triggerStatusReportCmd)
	rootCmd.AddCommand(statsCmd)
}
