// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command orchestrator is the Autonomous Firewall Orchestrator's daemon and
// control CLI: "run" wires up and serves the daemon in the foreground,
// "start"/"stop"/"reload" manage it as a background process, and the
// remaining subcommands talk to a running daemon over its local control
// socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Autonomous Firewall Orchestrator",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the orchestrator daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context(), configFile)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the orchestrator daemon in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(configFile)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stop the running orchestrator daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop()
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "reload the running orchestrator daemon's configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(configFile)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the daemon's current status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context())
	},
}

var proposeCmd = &cobra.Command{
	Use:   "propose <rule.json>",
	Short: "submit a policy rule as a proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPropose(cmd.Context(), args[0])
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <proposal-id>",
	Short: "approve a pending proposal and deploy it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApprove(cmd.Context(), args[0])
	},
}

var rejectReason string

var rejectCmd = &cobra.Command{
	Use:   "reject <proposal-id>",
	Short: "reject a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReject(cmd.Context(), args[0], rejectReason)
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit <deployment-id>",
	Short: "commit a deployment out of probation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommit(cmd.Context(), args[0])
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <deployment-id>",
	Short: "roll back a deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRollback(cmd.Context(), args[0])
	},
}

var autonomyCmd = &cobra.Command{
	Use:   "autonomy <monitor|cautious|aggressive>",
	Short: "set the daemon's autonomy level",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetAutonomyLevel(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to the orchestrator's HCL configuration file")
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "reason recorded in the rejection's audit entry")

	rootCmd.AddCommand(runCmd, startCmd, stopCmd, reloadCmd, statusCmd,
		proposeCmd, approveCmd, rejectCmd, commitCmd, rollbackCmd, autonomyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
