package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"omc/internal/config"
)

// Color helpers shared by the human-facing subcommands.
var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var (
	flagCwd     string
	flagSession string
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "omc",
		Short: "Workflow coordination layer for AI coding sessions",
		Long: "omc coordinates autonomous coding workflows: persistent work modes,\n" +
			"a shared task pool for parallel workers, subagent telemetry, and the\n" +
			"stop-event enforcement that keeps sessions running to completion.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagCwd, "cwd", "", "Working directory (default: current)")
	root.PersistentFlags().StringVarP(&flagSession, "session", "s", os.Getenv("OMC_SESSION_ID"), "Session id")

	root.AddCommand(newHookCommand())
	root.AddCommand(newRalphCommand())
	root.AddCommand(newUltraworkCommand())
	root.AddCommand(newAutopilotCommand())
	root.AddCommand(newSwarmCommand())
	root.AddCommand(newReplayCommand())
	root.AddCommand(newMonitorCommand())

	return root
}

func workingDir() (string, error) {
	if flagCwd != "" {
		return flagCwd, nil
	}
	return os.Getwd()
}

func loadConfig() *config.Config {
	return config.Load()
}

// signalContext cancels on SIGINT/SIGTERM; long-running commands use it.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printKV(key string, value any) {
	fmt.Printf("  %s %v\n", gray(key+":"), value)
}
