package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"omc/internal/monitor"
	"omc/internal/tracker"
)

func newMonitorCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve the status dashboard and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = loadConfig().MonitorAddr
			}
			ctx, cancel := signalContext()
			defer cancel()
			fmt.Printf("serving %s and %s on %s\n", cyan("/status"), cyan("/metrics"), bold(addr))
			return monitor.New(cwd).Start(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

func newReplayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Inspect a session's replay stream",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Digest the stream: tool totals, bottlenecks, cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			summary, err := tracker.ReadSummary(cwd, flagSession)
			if err != nil {
				return err
			}

			fmt.Println(bold("replay summary"))
			printKV("events", summary.EventCount)
			if summary.CycleCount > 0 {
				printKV("cycle", fmt.Sprintf("%s ×%d", red(summary.CyclePattern), summary.CycleCount))
			}

			tools := make([]string, 0, len(summary.ToolTotals))
			for tool := range summary.ToolTotals {
				tools = append(tools, tool)
			}
			sort.Strings(tools)
			for _, tool := range tools {
				printKV(tool, summary.ToolTotals[tool])
			}

			for _, b := range summary.Bottlenecks {
				fmt.Printf("  %s %s/%s avg %dms over %d calls\n",
					yellow("slow:"), b.AgentID, b.Tool, b.AvgMs, b.Count)
			}
			for _, f := range summary.FilesTouched {
				fmt.Printf("  %s %s\n", gray("touched:"), f)
			}
			return nil
		},
	})
	return cmd
}
