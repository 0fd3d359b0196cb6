package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"omc/internal/hookio"
)

// newHookCommand wires the host CLI lifecycle hooks. Each subcommand reads
// one JSON payload from stdin and writes one decision to stdout; they always
// exit zero so a broken hook can never wedge the host.
func newHookCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hook",
		Short:  "Host lifecycle hook entrypoints (read stdin, write stdout)",
		Hidden: true,
	}

	handlers := []struct {
		use     string
		short   string
		handler func(*hookio.Input) hookio.Output
	}{
		{"stop", "Stop-event enforcement", hookio.HandleStopEvent},
		{"subagent-start", "Register a spawned subagent", hookio.HandleSubagentStart},
		{"subagent-stop", "Close a subagent record", hookio.HandleSubagentStop},
		{"pre-tool", "Log a tool invocation start", hookio.HandlePreTool},
		{"post-tool", "Record a tool outcome", hookio.HandlePostTool},
	}
	for _, h := range handlers {
		handler := h.handler
		cmd.AddCommand(&cobra.Command{
			Use:   h.use,
			Short: h.short,
			Run: func(cmd *cobra.Command, args []string) {
				hookio.Run(os.Stdin, os.Stdout, handler)
			},
		})
	}
	cmd.AddCommand(newHookInstallCommand())
	return cmd
}

// hookBinding maps one host lifecycle event to its omc entrypoint.
type hookBinding struct {
	Event   string `yaml:"event"`
	Command string `yaml:"command"`
}

// newHookInstallCommand writes the hook-binding manifest the host CLI is
// pointed at. With --stdout the manifest is printed instead.
func newHookInstallCommand() *cobra.Command {
	var toStdout bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write the host hook bindings to .omc/hooks.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := os.Executable()
			if err != nil {
				bin = "omc"
			}
			bindings := []hookBinding{
				{Event: "stop", Command: bin + " hook stop"},
				{Event: "subagent_start", Command: bin + " hook subagent-start"},
				{Event: "subagent_stop", Command: bin + " hook subagent-stop"},
				{Event: "pre_tool_use", Command: bin + " hook pre-tool"},
				{Event: "post_tool_use", Command: bin + " hook post-tool"},
			}
			data, err := yaml.Marshal(map[string]any{"hooks": bindings})
			if err != nil {
				return err
			}
			if toStdout {
				fmt.Print(string(data))
				return nil
			}

			cwd, err := workingDir()
			if err != nil {
				return err
			}
			path := filepath.Join(cwd, ".omc", "hooks.yaml")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Println(green("wrote " + path))
			return nil
		},
	}
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "Print the manifest instead of writing it")
	return cmd
}
