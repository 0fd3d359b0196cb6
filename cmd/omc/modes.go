package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"omc/internal/modes"
	"omc/internal/modes/autopilot"
	"omc/internal/modes/ralph"
	"omc/internal/modes/ultrawork"
)

func newRalphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ralph",
		Short: "Self-referential iteration loop",
	}

	var maxIterations int
	var linkUltrawork, prdMode bool
	start := &cobra.Command{
		Use:   "start [prompt...]",
		Short: "Start a Ralph loop for the session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			err = ralph.Start(cwd, flagSession, ralph.StartOptions{
				Prompt:        strings.Join(args, " "),
				MaxIterations: maxIterations,
				LinkUltrawork: linkUltrawork,
				PRDMode:       prdMode,
			})
			if err != nil {
				return err
			}
			fmt.Println(green("ralph loop started"))
			return nil
		},
	}
	start.Flags().IntVar(&maxIterations, "max-iterations", 0, "Iteration cap (default 50)")
	start.Flags().BoolVar(&linkUltrawork, "ultrawork", false, "Also activate linked Ultrawork")
	start.Flags().BoolVar(&prdMode, "prd", false, "Drive iterations from prd.json stories")
	cmd.AddCommand(start)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel",
		Short: "Cancel the loop and its linked records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			if err := ralph.Cancel(cwd, flagSession); err != nil {
				return err
			}
			fmt.Println(yellow("ralph loop cancelled"))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show loop state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			doc, found, err := modes.LoadRalph(cwd, flagSession)
			if err != nil {
				return err
			}
			if !found {
				fmt.Println(gray("no ralph loop active"))
				return nil
			}
			fmt.Println(bold("ralph"))
			printKV("iteration", fmt.Sprintf("%d/%d", doc.State.Iteration, doc.State.MaxIterations))
			printKV("prompt", doc.State.OriginalPrompt)
			printKV("linked ultrawork", doc.State.LinkedUltrawork)
			if doc.State.PRDMode {
				printKV("current story", doc.State.CurrentStoryID)
			}
			return nil
		},
	})
	return cmd
}

func newUltraworkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ultrawork",
		Short: "Unconditional persistence mode",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start [prompt...]",
		Short: "Activate persistence for the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			if err := ultrawork.Start(cwd, flagSession, strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Println(green("ultrawork active"))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Deactivate persistence",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			if err := ultrawork.Stop(cwd, flagSession); err != nil {
				return err
			}
			fmt.Println(yellow("ultrawork stopped"))
			return nil
		},
	})
	return cmd
}

func newAutopilotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Idea-to-validated-code pipeline",
	}

	var maxIterations int
	start := &cobra.Command{
		Use:   "start [idea...]",
		Short: "Start the five-phase pipeline from an idea",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			err = autopilot.Start(cwd, flagSession, autopilot.StartOptions{
				Idea:          strings.Join(args, " "),
				MaxIterations: maxIterations,
			})
			if err != nil {
				return err
			}
			fmt.Println(green("autopilot started in expansion phase"))
			return nil
		},
	}
	start.Flags().IntVar(&maxIterations, "max-iterations", 0, "Global iteration cap (default 10)")
	cmd.AddCommand(start)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel",
		Short: "Abandon the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			if err := autopilot.Cancel(cwd, flagSession); err != nil {
				return err
			}
			fmt.Println(yellow("autopilot cancelled"))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show pipeline state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := workingDir()
			if err != nil {
				return err
			}
			doc, found, err := modes.LoadAutopilot(cwd, flagSession)
			if err != nil {
				return err
			}
			if !found {
				fmt.Println(gray("no autopilot pipeline active"))
				return nil
			}
			st := doc.State
			fmt.Println(bold("autopilot"))
			printKV("phase", phaseColored(st.Phase))
			printKV("iteration", fmt.Sprintf("%d/%d", st.Iteration, st.MaxIterations))
			printKV("idea", st.OriginalIdea)
			if st.Validation != nil {
				printKV("validation round", fmt.Sprintf("%d/%d", st.Validation.Round, st.Validation.MaxRounds))
				for typ, v := range st.Validation.Verdicts {
					printKV("  "+typ, string(v))
				}
			}
			if st.Phase == modes.PhaseFailed {
				fmt.Print(red(autopilot.FailureSummary(&st)))
			}
			return nil
		},
	})
	return cmd
}

func phaseColored(p modes.Phase) string {
	switch p {
	case modes.PhaseComplete:
		return green(string(p))
	case modes.PhaseFailed:
		return red(string(p))
	default:
		return cyan(string(p))
	}
}
