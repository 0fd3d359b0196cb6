package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"omc/internal/swarm"
)

func newSwarmCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swarm",
		Short: "Shared task pool for parallel workers",
	}
	cmd.AddCommand(newSwarmAddCommand())
	cmd.AddCommand(newSwarmStatusCommand())
	cmd.AddCommand(newSwarmClaimCommand())
	cmd.AddCommand(newSwarmCompleteCommand())
	cmd.AddCommand(newSwarmCleanupCommand())
	cmd.AddCommand(newSwarmResetCommand())
	cmd.AddCommand(newSwarmWorkerCommand())
	cmd.AddCommand(newSwarmSessionCommand())
	return cmd
}

func openPool() (*swarm.Pool, error) {
	cwd, err := workingDir()
	if err != nil {
		return nil, err
	}
	return swarm.Open(cwd)
}

func newSwarmAddCommand() *cobra.Command {
	var priority, wave int
	var patterns []string
	cmd := &cobra.Command{
		Use:   "add [description...]",
		Short: "Add tasks to the pool (one per argument)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			specs := make([]swarm.TaskSpec, len(args))
			for i, desc := range args {
				specs[i] = swarm.TaskSpec{
					Description:  desc,
					Priority:     priority,
					Wave:         wave,
					FilePatterns: patterns,
				}
			}
			ids, err := pool.AddTasks(specs)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(green(id))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "Claim priority (lower first)")
	cmd.Flags().IntVar(&wave, "wave", 1, "Rollout wave")
	cmd.Flags().StringSliceVar(&patterns, "files", nil, "File patterns scoping the tasks")
	return cmd
}

func newSwarmStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pool counts and workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			counts, err := pool.StatusCounts()
			if err != nil {
				return err
			}
			fmt.Println(bold("tasks"))
			printKV("pending", counts[swarm.StatusPending])
			printKV("claimed", counts[swarm.StatusClaimed])
			printKV("done", green(counts[swarm.StatusDone]))
			printKV("failed", red(counts[swarm.StatusFailed]))

			workers, err := pool.ActiveWorkerCount(swarm.DefaultLeaseTimeout)
			if err != nil {
				return err
			}
			printKV("active workers", workers)

			if session, ok, err := pool.CurrentSession(); err == nil && ok {
				fmt.Println(bold("session"))
				printKV("id", session.SessionID)
				printKV("active", session.Active)
			}
			return nil
		},
	}
}

func newSwarmClaimCommand() *cobra.Command {
	var worker string
	var patterns []string
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the next task (optionally scoped to file patterns)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			if worker == "" {
				worker = "worker-" + uuid.NewString()[:8]
			}
			var result swarm.ClaimResult
			if len(patterns) > 0 {
				result, err = pool.ClaimForFiles(worker, patterns)
			} else {
				result, err = pool.Claim(worker)
			}
			if err != nil {
				return err
			}
			if !result.Success {
				fmt.Println(yellow(result.Reason))
				return nil
			}
			fmt.Printf("%s %s\n", green(result.TaskID), result.Description)
			printKV("worker", worker)
			return nil
		},
	}
	cmd.Flags().StringVarP(&worker, "worker", "w", "", "Worker id (default: random)")
	cmd.Flags().StringSliceVar(&patterns, "files", nil, "Prefer tasks scoped to these patterns")
	return cmd
}

func newSwarmCompleteCommand() *cobra.Command {
	var worker, result, failure string
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a claimed task done (or failed with --error)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			if failure != "" {
				if err := pool.Fail(worker, args[0], failure); err != nil {
					return err
				}
				fmt.Println(red(args[0] + " failed"))
				return nil
			}
			if err := pool.Complete(worker, args[0], result); err != nil {
				return err
			}
			fmt.Println(green(args[0] + " done"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&worker, "worker", "w", "", "Worker id holding the claim")
	cmd.Flags().StringVar(&result, "result", "", "Result note")
	cmd.Flags().StringVar(&failure, "error", "", "Mark failed with this error instead")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func newSwarmCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Release claims whose workers stopped heartbeating",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			released, err := pool.CleanupStaleClaims(swarm.DefaultLeaseTimeout)
			if err != nil {
				return err
			}
			fmt.Printf("released %s stale claim(s)\n", yellow(released))
			return nil
		},
	}
}

func newSwarmWorkerCommand() *cobra.Command {
	var worker string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Worker-side pool operations",
	}
	cmd.PersistentFlags().StringVarP(&worker, "worker", "w", "", "Worker id")
	_ = cmd.MarkPersistentFlagRequired("worker")

	cmd.AddCommand(&cobra.Command{
		Use:   "heartbeat",
		Short: "Record worker liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()
			return pool.Heartbeat(worker)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "release <task-id>",
		Short: "Return a claimed task to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pool.Release(worker, args[0]); err != nil {
				return err
			}
			fmt.Println(yellow(args[0] + " released"))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reclaim <task-id>",
		Short: "Take over a failed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pool.ReclaimFailed(worker, args[0]); err != nil {
				return err
			}
			fmt.Println(green(args[0] + " reclaimed"))
			return nil
		},
	})
	return cmd
}

func newSwarmSessionCommand() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the singleton pool session",
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Mark a pool session active",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pool.StartSession(flagSession, workers); err != nil {
				return err
			}
			fmt.Println(green("pool session started"))
			return nil
		},
	}
	start.Flags().IntVar(&workers, "workers", 3, "Planned worker count")
	cmd.AddCommand(start)

	cmd.AddCommand(&cobra.Command{
		Use:   "complete",
		Short: "Mark the pool session finished",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pool.CompleteSession(); err != nil {
				return err
			}
			fmt.Println(green("pool session completed"))
			return nil
		},
	})
	return cmd
}

func newSwarmResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete every task in the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pool.DeleteAllTasks(); err != nil {
				return err
			}
			fmt.Println(yellow("pool cleared"))
			return nil
		},
	}
}
