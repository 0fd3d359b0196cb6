// Package txn runs ordered multi-step transitions with reverse-order rollback.
// Autopilot's cross-mode phase changes use it so a failure partway through a
// transition never leaves the session half-moved.
package txn

import (
	"fmt"

	"omc/internal/logging"
)

// Step is one unit of a transition. Execute performs the step; Rollback
// undoes it when a later step fails. Rollback errors are swallowed best
// effort.
type Step struct {
	Name     string
	Execute  func() error
	Rollback func() error
}

// Result reports the outcome of a transition run.
type Result struct {
	Success    bool
	FailedStep string
	Err        error
}

// Run executes steps in order. On the first failure it rolls back every
// completed step in reverse order and reports the failing step.
func Run(logger logging.Logger, steps []Step) Result {
	logger = logging.OrNop(logger)

	for i, step := range steps {
		err := step.Execute()
		if err == nil {
			continue
		}
		logger.Warn("transition step %q failed: %v", step.Name, err)
		for j := i - 1; j >= 0; j-- {
			if steps[j].Rollback == nil {
				continue
			}
			if rbErr := steps[j].Rollback(); rbErr != nil {
				logger.Warn("rollback of step %q failed: %v", steps[j].Name, rbErr)
			}
		}
		return Result{
			Success:    false,
			FailedStep: step.Name,
			Err:        fmt.Errorf("step %s: %w", step.Name, err),
		}
	}
	return Result{Success: true}
}
