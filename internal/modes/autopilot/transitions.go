package autopilot

import (
	"fmt"

	"omc/internal/modes"
	"omc/internal/modes/ultraqa"
	"omc/internal/txn"
)

// startUltraQA is swapped out by tests to simulate a failed final step.
var startUltraQA = func(cwd, sessionID string, maxCycles int, focus string) error {
	return ultraqa.Start(cwd, sessionID, maxCycles, focus)
}

// TransitionExecutionToQA moves the pipeline from execution to qa. The move
// terminates any Ralph loop driving execution (preserving its iteration count
// in the execution record) and boots UltraQA. If any step fails, every
// completed step is rolled back in reverse order and the pipeline stays in
// execution.
func TransitionExecutionToQA(cwd, sessionID string, st *modes.AutopilotState) txn.Result {
	var (
		prevExecution = st.Execution
		prevPhase     = st.Phase
		prevStartedAt = st.PhaseStartedAt
		savedRalph    *modes.Doc[modes.RalphState]
		savedUW       *modes.Doc[modes.UltraworkState]
	)

	steps := []txn.Step{
		{
			Name: "preserve execution record",
			Execute: func() error {
				rec := &modes.ExecutionRecord{CompletedAt: nowISO()}
				if prevExecution != nil {
					copied := *prevExecution
					copied.CompletedAt = rec.CompletedAt
					rec = &copied
				}
				if doc, found, err := modes.LoadRalph(cwd, sessionID); err != nil {
					return err
				} else if found {
					rec.RalphIterations = doc.State.Iteration
				}
				st.Execution = rec
				return nil
			},
			Rollback: func() error {
				st.Execution = prevExecution
				return nil
			},
		},
		{
			Name: "terminate execution loop",
			Execute: func() error {
				doc, found, err := modes.LoadRalph(cwd, sessionID)
				if err != nil {
					return err
				}
				if !found {
					return nil
				}
				savedRalph = doc
				if doc.State.LinkedUltrawork {
					if uw, uwFound, err := modes.LoadUltrawork(cwd, sessionID); err != nil {
						return err
					} else if uwFound && uw.State.LinkedToRalph {
						savedUW = uw
						if err := modes.Clear(modes.DocUltrawork, sessionID, cwd); err != nil {
							return err
						}
					}
				}
				if err := modes.Clear(modes.DocVerification, sessionID, cwd); err != nil {
					return err
				}
				return modes.Clear(modes.DocRalph, sessionID, cwd)
			},
			Rollback: func() error {
				if savedUW != nil {
					if err := savedUW.Save(); err != nil {
						return err
					}
				}
				if savedRalph != nil {
					return savedRalph.Save()
				}
				return nil
			},
		},
		{
			Name: "enter qa phase",
			Execute: func() error {
				switchPhase(st, modes.PhaseQA)
				st.QA = &modes.QARecord{Cycles: 1, MaxCycles: modes.DefaultUltraQAMaxCycles}
				return nil
			},
			Rollback: func() error {
				st.Phase = prevPhase
				st.PhaseStartedAt = prevStartedAt
				st.QA = nil
				return nil
			},
		},
		{
			Name: "start ultraqa",
			Execute: func() error {
				return startUltraQA(cwd, sessionID, modes.DefaultUltraQAMaxCycles,
					fmt.Sprintf("autopilot qa for: %s", st.OriginalIdea))
			},
		},
	}

	return txn.Run(logger, steps)
}

// TransitionQAToValidation moves the pipeline from qa to validation, folding
// the UltraQA cycle count into the qa record and stopping UltraQA.
func TransitionQAToValidation(cwd, sessionID string, st *modes.AutopilotState) txn.Result {
	var (
		prevQA        = cloneQA(st.QA)
		prevPhase     = st.Phase
		prevStartedAt = st.PhaseStartedAt
		savedQADoc    *modes.Doc[modes.UltraQAState]
	)

	steps := []txn.Step{
		{
			Name: "record qa completion",
			Execute: func() error {
				if st.QA == nil {
					st.QA = &modes.QARecord{MaxCycles: modes.DefaultUltraQAMaxCycles}
				}
				if doc, found, err := modes.LoadUltraQA(cwd, sessionID); err != nil {
					return err
				} else if found {
					st.QA.Cycles = doc.State.Cycle
					st.QA.MaxCycles = doc.State.MaxCycles
				}
				st.QA.CompletedAt = nowISO()
				return nil
			},
			Rollback: func() error {
				st.QA = prevQA
				return nil
			},
		},
		{
			Name: "stop ultraqa",
			Execute: func() error {
				doc, found, err := modes.LoadUltraQA(cwd, sessionID)
				if err != nil {
					return err
				}
				if !found {
					return nil
				}
				savedQADoc = doc
				return ultraqa.Stop(cwd, sessionID)
			},
			Rollback: func() error {
				if savedQADoc != nil {
					return savedQADoc.Save()
				}
				return nil
			},
		},
		{
			Name: "enter validation phase",
			Execute: func() error {
				switchPhase(st, modes.PhaseValidation)
				st.Validation = &modes.ValidationRecord{
					Round:     1,
					MaxRounds: modes.DefaultValidationMaxRounds,
					Verdicts:  map[string]modes.VerdictResult{},
					StartedAt: nowISO(),
				}
				return nil
			},
			Rollback: func() error {
				st.Phase = prevPhase
				st.PhaseStartedAt = prevStartedAt
				st.Validation = nil
				return nil
			},
		},
	}

	return txn.Run(logger, steps)
}

func cloneQA(rec *modes.QARecord) *modes.QARecord {
	if rec == nil {
		return nil
	}
	copied := *rec
	return &copied
}
