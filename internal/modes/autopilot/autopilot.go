// Package autopilot implements the five-phase autonomous pipeline:
// expansion, planning, execution, qa, validation, ending in complete or
// failed. Phase changes are driven by literal signals detected in the
// session transcript; the cross-mode transitions are transactional.
package autopilot

import (
	"fmt"
	"strings"
	"time"

	"omc/internal/logging"
	"omc/internal/modes"
	"omc/internal/modes/registry"
	"omc/internal/tracker"
	"omc/internal/transcript"
)

var logger = logging.NewComponentLogger("autopilot")

// StartOptions configures a new pipeline.
type StartOptions struct {
	Idea          string
	MaxIterations int
}

// Start activates the pipeline in the expansion phase. Autopilot refuses to
// start while any other mode is active.
func Start(cwd, sessionID string, opts StartOptions) error {
	if d := registry.CanStart(modes.ModeAutopilot, cwd, sessionID); !d.Allowed {
		return fmt.Errorf("start autopilot: %s", d.Message)
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = modes.DefaultAutopilotMaxIterations
	}
	doc := modes.New(modes.DocAutopilot, sessionID, cwd, modes.AutopilotState{
		Common:         modes.NewCommon(sessionID, cwd),
		Phase:          modes.PhaseExpansion,
		Iteration:      1,
		MaxIterations:  maxIter,
		OriginalIdea:   opts.Idea,
		PhaseStartedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err := doc.Save(); err != nil {
		return fmt.Errorf("start autopilot: %w", err)
	}
	logger.Info("autopilot started for session %s", sessionID)
	tracker.NewRecorder(cwd, sessionID, logger).Append("system", tracker.EventModeChange,
		map[string]any{"mode": modes.ModeAutopilot, "action": "start"})
	return nil
}

// Cancel removes the pipeline document.
func Cancel(cwd, sessionID string) error {
	if err := modes.Clear(modes.DocAutopilot, sessionID, cwd); err != nil {
		return err
	}
	tracker.NewRecorder(cwd, sessionID, logger).Append("system", tracker.EventModeChange,
		map[string]any{"mode": modes.ModeAutopilot, "action": "cancel"})
	return nil
}

// StopDecision is Autopilot's verdict on one stop event.
type StopDecision struct {
	Block    bool
	Message  string
	Metadata map[string]any
}

// HandleStop advances the pipeline for one stop event and decides whether to
// block. Failed pipelines preserve their sub-records for resumption.
func HandleStop(cwd, sessionID, transcriptText, guidancePrefix string) (StopDecision, error) {
	doc, found, err := modes.LoadAutopilot(cwd, sessionID)
	if err != nil || !found {
		return StopDecision{}, err
	}
	st := &doc.State

	if st.Phase.IsTerminal() {
		return StopDecision{}, nil
	}

	if st.Iteration >= st.MaxIterations {
		st.FailureReason = fmt.Sprintf("iteration cap %d reached in phase %s", st.MaxIterations, st.Phase)
		st.Phase = modes.PhaseFailed
		if err := doc.Save(); err != nil {
			return StopDecision{}, err
		}
		logger.Warn("autopilot hit iteration cap for session %s", sessionID)
		return StopDecision{}, nil
	}
	st.Iteration++

	if err := advancePhase(cwd, sessionID, transcriptText, st); err != nil {
		logger.Warn("phase transition failed: %v", err)
	}

	if err := doc.Save(); err != nil {
		return StopDecision{}, err
	}

	if st.Phase.IsTerminal() {
		return StopDecision{}, nil
	}

	message := phasePrompt(st)
	if guidancePrefix != "" {
		message = guidancePrefix + "\n\n" + message
	}
	return StopDecision{
		Block:   true,
		Message: message,
		Metadata: map[string]any{
			"phase":     string(st.Phase),
			"iteration": st.Iteration,
		},
	}, nil
}

// advancePhase applies transcript signals to the pipeline. The execution→qa
// and qa→validation moves run transactionally and mutate other mode
// documents; simple moves just update the state in place.
func advancePhase(cwd, sessionID, text string, st *modes.AutopilotState) error {
	switch st.Phase {
	case modes.PhaseExpansion:
		if transcript.HasSignal(text, transcript.SignalExpansionComplete) {
			st.Expansion = &modes.ExpansionRecord{CompletedAt: nowISO()}
			switchPhase(st, modes.PhasePlanning)
		}

	case modes.PhasePlanning:
		if transcript.HasSignal(text, transcript.SignalPlanningComplete) {
			if st.Planning == nil {
				st.Planning = &modes.PlanningRecord{}
			}
			st.Planning.CompletedAt = nowISO()
			switchPhase(st, modes.PhaseExecution)
		}

	case modes.PhaseExecution:
		if transcript.HasSignal(text, transcript.SignalExecutionComplete) ||
			transcript.HasSignal(text, transcript.SignalTransitionToQA) {
			res := TransitionExecutionToQA(cwd, sessionID, st)
			if !res.Success {
				return res.Err
			}
		}

	case modes.PhaseQA:
		if transcript.HasSignal(text, transcript.SignalQAComplete) ||
			transcript.HasSignal(text, transcript.SignalTransitionToValidate) {
			res := TransitionQAToValidation(cwd, sessionID, st)
			if !res.Success {
				return res.Err
			}
		}

	case modes.PhaseValidation:
		applyVerdicts(st, transcript.DetectVerdicts(text))
		// An explicit completion signal is the alternate exit: the
		// orchestrator declares validation done without waiting for the
		// remaining verdict lines.
		if st.Phase == modes.PhaseValidation &&
			(transcript.HasSignal(text, transcript.SignalValidationComplete) ||
				transcript.HasSignal(text, transcript.SignalAutopilotComplete)) {
			st.Validation.CompletedAt = nowISO()
			switchPhase(st, modes.PhaseComplete)
			logger.Info("autopilot completed via explicit validation signal")
		}
	}
	return nil
}

// applyVerdicts folds architect verdicts into the current validation round.
// A round completes only when all three verdict types have reported.
func applyVerdicts(st *modes.AutopilotState, verdicts []transcript.Verdict) {
	if st.Validation == nil {
		st.Validation = &modes.ValidationRecord{Round: 1, MaxRounds: modes.DefaultValidationMaxRounds}
	}
	v := st.Validation
	if v.Verdicts == nil {
		v.Verdicts = map[string]modes.VerdictResult{}
	}
	for _, verdict := range verdicts {
		v.Verdicts[verdict.Type] = modes.VerdictResult(verdict.Result)
	}

	for _, typ := range modes.RequiredVerdictTypes {
		if _, ok := v.Verdicts[typ]; !ok {
			return // round still open
		}
	}

	allApproved := true
	anyRejected := false
	for _, result := range v.Verdicts {
		if result != modes.VerdictApproved {
			allApproved = false
		}
		if result == modes.VerdictRejected {
			anyRejected = true
		}
	}
	v.AllApproved = allApproved

	switch {
	case allApproved:
		v.CompletedAt = nowISO()
		switchPhase(st, modes.PhaseComplete)
		logger.Info("autopilot validation approved; pipeline complete")
	case v.Round >= v.MaxRounds:
		st.FailureReason = "validation rounds exhausted"
		switchPhase(st, modes.PhaseFailed)
	default:
		// Any rejection or needed fix opens a fresh round.
		_ = anyRejected
		v.Round++
		v.Verdicts = map[string]modes.VerdictResult{}
	}
}

// switchPhase records the elapsed duration of the outgoing phase and stamps
// the incoming one.
func switchPhase(st *modes.AutopilotState, next modes.Phase) {
	if st.PhaseDurationsMs == nil {
		st.PhaseDurationsMs = map[string]int64{}
	}
	if started, err := time.Parse(time.RFC3339, st.PhaseStartedAt); err == nil {
		st.PhaseDurationsMs[string(st.Phase)] += time.Since(started).Milliseconds()
	}
	logger.Info("autopilot phase %s -> %s", st.Phase, next)
	st.Phase = next
	st.PhaseStartedAt = nowISO()
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func phasePrompt(st *modes.AutopilotState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[autopilot %s, iteration %d/%d] ", st.Phase, st.Iteration, st.MaxIterations)

	switch st.Phase {
	case modes.PhaseExpansion:
		fmt.Fprintf(&b, "Expand the idea into a concrete specification:\n\n%s\n\nEmit %s when the specification is ready.",
			st.OriginalIdea, transcript.SignalExpansionComplete)
	case modes.PhasePlanning:
		fmt.Fprintf(&b, "Break the specification into an ordered implementation plan. Emit %s when the plan is ready.",
			transcript.SignalPlanningComplete)
	case modes.PhaseExecution:
		fmt.Fprintf(&b, "Execute the plan. Emit %s when every planned task is implemented.",
			transcript.SignalExecutionComplete)
	case modes.PhaseQA:
		fmt.Fprintf(&b, "Run QA: execute the test suite, fix failures, repeat. Emit %s when the suite is green.",
			transcript.SignalQAComplete)
	case modes.PhaseValidation:
		round, max := 1, modes.DefaultValidationMaxRounds
		if st.Validation != nil {
			round, max = st.Validation.Round, st.Validation.MaxRounds
		}
		fmt.Fprintf(&b, "Validation round %d/%d: spawn three architect reviewers (functional, security, quality). "+
			"Each must report VERDICT_<TYPE>: APPROVED, REJECTED, or NEEDS_FIX.", round, max)
	}
	return b.String()
}

// FailureSummary formats a human-readable report for a failed pipeline,
// preserving the per-phase sub-records.
func FailureSummary(st *modes.AutopilotState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "autopilot failed: %s\n", st.FailureReason)
	fmt.Fprintf(&b, "  idea: %s\n", st.OriginalIdea)
	fmt.Fprintf(&b, "  iterations: %d/%d\n", st.Iteration, st.MaxIterations)
	for phase, ms := range st.PhaseDurationsMs {
		fmt.Fprintf(&b, "  %s: %dms\n", phase, ms)
	}
	if st.Validation != nil {
		fmt.Fprintf(&b, "  validation round %d/%d, verdicts: %v\n",
			st.Validation.Round, st.Validation.MaxRounds, st.Validation.Verdicts)
	}
	return b.String()
}
