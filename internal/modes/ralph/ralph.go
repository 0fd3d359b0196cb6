// Package ralph implements the self-referential iteration mode: it keeps
// re-prompting the session until explicitly cancelled, the iteration cap is
// reached, the PRD is fully complete, or architect verification approves a
// completion claim.
package ralph

import (
	"fmt"
	"strings"

	"omc/internal/logging"
	"omc/internal/modes"
	"omc/internal/modes/registry"
	"omc/internal/prd"
	"omc/internal/tracker"
	"omc/internal/verification"
)

var logger = logging.NewComponentLogger("ralph")

// StartOptions configures a new Ralph loop.
type StartOptions struct {
	Prompt        string
	MaxIterations int
	LinkUltrawork bool
	PRDMode       bool
}

// Start activates Ralph for a session, optionally auto-activating a linked
// Ultrawork record that shares its session and project bindings.
func Start(cwd, sessionID string, opts StartOptions) error {
	if d := registry.CanStart(modes.ModeRalph, cwd, sessionID); !d.Allowed {
		return fmt.Errorf("start ralph: %s", d.Message)
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = modes.DefaultRalphMaxIterations
	}

	doc := modes.New(modes.DocRalph, sessionID, cwd, modes.RalphState{
		Common:          modes.NewCommon(sessionID, cwd),
		Iteration:       1,
		MaxIterations:   maxIter,
		OriginalPrompt:  opts.Prompt,
		LinkedUltrawork: opts.LinkUltrawork,
		PRDMode:         opts.PRDMode,
	})
	if err := doc.Save(); err != nil {
		return fmt.Errorf("start ralph: %w", err)
	}

	if opts.LinkUltrawork {
		uw := modes.New(modes.DocUltrawork, sessionID, cwd, modes.UltraworkState{
			Common:         modes.NewCommon(sessionID, cwd),
			OriginalPrompt: opts.Prompt,
			LinkedToRalph:  true,
		})
		if err := uw.Save(); err != nil {
			return fmt.Errorf("start linked ultrawork: %w", err)
		}
	}
	logger.Info("ralph started for session %s (max %d iterations)", sessionID, maxIter)
	tracker.NewRecorder(cwd, sessionID, logger).Append("system", tracker.EventModeChange,
		map[string]any{"mode": modes.ModeRalph, "action": "start"})
	return nil
}

// Cancel clears the Ralph record, any pending verification, and any linked
// Ultrawork. Unlinked Ultraworks survive.
func Cancel(cwd, sessionID string) error {
	if err := modes.Clear(modes.DocRalph, sessionID, cwd); err != nil {
		return err
	}
	if err := verification.Clear(cwd, sessionID); err != nil {
		return err
	}
	if err := registry.ClearLinkedUltrawork(cwd, sessionID); err != nil {
		return err
	}
	tracker.NewRecorder(cwd, sessionID, logger).Append("system", tracker.EventModeChange,
		map[string]any{"mode": modes.ModeRalph, "action": "cancel"})
	return nil
}

// StopDecision is Ralph's verdict on one stop event.
type StopDecision struct {
	Block    bool
	Message  string
	Metadata map[string]any
}

func allow() StopDecision { return StopDecision{} }

// HandleStop runs the Ralph transition for a stop event. guidancePrefix, when
// non-empty, is prepended to continuation prompts (tool-error retry
// guidance).
func HandleStop(cwd, sessionID, transcriptText, guidancePrefix string) (StopDecision, error) {
	doc, found, err := modes.LoadRalph(cwd, sessionID)
	if err != nil || !found {
		return allow(), err
	}
	st := &doc.State

	// A finished team pipeline releases the loop.
	if team, teamFound, _ := modes.LoadTeam(cwd, sessionID); teamFound && team.State.IsTerminal() {
		logger.Info("team pipeline %s is %s; ending ralph", sessionID, team.State.Phase)
		return allow(), Cancel(cwd, sessionID)
	}

	// A fully complete PRD means the work list is done.
	prdDoc, prdFound, _ := prd.Load(cwd)
	if prdFound && prdDoc.AllComplete() {
		logger.Info("prd complete for session %s; ending ralph", sessionID)
		return allow(), Cancel(cwd, sessionID)
	}

	// Pending verification takes over the continuation flow.
	if _, pending, err := verification.Pending(cwd, sessionID); err == nil && pending {
		return handleVerification(cwd, sessionID, transcriptText, st)
	}

	if st.Iteration >= st.MaxIterations {
		logger.Info("ralph hit iteration cap %d for session %s", st.MaxIterations, sessionID)
		return allow(), Cancel(cwd, sessionID)
	}

	st.Iteration++
	if err := doc.Save(); err != nil {
		return allow(), err
	}

	return StopDecision{
		Block:   true,
		Message: continuationPrompt(st, prdDoc, prdFound, guidancePrefix),
		Metadata: map[string]any{
			"iteration":      st.Iteration,
			"max_iterations": st.MaxIterations,
		},
	}, nil
}

func handleVerification(cwd, sessionID, transcriptText string, st *modes.RalphState) (StopDecision, error) {
	outcome, vst, err := verification.Advance(cwd, sessionID, transcriptText)
	if err != nil {
		return allow(), err
	}

	switch outcome {
	case verification.OutcomeApproved, verification.OutcomeForceAccepted:
		// The claim stands; the loop truly completes.
		return allow(), Cancel(cwd, sessionID)

	case verification.OutcomeRejected:
		return StopDecision{
			Block:   true,
			Message: rejectionPrompt(st, vst),
			Metadata: map[string]any{
				"verification_attempts": vst.Attempts,
			},
		}, nil

	default:
		return StopDecision{
			Block:   true,
			Message: verificationPrompt(vst),
			Metadata: map[string]any{
				"verification_pending": true,
			},
		}, nil
	}
}

func continuationPrompt(st *modes.RalphState, prdDoc *prd.Document, prdFound bool, guidancePrefix string) string {
	var b strings.Builder
	if guidancePrefix != "" {
		b.WriteString(guidancePrefix)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "[ralph %d/%d] The loop is still active. Continue working on the original task:\n\n%s",
		st.Iteration, st.MaxIterations, st.OriginalPrompt)

	if prdFound {
		fmt.Fprintf(&b, "\n\nPRD progress: %s stories complete.", prdDoc.Progress())
		if next, ok := prdDoc.NextPending(); ok {
			fmt.Fprintf(&b, " Next story: %s (%s). Mark it complete in prd.json when done.", next.ID, next.Title)
		}
	}
	b.WriteString("\n\nWhen the task is genuinely finished, state your completion claim clearly so it can be verified.")
	return b.String()
}

func verificationPrompt(vst *modes.VerificationState) string {
	return fmt.Sprintf(
		"[ralph verification, attempt %d of %d] A completion claim needs review before the loop can end:\n\n%q\n\n"+
			"Spawn an architect subagent to verify the claim against the original task. "+
			"The architect must reply with <architect-approved>VERIFIED_COMPLETE</architect-approved> to approve, "+
			"or describe the problems found to reject.",
		vst.Attempts+1, vst.MaxAttempts, vst.CompletionClaim)
}

func rejectionPrompt(st *modes.RalphState, vst *modes.VerificationState) string {
	return fmt.Sprintf(
		"[ralph %d/%d] The architect rejected the completion claim (attempt %d of %d).\n\nFeedback: %s\n\n"+
			"Address the feedback, then claim completion again.",
		st.Iteration, st.MaxIterations, vst.Attempts, vst.MaxAttempts, vst.ArchitectFeedback)
}

// ClaimCompletion records a completion claim and opens the verification
// handshake.
func ClaimCompletion(cwd, sessionID, claim string) error {
	doc, found, err := modes.LoadRalph(cwd, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("claim completion: no active ralph loop")
	}
	return verification.Start(cwd, sessionID, claim, doc.State.OriginalPrompt)
}
