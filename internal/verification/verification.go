// Package verification implements the architect-verification handshake
// inside the Ralph loop: a completion claim must be reviewed by a distinct
// architect role before the loop truly exits.
package verification

import (
	"time"

	"omc/internal/logging"
	"omc/internal/modes"
	"omc/internal/transcript"
)

// Outcome classifies one enforcer pass over a pending verification.
type Outcome int

const (
	// OutcomePending means no architect response yet; re-emit the prompt
	// without advancing the attempt counter.
	OutcomePending Outcome = iota
	// OutcomeApproved means the architect approved; the loop completes.
	OutcomeApproved
	// OutcomeRejected means the architect rejected; Ralph continues with
	// the recorded feedback.
	OutcomeRejected
	// OutcomeForceAccepted means attempts are exhausted; verification is
	// cleared with no verdict recorded.
	OutcomeForceAccepted
)

var logger = logging.NewComponentLogger("verification")

// Start records a pending verification for a completion claim.
func Start(cwd, sessionID, claim, originalTask string) error {
	doc := modes.New(modes.DocVerification, sessionID, cwd, modes.VerificationState{
		Common:          modes.NewCommon(sessionID, cwd),
		Pending:         true,
		CompletionClaim: claim,
		OriginalTask:    originalTask,
		MaxAttempts:     modes.DefaultVerificationMaxAttempts,
		RequestedAt:     time.Now().UTC().Format(time.RFC3339),
	})
	return doc.Save()
}

// Pending loads the verification document when one is awaiting an architect.
func Pending(cwd, sessionID string) (*modes.VerificationState, bool, error) {
	doc, found, err := modes.LoadVerification(cwd, sessionID)
	if err != nil || !found {
		return nil, false, err
	}
	if !doc.State.Pending {
		return nil, false, nil
	}
	st := doc.State
	return &st, true, nil
}

// Advance inspects the session transcript for an architect verdict and moves
// the verification state machine. Reading a pending state with no verdict in
// the transcript returns OutcomePending and does not touch the attempt
// counter.
func Advance(cwd, sessionID, transcriptText string) (Outcome, *modes.VerificationState, error) {
	doc, found, err := modes.LoadVerification(cwd, sessionID)
	if err != nil {
		return OutcomePending, nil, err
	}
	if !found || !doc.State.Pending {
		return OutcomePending, nil, nil
	}

	if transcript.DetectApproval(transcriptText) {
		st := doc.State
		st.Approved = true
		if err := modes.Clear(modes.DocVerification, sessionID, cwd); err != nil {
			return OutcomePending, nil, err
		}
		logger.Info("verification approved for session %s", sessionID)
		return OutcomeApproved, &st, nil
	}

	feedback, rejected := transcript.DetectRejection(transcriptText)
	if !rejected {
		st := doc.State
		return OutcomePending, &st, nil
	}

	doc.State.Attempts++
	doc.State.ArchitectFeedback = feedback

	if doc.State.Attempts >= doc.State.MaxAttempts {
		// Force-accept: cleared with no verdict recorded.
		st := doc.State
		if err := modes.Clear(modes.DocVerification, sessionID, cwd); err != nil {
			return OutcomePending, nil, err
		}
		logger.Warn("verification attempts exhausted for session %s; force-accepting", sessionID)
		return OutcomeForceAccepted, &st, nil
	}

	if err := doc.Save(); err != nil {
		return OutcomePending, nil, err
	}
	st := doc.State
	return OutcomeRejected, &st, nil
}

// Clear drops any verification record for the session.
func Clear(cwd, sessionID string) error {
	return modes.Clear(modes.DocVerification, sessionID, cwd)
}
