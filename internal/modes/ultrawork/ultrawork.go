// Package ultrawork implements the reinforcement mode: while active it
// unconditionally blocks stop events, so transient tool failures can never
// end a session. Its only exit is explicit deactivation.
package ultrawork

import (
	"fmt"

	"omc/internal/logging"
	"omc/internal/modes"
	"omc/internal/tracker"
)

var logger = logging.NewComponentLogger("ultrawork")

// Start activates Ultrawork for a session.
func Start(cwd, sessionID, prompt string) error {
	doc := modes.New(modes.DocUltrawork, sessionID, cwd, modes.UltraworkState{
		Common:         modes.NewCommon(sessionID, cwd),
		OriginalPrompt: prompt,
	})
	if err := doc.Save(); err != nil {
		return fmt.Errorf("start ultrawork: %w", err)
	}
	logger.Info("ultrawork started for session %s", sessionID)
	tracker.NewRecorder(cwd, sessionID, logger).Append("system", tracker.EventModeChange,
		map[string]any{"mode": modes.ModeUltrawork, "action": "start"})
	return nil
}

// Stop deactivates Ultrawork, linked or not.
func Stop(cwd, sessionID string) error {
	if err := modes.Clear(modes.DocUltrawork, sessionID, cwd); err != nil {
		return err
	}
	tracker.NewRecorder(cwd, sessionID, logger).Append("system", tracker.EventModeChange,
		map[string]any{"mode": modes.ModeUltrawork, "action": "stop"})
	return nil
}

// StopDecision is Ultrawork's verdict on one stop event.
type StopDecision struct {
	Block    bool
	Message  string
	Metadata map[string]any
}

// HandleStop increments the reinforcement counter and blocks. Whether todos
// remain is irrelevant; only explicit deactivation ends this mode.
func HandleStop(cwd, sessionID, guidancePrefix string) (StopDecision, error) {
	doc, found, err := modes.LoadUltrawork(cwd, sessionID)
	if err != nil || !found {
		return StopDecision{}, err
	}

	doc.State.ReinforcementCount++
	if err := doc.Save(); err != nil {
		return StopDecision{}, err
	}

	message := fmt.Sprintf(
		"[ultrawork #%d] Persistence mode is active. Keep working until it is explicitly deactivated; "+
			"do not stop for transient errors.",
		doc.State.ReinforcementCount)
	if doc.State.OriginalPrompt != "" {
		message += fmt.Sprintf("\n\nOriginal task:\n%s", doc.State.OriginalPrompt)
	}
	if guidancePrefix != "" {
		message = guidancePrefix + "\n\n" + message
	}

	return StopDecision{
		Block:   true,
		Message: message,
		Metadata: map[string]any{
			"reinforcement_count": doc.State.ReinforcementCount,
			"linked_to_ralph":     doc.State.LinkedToRalph,
		},
	}, nil
}
