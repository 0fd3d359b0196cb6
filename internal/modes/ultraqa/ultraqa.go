// Package ultraqa manages the QA-focused sub-mode started during Autopilot's
// qa phase. It is mutually exclusive with Ralph.
package ultraqa

import (
	"fmt"

	"omc/internal/logging"
	"omc/internal/modes"
	"omc/internal/modes/registry"
	"omc/internal/tracker"
)

var logger = logging.NewComponentLogger("ultraqa")

// Start activates UltraQA with a cycle cap.
func Start(cwd, sessionID string, maxCycles int, focus string) error {
	if d := registry.CanStart(modes.ModeUltraQA, cwd, sessionID); !d.Allowed {
		return fmt.Errorf("start ultraqa: %s", d.Message)
	}
	if maxCycles <= 0 {
		maxCycles = modes.DefaultUltraQAMaxCycles
	}
	doc := modes.New(modes.DocUltraQA, sessionID, cwd, modes.UltraQAState{
		Common:    modes.NewCommon(sessionID, cwd),
		Cycle:     1,
		MaxCycles: maxCycles,
		Focus:     focus,
	})
	if err := doc.Save(); err != nil {
		return fmt.Errorf("start ultraqa: %w", err)
	}
	logger.Info("ultraqa started for session %s (max %d cycles)", sessionID, maxCycles)
	tracker.NewRecorder(cwd, sessionID, logger).Append("system", tracker.EventModeChange,
		map[string]any{"mode": modes.ModeUltraQA, "action": "start"})
	return nil
}

// Stop deactivates UltraQA.
func Stop(cwd, sessionID string) error {
	if err := modes.Clear(modes.DocUltraQA, sessionID, cwd); err != nil {
		return err
	}
	tracker.NewRecorder(cwd, sessionID, logger).Append("system", tracker.EventModeChange,
		map[string]any{"mode": modes.ModeUltraQA, "action": "stop"})
	return nil
}

// AdvanceCycle bumps the cycle counter. exhausted reports the cap was hit,
// in which case the record is cleared.
func AdvanceCycle(cwd, sessionID string) (cycle int, exhausted bool, err error) {
	doc, found, err := modes.LoadUltraQA(cwd, sessionID)
	if err != nil || !found {
		return 0, false, err
	}
	doc.State.Cycle++
	if doc.State.Cycle > doc.State.MaxCycles {
		return doc.State.Cycle, true, Stop(cwd, sessionID)
	}
	return doc.State.Cycle, false, doc.Save()
}
