// Package enforcer is the stop-event gatekeeper. On every host stop event it
// consults the active workflow modes, in priority order, and decides whether
// to inject a continuation prompt. Enforcement is soft: the host always gets
// continue=true, and blocking is expressed purely through the message.
package enforcer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"omc/internal/config"
	"omc/internal/logging"
	"omc/internal/modes"
	"omc/internal/modes/autopilot"
	"omc/internal/modes/ralph"
	"omc/internal/modes/ultrawork"
	"omc/internal/state"
)

var logger = logging.NewComponentLogger("enforcer")

// Input describes one stop event.
type Input struct {
	SessionID      string
	Cwd            string
	StopReason     string
	UserRequested  bool
	TranscriptText string
	PendingTodos   int
}

// Decision is the enforcer's verdict.
type Decision struct {
	ShouldBlock bool           `json:"should_block"`
	Message     string         `json:"message,omitempty"`
	Mode        string         `json:"mode"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func allow() Decision { return Decision{Mode: modes.ModeNone} }

// HandleStop evaluates one stop event. Mode handlers run in priority order;
// the first that blocks wins and its mode is reported in the decision.
func HandleStop(cfg *config.Config, in Input) Decision {
	if cfg.IsContextLimit(in.StopReason) {
		logger.Info("allowing stop: context limit")
		return allow()
	}
	if isUserAbort(cfg, in) {
		logger.Info("allowing stop: user abort (%s)", in.StopReason)
		return allow()
	}

	guidance := ""
	if rec, ok := recentToolError(in.Cwd, time.Now()); ok {
		guidance = retryGuidance(rec)
	}

	if d, err := ralph.HandleStop(in.Cwd, in.SessionID, in.TranscriptText, guidance); err != nil {
		logger.Warn("ralph stop handler: %v", err)
	} else if d.Block {
		return Decision{ShouldBlock: true, Message: d.Message, Mode: modes.ModeRalph, Metadata: d.Metadata}
	}

	if d, err := autopilot.HandleStop(in.Cwd, in.SessionID, in.TranscriptText, guidance); err != nil {
		logger.Warn("autopilot stop handler: %v", err)
	} else if d.Block {
		return Decision{ShouldBlock: true, Message: d.Message, Mode: modes.ModeAutopilot, Metadata: d.Metadata}
	}

	if d, err := ultrawork.HandleStop(in.Cwd, in.SessionID, guidance); err != nil {
		logger.Warn("ultrawork stop handler: %v", err)
	} else if d.Block {
		return Decision{ShouldBlock: true, Message: d.Message, Mode: modes.ModeUltrawork, Metadata: d.Metadata}
	}

	if d, blocked := todoContinuation(cfg, in); blocked {
		return d
	}
	return allow()
}

// isUserAbort recognizes explicit user-initiated stops. Exact abort tokens
// always count; the generic verbs only count when the host flagged the stop
// as user-requested.
func isUserAbort(cfg *config.Config, in Input) bool {
	if cfg.IsAbortToken(in.StopReason) {
		return true
	}
	if !in.UserRequested {
		return false
	}
	lower := strings.ToLower(in.StopReason)
	for _, verb := range []string{"abort", "cancel", "interrupt"} {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// todoState persists the per-session continuation attempt counter.
type todoState struct {
	Attempts int `json:"attempts"`
}

// todoContinuation nudges a session with unchecked todos. Disabled by
// default: no mode means the user is in control, and only explicit modes may
// block. The attempt counter caps the nudges even when enabled.
func todoContinuation(cfg *config.Config, in Input) (Decision, bool) {
	if !cfg.EnableTodoContinuation || in.PendingTodos == 0 {
		return Decision{}, false
	}

	path := state.DocPath("todo-continuation", in.SessionID, in.Cwd)
	var st todoState
	if err := state.ReadJSON(path, &st); err != nil && !errors.Is(err, state.ErrNotFound) {
		return Decision{}, false
	}
	if st.Attempts >= cfg.MaxTodoContinuations {
		return Decision{}, false
	}
	st.Attempts++
	if err := state.WriteJSON(path, st); err != nil {
		logger.Warn("todo counter write: %v", err)
		return Decision{}, false
	}

	return Decision{
		ShouldBlock: true,
		Mode:        modes.ModeNone,
		Message: fmt.Sprintf(
			"%d todo item(s) are still unchecked. Finish them or mark them obsolete before stopping. (reminder %d/%d)",
			in.PendingTodos, st.Attempts, cfg.MaxTodoContinuations),
		Metadata: map[string]any{"todo_attempts": st.Attempts},
	}, true
}
