// Package registry arbitrates mutual exclusion across workflow modes and
// hosts the cross-mode predicates (is-active checks, linked-Ultrawork
// clearing) so the mode packages never import each other.
package registry

import (
	"fmt"

	"omc/internal/modes"
	"omc/internal/state"
	"omc/internal/swarm"
)

// probe is the minimal shape shared by every mode document.
type probe struct {
	modes.Common
}

// isDocActive reads just the active flag of a mode document under strict
// session scoping. Read failures count as inactive.
func isDocActive(name, cwd, sessionID string) bool {
	doc, found, err := modes.Load[probe](name, sessionID, cwd)
	if err != nil || !found {
		return false
	}
	return doc.State.Active
}

// IsRalphActive reports whether a Ralph loop is active for the session.
func IsRalphActive(cwd, sessionID string) bool {
	return isDocActive(modes.DocRalph, cwd, sessionID)
}

// IsUltraworkActive reports whether Ultrawork reinforcement is active.
func IsUltraworkActive(cwd, sessionID string) bool {
	return isDocActive(modes.DocUltrawork, cwd, sessionID)
}

// IsAutopilotActive reports whether an Autopilot pipeline is active.
func IsAutopilotActive(cwd, sessionID string) bool {
	return isDocActive(modes.DocAutopilot, cwd, sessionID)
}

// IsUltraQAActive reports whether the UltraQA sub-mode is active.
func IsUltraQAActive(cwd, sessionID string) bool {
	return isDocActive(modes.DocUltraQA, cwd, sessionID)
}

// isSwarmActive reports whether a pool session is marked active in the
// summary sidecar.
func isSwarmActive(cwd string) bool {
	summary, err := swarm.ReadSummary(cwd)
	return err == nil && summary.Active
}

// Decision is the outcome of a CanStart check.
type Decision struct {
	Allowed bool
	Message string
}

// CanStart applies the mutual-exclusion rules for starting a mode:
//   - autopilot cannot start while any other mode is active
//   - ralph and ultraqa exclude each other
//
// Exclusion is scoped per (cwd, sessionID); disjoint sessions in the same
// working directory are independent.
func CanStart(mode, cwd, sessionID string) Decision {
	conflict := func(other string) Decision {
		return Decision{
			Allowed: false,
			Message: fmt.Sprintf("%s cannot start while %s is active", mode, other),
		}
	}

	switch mode {
	case modes.ModeAutopilot:
		for _, other := range []struct {
			name string
			doc  string
		}{
			{modes.ModeRalph, modes.DocRalph},
			{modes.ModeUltrawork, modes.DocUltrawork},
			{modes.ModeUltraQA, modes.DocUltraQA},
		} {
			if isDocActive(other.doc, cwd, sessionID) {
				return conflict(other.name)
			}
		}
	case modes.ModeRalph:
		if IsUltraQAActive(cwd, sessionID) {
			return conflict(modes.ModeUltraQA)
		}
	case modes.ModeUltraQA:
		if IsRalphActive(cwd, sessionID) {
			return conflict(modes.ModeRalph)
		}
	}
	return Decision{Allowed: true}
}

// ActiveParentMode probes the mode documents in fixed order and returns the
// first active one; used by the subagent tracker to attribute spawns.
func ActiveParentMode(cwd, sessionID string) string {
	if isDocActive("ultrapilot-state", cwd, sessionID) {
		return "ultrapilot"
	}
	if IsAutopilotActive(cwd, sessionID) {
		return modes.ModeAutopilot
	}
	if isSwarmActive(cwd) {
		return "swarm"
	}
	if IsUltraworkActive(cwd, sessionID) {
		return modes.ModeUltrawork
	}
	if IsRalphActive(cwd, sessionID) {
		return modes.ModeRalph
	}
	return modes.ModeNone
}

// ClearLinkedUltrawork removes the Ultrawork record only when it was
// auto-activated by Ralph. Unlinked Ultraworks survive Ralph cancellation.
func ClearLinkedUltrawork(cwd, sessionID string) error {
	doc, found, err := modes.LoadUltrawork(cwd, sessionID)
	if err != nil || !found {
		return err
	}
	if !doc.State.LinkedToRalph {
		return nil
	}
	return state.Remove(doc.Path())
}
