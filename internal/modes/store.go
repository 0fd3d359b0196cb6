package modes

import (
	"encoding/json"

	"omc/internal/state"
)

// DocSessionID exposes the session binding for strict-match checks.
func (c *Common) DocSessionID() string { return c.SessionID }

// Doc is a loaded mode document plus the unknown fields it must round-trip.
type Doc[T any] struct {
	State T
	path  string
	extra map[string]json.RawMessage
}

// Save writes the document back atomically, preserving unknown fields.
func (d *Doc[T]) Save() error {
	return saveDoc(d.path, &d.State, d.extra)
}

// Path returns the document's on-disk location.
func (d *Doc[T]) Path() string { return d.path }

// Load reads the named mode document. A session id scopes the read to
// sessions/<id>/ with no legacy fallback; a document whose recorded session
// id disagrees with the requested one is treated as absent.
func Load[T any](name, sessionID, cwd string) (*Doc[T], bool, error) {
	path := state.DocPath(name, sessionID, cwd)
	d := &Doc[T]{path: path}
	extra, found, err := loadDoc(path, &d.State)
	if err != nil || !found {
		return nil, false, err
	}
	d.extra = extra

	if sessionID != "" {
		if bound, ok := any(&d.State).(interface{ DocSessionID() string }); ok {
			if got := bound.DocSessionID(); got != "" && got != sessionID {
				return nil, false, nil
			}
		}
	}
	return d, true, nil
}

// New creates an unsaved document for a fresh mode state. The path derives
// from the state's session binding.
func New[T any](name, sessionID, cwd string, st T) *Doc[T] {
	return &Doc[T]{State: st, path: state.DocPath(name, sessionID, cwd)}
}

// Clear removes the named mode document for a session. Missing files are not
// an error.
func Clear(name, sessionID, cwd string) error {
	return state.Remove(state.DocPath(name, sessionID, cwd))
}

// Typed accessors for the known mode documents.

func LoadRalph(cwd, sessionID string) (*Doc[RalphState], bool, error) {
	return Load[RalphState](DocRalph, sessionID, cwd)
}

func LoadUltrawork(cwd, sessionID string) (*Doc[UltraworkState], bool, error) {
	return Load[UltraworkState](DocUltrawork, sessionID, cwd)
}

func LoadAutopilot(cwd, sessionID string) (*Doc[AutopilotState], bool, error) {
	return Load[AutopilotState](DocAutopilot, sessionID, cwd)
}

func LoadUltraQA(cwd, sessionID string) (*Doc[UltraQAState], bool, error) {
	return Load[UltraQAState](DocUltraQA, sessionID, cwd)
}

func LoadVerification(cwd, sessionID string) (*Doc[VerificationState], bool, error) {
	return Load[VerificationState](DocVerification, sessionID, cwd)
}

func LoadTeam(cwd, sessionID string) (*Doc[TeamState], bool, error) {
	return Load[TeamState](DocTeam, sessionID, cwd)
}
