// Package state provides the shared on-disk persistence primitives for the
// coordination layer: session-scoped path resolution, atomic JSON documents,
// and a cross-process file lock.
//
// All mutable state lives under <cwd>/.omc/state. Session-scoped documents
// nest under sessions/<sessionID>; legacy flat paths are accepted read-only
// and only when no session id is supplied.
package state

import (
	"os"
	"path/filepath"
)

// Dir returns the state directory for a working directory, creating it lazily.
func Dir(cwd string) string {
	return filepath.Join(cwd, ".omc", "state")
}

// EnsureDir creates the state directory if it does not exist.
func EnsureDir(cwd string) (string, error) {
	dir := Dir(cwd)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// SessionDir returns the per-session state directory.
func SessionDir(cwd, sessionID string) string {
	return filepath.Join(Dir(cwd), "sessions", sessionID)
}

// SessionScopedPath resolves the document path for a mode under a session.
// Writers holding a session id MUST use this path; readers holding a session
// id MUST NOT fall back to the legacy flat path.
func SessionScopedPath(name, sessionID, cwd string) string {
	return filepath.Join(SessionDir(cwd, sessionID), name+".json")
}

// LegacyPath resolves the pre-session flat document path. Accepted read-only,
// and only when no session id is supplied.
func LegacyPath(name, cwd string) string {
	return filepath.Join(Dir(cwd), name+".json")
}

// DocPath resolves a mode document path given an optional session id.
func DocPath(name, sessionID, cwd string) string {
	if sessionID != "" {
		return SessionScopedPath(name, sessionID, cwd)
	}
	return LegacyPath(name, cwd)
}
