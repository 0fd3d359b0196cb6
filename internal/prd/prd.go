// Package prd reads the structured task-list document (prd.json) that can
// drive a Ralph loop: user stories marked complete or pending.
package prd

import (
	"fmt"
	"path/filepath"

	"omc/internal/state"
)

// Story is one unit of the PRD task list.
type Story struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"` // "complete" or "pending"
	Priority    int    `json:"priority,omitempty"`
}

// Complete reports whether the story is done.
func (s Story) Complete() bool {
	return s.Status == "complete" || s.Status == "done"
}

// Document is the prd.json contents.
type Document struct {
	Title   string  `json:"title,omitempty"`
	Stories []Story `json:"stories"`
}

// Path returns the PRD location for a working directory.
func Path(cwd string) string {
	return filepath.Join(cwd, "prd.json")
}

// Load reads the PRD. found=false when no prd.json exists.
func Load(cwd string) (*Document, bool, error) {
	var doc Document
	err := state.ReadJSON(Path(cwd), &doc)
	if err == state.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &doc, true, nil
}

// AllComplete reports whether every story is done. An empty story list does
// not count as complete; it means the PRD has not been planned yet.
func (d *Document) AllComplete() bool {
	if len(d.Stories) == 0 {
		return false
	}
	for _, s := range d.Stories {
		if !s.Complete() {
			return false
		}
	}
	return true
}

// NextPending returns the first incomplete story.
func (d *Document) NextPending() (Story, bool) {
	for _, s := range d.Stories {
		if !s.Complete() {
			return s, true
		}
	}
	return Story{}, false
}

// Progress formats "done/total" for continuation prompts.
func (d *Document) Progress() string {
	done := 0
	for _, s := range d.Stories {
		if s.Complete() {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(d.Stories))
}
