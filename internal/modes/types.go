// Package modes defines the persistent state documents for the workflow
// modes (Ralph, Ultrawork, Autopilot, UltraQA, Ralph verification) and their
// session-scoped load/save/clear operations.
//
// Each document is one JSON file. Writers given a session id write under
// sessions/<id>/; readers given a session id never fall back to the legacy
// flat path, so disjoint sessions stay isolated.
package modes

import "time"

// Document names under the state directory.
const (
	DocRalph        = "ralph-state"
	DocUltrawork    = "ultrawork-state"
	DocAutopilot    = "autopilot-state"
	DocUltraQA      = "ultraqa-state"
	DocVerification = "ralph-verification"
	DocTeam         = "team-state"
)

// Mode names used in enforcer decisions and replay events.
const (
	ModeRalph     = "ralph"
	ModeUltrawork = "ultrawork"
	ModeAutopilot = "autopilot"
	ModeUltraQA   = "ultraqa"
	ModeNone      = "none"
)

// Common carries the fields every mode document shares.
type Common struct {
	Active      bool   `json:"active"`
	SessionID   string `json:"session_id"`
	ProjectPath string `json:"project_path"`
	StartedAt   string `json:"started_at"`
}

// NewCommon stamps a common header for a freshly started mode.
func NewCommon(sessionID, projectPath string) Common {
	return Common{
		Active:      true,
		SessionID:   sessionID,
		ProjectPath: projectPath,
		StartedAt:   time.Now().UTC().Format(time.RFC3339),
	}
}

// RalphState is the Ralph loop document.
type RalphState struct {
	Common
	Iteration       int    `json:"iteration"`
	MaxIterations   int    `json:"max_iterations"`
	OriginalPrompt  string `json:"original_prompt"`
	LinkedUltrawork bool   `json:"linked_ultrawork,omitempty"`
	PRDMode         bool   `json:"prd_mode,omitempty"`
	CurrentStoryID  string `json:"current_story_id,omitempty"`
}

// UltraworkState is the Ultrawork reinforcement document.
type UltraworkState struct {
	Common
	ReinforcementCount int    `json:"reinforcement_count"`
	OriginalPrompt     string `json:"original_prompt"`
	LinkedToRalph      bool   `json:"linked_to_ralph"`
}

// Phase is an Autopilot pipeline phase.
type Phase string

const (
	PhaseExpansion  Phase = "expansion"
	PhasePlanning   Phase = "planning"
	PhaseExecution  Phase = "execution"
	PhaseQA         Phase = "qa"
	PhaseValidation Phase = "validation"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

// IsTerminal reports whether the pipeline has finished.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// ExpansionRecord is Autopilot's expansion-phase sub-record.
type ExpansionRecord struct {
	ExpandedSpec string `json:"expanded_spec,omitempty"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

// PlanningRecord is Autopilot's planning-phase sub-record.
type PlanningRecord struct {
	PlanSummary string `json:"plan_summary,omitempty"`
	TaskCount   int    `json:"task_count,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// ExecutionRecord is Autopilot's execution-phase sub-record.
type ExecutionRecord struct {
	RalphIterations int    `json:"ralph_iterations,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
}

// QARecord is Autopilot's qa-phase sub-record.
type QARecord struct {
	Cycles      int    `json:"cycles,omitempty"`
	MaxCycles   int    `json:"max_cycles,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// VerdictResult is one architect verdict value.
type VerdictResult string

const (
	VerdictApproved VerdictResult = "APPROVED"
	VerdictRejected VerdictResult = "REJECTED"
	VerdictNeedsFix VerdictResult = "NEEDS_FIX"
)

// ValidationRecord tracks the three-architect validation rounds.
type ValidationRecord struct {
	Round       int                      `json:"round"`
	MaxRounds   int                      `json:"max_rounds"`
	Verdicts    map[string]VerdictResult `json:"verdicts,omitempty"` // keyed by functional/security/quality
	AllApproved bool                     `json:"all_approved"`
	StartedAt   string                   `json:"started_at,omitempty"`
	CompletedAt string                   `json:"completed_at,omitempty"`
}

// RequiredVerdictTypes are the three architect roles that must report each
// validation round.
var RequiredVerdictTypes = []string{"functional", "security", "quality"}

// AutopilotState is the 5-phase pipeline document.
type AutopilotState struct {
	Common
	Phase              Phase             `json:"phase"`
	Iteration          int               `json:"iteration"`
	MaxIterations      int               `json:"max_iterations"`
	OriginalIdea       string            `json:"original_idea"`
	Expansion          *ExpansionRecord  `json:"expansion,omitempty"`
	Planning           *PlanningRecord   `json:"planning,omitempty"`
	Execution          *ExecutionRecord  `json:"execution,omitempty"`
	QA                 *QARecord         `json:"qa,omitempty"`
	Validation         *ValidationRecord `json:"validation,omitempty"`
	TotalAgentsSpawned int               `json:"total_agents_spawned"`
	PhaseDurationsMs   map[string]int64  `json:"phase_durations_ms,omitempty"`
	PhaseStartedAt     string            `json:"phase_started_at,omitempty"`
	FailureReason      string            `json:"failure_reason,omitempty"`
}

// UltraQAState is the QA sub-mode document.
type UltraQAState struct {
	Common
	Cycle     int    `json:"cycle"`
	MaxCycles int    `json:"max_cycles"`
	Focus     string `json:"focus,omitempty"`
}

// VerificationState is the Ralph architect-verification document.
type VerificationState struct {
	Common
	Pending           bool   `json:"pending"`
	CompletionClaim   string `json:"completion_claim"`
	OriginalTask      string `json:"original_task,omitempty"`
	Attempts          int    `json:"verification_attempts"`
	MaxAttempts       int    `json:"max_verification_attempts"`
	ArchitectFeedback string `json:"architect_feedback,omitempty"`
	Approved          bool   `json:"approved,omitempty"`
	RequestedAt       string `json:"requested_at,omitempty"`
}

// TeamState is the team-pipeline coordinator document. Ralph only reads its
// phase to detect terminal coordination.
type TeamState struct {
	Common
	Phase string `json:"phase"`
}

// TerminalTeamPhases end a team pipeline and release Ralph.
func (t *TeamState) IsTerminal() bool {
	switch t.Phase {
	case "complete", "failed", "cancelled":
		return true
	default:
		return false
	}
}

// Default caps.
const (
	DefaultRalphMaxIterations      = 50
	DefaultAutopilotMaxIterations  = 10
	DefaultValidationMaxRounds     = 3
	DefaultVerificationMaxAttempts = 3
	DefaultUltraQAMaxCycles        = 5
)
