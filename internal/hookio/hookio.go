// Package hookio decodes host hook payloads from stdin, dispatches them to
// the enforcer and tracker, and encodes decisions back to stdout. A hook that
// crashes must never wedge the host, so every handler resolves to a
// continue=true envelope no matter what goes wrong.
package hookio

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"omc/internal/config"
	"omc/internal/enforcer"
	"omc/internal/logging"
	"omc/internal/tracker"
	"omc/internal/transcript"
)

var logger = logging.NewComponentLogger("hookio")

// Input is the host hook payload. One shape covers all hook kinds; unused
// fields stay zero.
type Input struct {
	SessionID      string `json:"session_id"`
	Cwd            string `json:"cwd"`
	StopReason     string `json:"stop_reason,omitempty"`
	UserRequested  bool   `json:"user_requested,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	PendingTodos   int    `json:"pending_todos,omitempty"`

	AgentID     string `json:"agent_id,omitempty"`
	AgentType   string `json:"agent_type,omitempty"`
	Description string `json:"description,omitempty"`
	Success     *bool  `json:"success,omitempty"`
	Output      string `json:"output,omitempty"`

	InputTokens     int     `json:"input_tokens,omitempty"`
	OutputTokens    int     `json:"output_tokens,omitempty"`
	CacheReadTokens int     `json:"cache_read_tokens,omitempty"`
	CostUSD         float64 `json:"cost_usd,omitempty"`

	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolError  string          `json:"tool_error,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// Output is the decision envelope returned to the host.
type Output struct {
	Continue           bool   `json:"continue"`
	Message            string `json:"message,omitempty"`
	Reason             string `json:"reason,omitempty"`
	HookSpecificOutput any    `json:"hookSpecificOutput,omitempty"`
}

// Allow is the neutral decision.
func Allow() Output { return Output{Continue: true} }

// Decode reads a hook payload, repairing malformed JSON where possible.
func Decode(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read hook input: %w", err)
	}
	in := &Input{}
	if err := json.Unmarshal(data, in); err == nil {
		return finishDecode(in)
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return nil, fmt.Errorf("parse hook input: malformed payload")
	}
	if err := json.Unmarshal([]byte(repaired), in); err != nil {
		return nil, fmt.Errorf("parse hook input: %w", err)
	}
	return finishDecode(in)
}

func finishDecode(in *Input) (*Input, error) {
	if in.Cwd == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve cwd: %w", err)
		}
		in.Cwd = cwd
	}
	return in, nil
}

// Write encodes a decision to the host.
func Write(w io.Writer, out Output) error {
	return json.NewEncoder(w).Encode(out)
}

// Run decodes a payload, runs the handler, and writes the decision. Any
// error or panic degrades to a plain continue so the host is never blocked
// by a broken hook.
func Run(r io.Reader, w io.Writer, handler func(*Input) Output) {
	out := Allow()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("hook panic: %v", p)
			out = Allow()
		}
		if err := Write(w, out); err != nil {
			logger.Error("hook output write: %v", err)
		}
	}()

	in, err := Decode(r)
	if err != nil {
		logger.Warn("hook input rejected: %v", err)
		return
	}
	out = handler(in)
}

// HandleStopEvent runs the enforcer for a stop hook. Enforcement is soft:
// continue is always true and blocking rides in the message.
func HandleStopEvent(in *Input) Output {
	text := in.StopReason
	if in.TranscriptPath != "" {
		tail, err := transcript.ReadTail(in.TranscriptPath)
		if err != nil {
			logger.Warn("transcript read: %v", err)
		} else {
			text = tail
		}
	}

	recorder := tracker.NewRecorder(in.Cwd, in.SessionID, logger)
	recorder.Append("system", tracker.EventHookFire, map[string]any{"hook": "stop"})

	// Stop events fire regularly, so this is where agents that went silent
	// past the stale window get marked failed.
	if stale, err := tracker.New(in.Cwd, in.SessionID).CleanupStaleAgents(); err != nil {
		logger.Warn("stale agent cleanup: %v", err)
	} else if len(stale) > 0 {
		logger.Info("marked %d stale agent(s) failed", len(stale))
	}

	decision := enforcer.HandleStop(config.Load(), enforcer.Input{
		SessionID:      in.SessionID,
		Cwd:            in.Cwd,
		StopReason:     in.StopReason,
		UserRequested:  in.UserRequested,
		TranscriptText: text,
		PendingTodos:   in.PendingTodos,
	})
	recorder.Append("system", tracker.EventHookResult, map[string]any{
		"hook":  "stop",
		"block": decision.ShouldBlock,
		"mode":  decision.Mode,
	})

	out := Allow()
	out.Message = decision.Message
	return out
}

// HandleSubagentStart registers a spawned agent and reports the running count
// plus any stale agents to the host.
func HandleSubagentStart(in *Input) Output {
	tr := tracker.New(in.Cwd, in.SessionID)
	result, err := tr.OnSubagentStart(tracker.StartInput{
		AgentID:     in.AgentID,
		AgentType:   in.AgentType,
		Description: in.Description,
	})
	if err != nil {
		logger.Warn("subagent start: %v", err)
		return Allow()
	}
	out := Allow()
	out.HookSpecificOutput = result
	return out
}

// HandleSubagentStop closes an agent record, folding in any token and cost
// totals the host reports for the finished agent.
func HandleSubagentStop(in *Input) Output {
	tr := tracker.New(in.Cwd, in.SessionID)
	if in.InputTokens > 0 || in.OutputTokens > 0 || in.CacheReadTokens > 0 || in.CostUSD > 0 {
		if err := tr.UpdateTokenUsage(in.AgentID, tracker.TokenUsage{
			InputTokens:     in.InputTokens,
			OutputTokens:    in.OutputTokens,
			CacheReadTokens: in.CacheReadTokens,
			CostUSD:         in.CostUSD,
		}); err != nil {
			logger.Warn("token usage: %v", err)
		}
	}
	if err := tr.OnSubagentStop(tracker.StopInput{
		AgentID: in.AgentID,
		Success: in.Success,
		Output:  in.Output,
	}); err != nil {
		logger.Warn("subagent stop: %v", err)
	}
	return Allow()
}

// HandlePreTool logs the tool start to the replay stream. Tools are never
// vetoed here.
func HandlePreTool(in *Input) Output {
	agentID := in.AgentID
	if agentID == "" {
		agentID = "system"
	}
	recorder := tracker.NewRecorder(in.Cwd, in.SessionID, logger)
	recorder.Append(agentID, tracker.EventToolStart, map[string]any{"tool": in.ToolName})
	return Allow()
}

// Tools whose input names a file the calling agent is mutating. Their
// file_path argument feeds the ownership record behind conflict detection.
var fileMutatingTools = map[string]bool{
	"write":        true,
	"edit":         true,
	"multiedit":    true,
	"notebookedit": true,
}

// toolFilePath pulls the target file out of a tool input payload.
func toolFilePath(input json.RawMessage) string {
	var args struct {
		FilePath string `json:"file_path"`
		Path     string `json:"path"`
	}
	if json.Unmarshal(input, &args) != nil {
		return ""
	}
	if args.FilePath != "" {
		return args.FilePath
	}
	return args.Path
}

// HandlePostTool records the outcome of a tool call: failures feed the
// last-tool-error record that steers retry guidance, successes clear it, and
// agent-attributed calls land in the tracker's timing log and, for
// file-mutating tools, the agent's file-ownership set.
func HandlePostTool(in *Input) Output {
	if in.ToolError != "" {
		if err := enforcer.RecordToolError(in.Cwd, in.ToolName, string(in.ToolInput), in.ToolError); err != nil {
			logger.Warn("tool error record: %v", err)
		}
		recorder := tracker.NewRecorder(in.Cwd, in.SessionID, logger)
		recorder.Append("system", tracker.EventError, map[string]any{
			"tool":  in.ToolName,
			"error": in.ToolError,
		})
	} else {
		if err := enforcer.ClearToolError(in.Cwd); err != nil {
			logger.Warn("tool error clear: %v", err)
		}
	}

	if in.AgentID != "" {
		tr := tracker.New(in.Cwd, in.SessionID)
		success := in.ToolError == ""
		if err := tr.RecordToolUsageWithTiming(in.AgentID, in.ToolName, in.DurationMs, success); err != nil {
			logger.Warn("tool usage record: %v", err)
		}
		if success && fileMutatingTools[strings.ToLower(in.ToolName)] {
			if path := toolFilePath(in.ToolInput); path != "" {
				if err := tr.RecordFileOwnership(in.AgentID, path); err != nil {
					logger.Warn("file ownership record: %v", err)
				}
			}
		}
	}
	return Allow()
}
