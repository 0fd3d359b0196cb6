// Package transcript scans session transcript text for workflow signals:
// phase-completion tokens, architect verdicts, and rejection phrasing.
//
// Matching is case-insensitive and ignores fenced or inline code, so a signal
// quoted inside a code sample does not advance any state machine.
package transcript

import (
	"io"
	"os"
	"regexp"
	"strings"
)

// Phase-completion and intent signals emitted as literal ASCII tokens.
const (
	SignalExpansionComplete    = "EXPANSION_COMPLETE"
	SignalPlanningComplete     = "PLANNING_COMPLETE"
	SignalExecutionComplete    = "EXECUTION_COMPLETE"
	SignalQAComplete           = "QA_COMPLETE"
	SignalValidationComplete   = "VALIDATION_COMPLETE"
	SignalAutopilotComplete    = "AUTOPILOT_COMPLETE"
	SignalTransitionToQA       = "TRANSITION_TO_QA"
	SignalTransitionToValidate = "TRANSITION_TO_VALIDATION"
)

// maxTailBytes bounds how much transcript is read per scan. Signals appear
// near the end of the session, so the tail is all that matters.
const maxTailBytes = 256 * 1024

var (
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`\n]*`")

	approvalRe = regexp.MustCompile(`(?is)<architect-approved>.*?VERIFIED_COMPLETE.*?</architect-approved>`)

	rejectionRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brejected\b`),
		regexp.MustCompile(`(?i)\bissues?\s+found\b`),
		regexp.MustCompile(`(?i)\bnot\s+complete\b`),
		regexp.MustCompile(`(?i)\bmissing\s+\w+`),
		regexp.MustCompile(`(?i)\b(?:bug|error)s?\s+found\b`),
	}

	// Verdict tokens used by autopilot validation: VERDICT_FUNCTIONAL: APPROVED
	verdictRe = regexp.MustCompile(`(?im)^\s*VERDICT[_\s](FUNCTIONAL|SECURITY|QUALITY)\s*[:=]\s*(APPROVED|REJECTED|NEEDS_FIX)\b`)
)

// StripCode removes fenced and inline code spans, mirroring the keyword
// detector's stripping rule.
func StripCode(s string) string {
	s = fencedCodeRe.ReplaceAllString(s, "")
	return inlineCodeRe.ReplaceAllString(s, "")
}

// HasSignal reports whether the literal token occurs outside code spans.
func HasSignal(text, signal string) bool {
	return strings.Contains(strings.ToUpper(StripCode(text)), strings.ToUpper(signal))
}

// DetectApproval reports an architect approval tag with VERIFIED_COMPLETE
// inside it, matched across newlines.
func DetectApproval(text string) bool {
	return approvalRe.MatchString(StripCode(text))
}

// DetectRejection reports rejection phrasing. The returned feedback is the
// line containing the first rejection match, for surfacing to the loop.
func DetectRejection(text string) (feedback string, rejected bool) {
	stripped := StripCode(text)
	for _, re := range rejectionRes {
		loc := re.FindStringIndex(stripped)
		if loc == nil {
			continue
		}
		return surroundingLine(stripped, loc[0]), true
	}
	return "", false
}

// Verdict is one architect verdict from the validation phase.
type Verdict struct {
	Type   string // functional, security, quality
	Result string // APPROVED, REJECTED, NEEDS_FIX
}

// DetectVerdicts extracts all validation verdict lines in order. Later
// verdicts of the same type supersede earlier ones.
func DetectVerdicts(text string) []Verdict {
	matches := verdictRe.FindAllStringSubmatch(StripCode(text), -1)
	latest := map[string]string{}
	var order []string
	for _, m := range matches {
		typ := strings.ToLower(m[1])
		if _, seen := latest[typ]; !seen {
			order = append(order, typ)
		}
		latest[typ] = strings.ToUpper(m[2])
	}
	verdicts := make([]Verdict, 0, len(order))
	for _, typ := range order {
		verdicts = append(verdicts, Verdict{Type: typ, Result: latest[typ]})
	}
	return verdicts
}

func surroundingLine(s string, offset int) string {
	start := strings.LastIndexByte(s[:offset], '\n') + 1
	end := strings.IndexByte(s[offset:], '\n')
	if end == -1 {
		end = len(s)
	} else {
		end += offset
	}
	return strings.TrimSpace(s[start:end])
}

// ReadTail loads up to maxTailBytes from the end of a transcript file.
// Missing files read as empty.
func ReadTail(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() > maxTailBytes {
		if _, err := f.Seek(-maxTailBytes, io.SeekEnd); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
