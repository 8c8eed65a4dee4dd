package continuation

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Status is the directive carried by a Signal.
type Status string

const (
	StatusContinue  Status = "CONTINUE"
	StatusTerminate Status = "TERMINATE"
)

// NextAction hints at what the agent intends to do on the next iteration.
type NextAction struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// Progress is the agent's own estimate of how far along it is.
type Progress struct {
	CurrentStep          int     `json:"current_step"`
	TotalSteps           int     `json:"total_steps"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

// Signal is the structured continuation directive an agent may embed in
// its reply, either as a fenced json block or a bare JSON object:
//
//	{"status": "CONTINUE", "reason": "...",
//	 "next_action": {"type": "...", "description": "..."},
//	 "progress": {"current_step": 1, "total_steps": 3, "completion_percentage": 33}}
//
// The object may also be wrapped as {"continuation": {...}}.
type Signal struct {
	Status     Status      `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	NextAction *NextAction `json:"next_action,omitempty"`
	Progress   *Progress   `json:"progress,omitempty"`
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?[ \t]*\n(.*?)\n?```")

type span struct{ start, end int }

// maxBareScan bounds how much of a reply is searched for an unfenced
// signal.
const maxBareScan = 16 << 10

// ExtractSignal returns the last well-formed Signal in content.
func ExtractSignal(content string) (*Signal, bool) {
	sig, _, ok := locateSignal(content)
	return sig, ok
}

// StripSignal removes the signal located by ExtractSignal from content
// and trims the result. Content without a signal is returned trimmed.
func StripSignal(content string) string {
	_, sp, ok := locateSignal(content)
	if !ok {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(content[:sp.start] + content[sp.end:])
}

// FormatSignal renders sig as a fenced json block suitable for
// embedding in assistant output.
func FormatSignal(sig Signal) string {
	b, _ := json.MarshalIndent(sig, "", "  ") // plain fields only; cannot fail
	return "```json\n" + string(b) + "\n```"
}

func locateSignal(content string) (*Signal, span, bool) {
	var (
		found *Signal
		at    span
	)

	for _, m := range fencedJSON.FindAllStringSubmatchIndex(content, -1) {
		if sig, ok := parseSignal(content[m[2]:m[3]]); ok {
			found, at = sig, span{m[0], m[1]}
		}
	}
	if found != nil {
		return found, at, true
	}

	// Bare objects: decode from each '{' that opens an object, keep the
	// last signal, and resume after every object that decodes so nested
	// braces are never rescanned. Signals trail the reply, so only its
	// tail is searched.
	from := max(0, len(content)-maxBareScan)
	for i := from; i < len(content); i++ {
		if content[i] != '{' || !opensObject(content[i+1:]) {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(content[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		end := i + int(dec.InputOffset())
		if sig, ok := parseSignal(string(raw)); ok {
			found, at = sig, span{i, end}
		}
		i = end - 1
	}
	return found, at, found != nil
}

// opensObject reports whether rest, the text after a '{', can continue
// a non-empty JSON object.
func opensObject(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	return strings.HasPrefix(rest, `"`)
}

func parseSignal(text string) (*Signal, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}

	var wrapped struct {
		Continuation *Signal `json:"continuation"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err == nil && wrapped.Continuation != nil {
		if sig, ok := normalize(wrapped.Continuation); ok {
			return sig, true
		}
	}

	var sig Signal
	if err := json.Unmarshal([]byte(text), &sig); err != nil {
		return nil, false
	}
	return normalize(&sig)
}

func normalize(sig *Signal) (*Signal, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(string(sig.Status)))) {
	case StatusContinue:
		sig.Status = StatusContinue
	case StatusTerminate:
		sig.Status = StatusTerminate
	default:
		return nil, false
	}
	return sig, true
}
