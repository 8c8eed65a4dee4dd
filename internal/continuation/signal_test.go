package continuation

import (
	"strings"
	"testing"
)

func TestExtractSignal(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantOK     bool
		wantStatus Status
	}{
		{name: "no signal", content: "All tests pass.", wantOK: false},
		{
			name:       "fenced block",
			content:    "Step one done.\n```json\n{\"status\": \"CONTINUE\", \"reason\": \"two steps left\"}\n```",
			wantOK:     true,
			wantStatus: StatusContinue,
		},
		{
			name:       "bare object",
			content:    `Finished. {"status": "TERMINATE", "reason": "all done"}`,
			wantOK:     true,
			wantStatus: StatusTerminate,
		},
		{
			name:       "wrapped",
			content:    `{"continuation": {"status": "continue"}}`,
			wantOK:     true,
			wantStatus: StatusContinue,
		},
		{
			name:    "unknown status ignored",
			content: `{"status": "MAYBE"}`,
			wantOK:  false,
		},
		{
			name:    "tool call json is not a signal",
			content: `{"name": "check_mail", "arguments": {}}`,
			wantOK:  false,
		},
		{
			name:       "last signal wins",
			content:    `{"status": "CONTINUE"} then later {"status": "TERMINATE"}`,
			wantOK:     true,
			wantStatus: StatusTerminate,
		},
		{
			name:    "malformed fence",
			content: "```json\n{\"status\": \"CONTINUE\"\n```",
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, ok := ExtractSignal(tt.content)
			if ok != tt.wantOK {
				t.Fatalf("ExtractSignal ok = %v, want %v (sig %+v)", ok, tt.wantOK, sig)
			}
			if ok && sig.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", sig.Status, tt.wantStatus)
			}
		})
	}
}

func TestSignalRoundTrip(t *testing.T) {
	tests := []Signal{
		{Status: StatusContinue},
		{
			Status:     StatusContinue,
			Reason:     "halfway",
			NextAction: &NextAction{Type: "tool", Description: "run the integration suite"},
			Progress:   &Progress{CurrentStep: 2, TotalSteps: 4, CompletionPercentage: 50},
		},
		{
			Status:   StatusTerminate,
			Reason:   "plan complete",
			Progress: &Progress{CurrentStep: 4, TotalSteps: 4, CompletionPercentage: 100},
		},
	}

	for _, want := range tests {
		text := "Working on it.\n\n" + FormatSignal(want)
		got, ok := ExtractSignal(text)
		if !ok {
			t.Fatalf("round trip lost signal %+v in %q", want, text)
		}
		if got.Status != want.Status || got.Reason != want.Reason {
			t.Errorf("status/reason = %q/%q, want %q/%q", got.Status, got.Reason, want.Status, want.Reason)
		}
		if (got.Progress == nil) != (want.Progress == nil) {
			t.Fatalf("progress presence mismatch: %+v vs %+v", got.Progress, want.Progress)
		}
		if want.Progress != nil && *got.Progress != *want.Progress {
			t.Errorf("progress = %+v, want %+v", *got.Progress, *want.Progress)
		}
		if want.NextAction != nil && *got.NextAction != *want.NextAction {
			t.Errorf("next_action = %+v, want %+v", *got.NextAction, *want.NextAction)
		}
	}
}

func TestStripSignal(t *testing.T) {
	content := "Plan drafted.\n\n" + FormatSignal(Signal{Status: StatusTerminate})
	if got := StripSignal(content); got != "Plan drafted." {
		t.Errorf("StripSignal = %q", got)
	}

	bare := `Here you go {"status":"CONTINUE"} more text`
	if got := StripSignal(bare); got != "Here you go  more text" {
		t.Errorf("StripSignal(bare) = %q", got)
	}

	if got := StripSignal("  plain  "); got != "plain" {
		t.Errorf("StripSignal(plain) = %q", got)
	}
}

func TestExtractSignal_BraceHeavyContent(t *testing.T) {
	// Deeply nested JSON that is not a signal: rescanning it from every
	// brace would be quadratic.
	const depth = 1000
	nested := strings.Repeat(`{"a":`, depth) + "1" + strings.Repeat("}", depth)
	code := strings.Repeat("func f() { if x { y() } }\n", 200)
	content := code + nested + "\n" + `{"status": "CONTINUE", "reason": "more to do"}`

	sig, ok := ExtractSignal(content)
	if !ok || sig.Status != StatusContinue || sig.Reason != "more to do" {
		t.Fatalf("ExtractSignal = %+v, %v", sig, ok)
	}

	// A status field inside a larger object is part of that object, not
	// a signal of its own.
	if sig, ok := ExtractSignal(`{"result": {"status": "TERMINATE"}}`); ok {
		t.Errorf("nested status extracted as signal: %+v", sig)
	}

	// Only the tail of a long reply is searched.
	early := `{"status": "TERMINATE"}` + strings.Repeat("x", maxBareScan)
	if sig, ok := ExtractSignal(early); ok {
		t.Errorf("signal far from the end extracted: %+v", sig)
	}
}
