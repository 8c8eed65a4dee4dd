package prompts

import (
	"strings"
	"testing"
)

func TestMailboxActivation(t *testing.T) {
	if got := MailboxActivation(1); !strings.Contains(got, "1 unread message.") {
		t.Errorf("singular: %q", got)
	}
	if got := MailboxActivation(3); !strings.Contains(got, "3 unread messages") {
		t.Errorf("plural: %q", got)
	}
	if !strings.Contains(MailboxActivation(1), "check_mail") {
		t.Error("activation should name the check_mail tool")
	}
}

func TestContinuationProtocol(t *testing.T) {
	optional := ContinuationProtocol(10, false)
	if !strings.Contains(optional, "at most 10") || !strings.Contains(optional, `"status": "CONTINUE"`) {
		t.Errorf("protocol = %q", optional)
	}
	if strings.Contains(optional, "omit") {
		t.Error("optional protocol should not threaten termination")
	}
	if !strings.Contains(ContinuationProtocol(3, true), "If you omit the block") {
		t.Error("required protocol should explain termination")
	}
}

func TestMonitorPrompts(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{StallRecovery(31), "31 seconds"},
		{ToolLoopCorrection("check_mail", 3), "check_mail"},
		{ErrorBurstRecovery(5), "5 errors"},
	}
	for _, tt := range tests {
		if !strings.Contains(tt.got, tt.want) || !strings.HasPrefix(tt.got, "[monitor]") {
			t.Errorf("%q should contain %q and carry the monitor prefix", tt.got, tt.want)
		}
	}
}
