package prompts

import "fmt"

// EmptyResponseNudge is injected when the model returns no content
// right after tool results. It gives the model one more chance to
// produce a user-visible response.
const EmptyResponseNudge = "You executed tool calls but did not provide a response. Please respond now."

// EmptyResponseFallback is returned when the model produces no content
// even after being nudged.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."

// BudgetExhausted is appended before the final tools-withheld call when
// a turn runs out of tool calls.
const BudgetExhausted = "You have used all tool calls available for this turn. Using only what you have gathered so far, give your best final answer now."

// MailboxActivation is the synthetic message that wakes an agent which
// has unread mail.
func MailboxActivation(unread int) string {
	noun := "message"
	if unread != 1 {
		noun = "messages"
	}
	return fmt.Sprintf("You have %d unread %s. Check your mailbox with check_mail and act on what you find. Reply with the result.", unread, noun)
}

// HandoffToolDescription is the LLM-facing description of the handoff tool.
const HandoffToolDescription = `Hand the conversation to another agent once your current reply is finished. Leave the other agent a note with send_mail first if it needs context; it will be woken to read its mail.`
