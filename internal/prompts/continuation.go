package prompts

import "fmt"

// continuationProtocol tells an agent how to ask for another iteration.
// The format verb is the iteration limit.
const continuationProtocol = `

## Continuing your work

You may work in several iterations (at most %d). At the end of every reply, state whether you need another iteration with a fenced json block:

` + "```json" + `
{"status": "CONTINUE", "reason": "why", "next_action": {"type": "tool|analysis|report", "description": "what you will do next"}, "progress": {"current_step": 1, "total_steps": 3, "completion_percentage": 33}}
` + "```" + `

Use "status": "TERMINATE" when the task is complete or you need input from the user.%s`

// ContinuationProtocol returns the instructions appended to an agent's
// system prompt. When required is true, a reply without the block ends
// the loop.
func ContinuationProtocol(maxIterations int, required bool) string {
	tail := ""
	if required {
		tail = " If you omit the block, your work stops after this reply."
	}
	return fmt.Sprintf(continuationProtocol, maxIterations, tail)
}
