// Package prompts contains the LLM prompt text Conclave sends on its own
// behalf: agent system prompts, the continuation protocol, mailbox
// activation, and the recovery messages injected by the monitor.
//
// Prompt text is Go code rather than config because it is program
// logic: templates use fmt.Sprintf interpolation and are checked by
// tests. Operators can still override an agent's system prompt in
// config.yaml.
//
// Convention: each prompt category gets its own file with exported
// constants or a function that accepts the dynamic parts and returns the
// interpolated string.
package prompts
