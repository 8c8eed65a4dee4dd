package prompts

import "fmt"

// StallRecovery is injected into a session whose turn stopped making
// progress.
func StallRecovery(idleSeconds int) string {
	return fmt.Sprintf("[monitor] No progress for %d seconds. Your previous step was interrupted. Summarise where you are and continue with the next step, or report what is blocking you.", idleSeconds)
}

// ToolLoopCorrection is injected after an agent repeated the same tool
// call and its state was reset.
func ToolLoopCorrection(tool string, count int) string {
	return fmt.Sprintf("[monitor] You called %s with identical arguments %d times in a row without making progress. Your working state was reset. Take a different approach, or explain to the user why you cannot proceed.", tool, count)
}

// ErrorBurstRecovery is injected after repeated backend or tool errors.
func ErrorBurstRecovery(errors int) string {
	return fmt.Sprintf("[monitor] %d errors occurred in quick succession. Stop retrying the failing operation, summarise what went wrong, and propose a way forward.", errors)
}
