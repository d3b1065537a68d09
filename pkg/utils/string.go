package utils

// Truncate shortens s to maxLen and marks the cut with an ellipsis. Used to
// mask secret config values so listings never print a full credential.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
