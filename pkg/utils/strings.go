package utils

// Truncate shortens s to max runes, appending an ellipsis when it cuts.
// Used for log previews of chat messages.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
