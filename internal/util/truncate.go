// Package util contains small helpers shared across the runtime.
package util

import "fmt"

// Truncate shortens text to at most maxLen characters, replacing the tail
// with an ellipsis.
func Truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return text[:maxLen]
	}
	return text[:maxLen-3] + "..."
}

// TruncateMiddle shortens text longer than maxChars to maxChars characters
// of content, a 66% head and a 34% tail, joined by an omission marker that
// comes on top of maxChars. Used for oversized tool results so both the
// start and the end of the output survive.
func TruncateMiddle(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	omitted := len(text) - maxChars
	head := maxChars * 66 / 100
	tail := maxChars - head
	return text[:head] +
		fmt.Sprintf("\n\n...[output truncated: omitted %d chars for context safety]...\n\n", omitted) +
		text[len(text)-tail:]
}
