// Package util holds small helpers shared across the runtime.
package util

const ellipsis = "..."

// TruncateString caps s at maxLen runes, appending "..." when it had to
// cut. With preserveWords the cut backs up to the last space before the
// limit when one exists. Safe on multi-byte text.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= len(ellipsis) {
		return ellipsis[:maxLen]
	}

	keep := maxLen - len(ellipsis)
	if preserveWords {
		if at := lastSpaceBeforeRune(runes, keep); at > 0 {
			keep = at
		}
	}
	return string(runes[:keep]) + ellipsis
}

// lastSpaceBeforeRune reports the index of the last whitespace rune
// strictly before pos, or -1. pos past the end clamps to the end.
func lastSpaceBeforeRune(runes []rune, pos int) int {
	if pos > len(runes) {
		pos = len(runes)
	}
	last := -1
	for i := 0; i < pos; i++ {
		switch runes[i] {
		case ' ', '\t', '\n':
			last = i
		}
	}
	return last
}
