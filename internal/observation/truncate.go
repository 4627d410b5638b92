package observation

import "unicode/utf8"

// DefaultMaxChars is the truncation threshold when none is configured.
const DefaultMaxChars = 30000

// TruncationNotice replaces the dropped middle of oversized output.
const TruncationNotice = "\n[... Observation truncated due to length ...]\n"

// Truncate bounds content to its first and last maxChars/2 characters with
// TruncationNotice in between. Content of at most maxChars characters is
// returned unchanged. Lengths are counted in runes so multi-byte
// characters are never split. maxChars <= 0 selects DefaultMaxChars.
func Truncate(content string, maxChars int) string {
	out, _ := truncate(content, maxChars)
	return out
}

// truncate is Truncate that also reports whether the middle was dropped.
func truncate(content string, maxChars int) (string, bool) {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if len(content) <= maxChars {
		return content, false
	}
	total := utf8.RuneCountInString(content)
	if total <= maxChars {
		return content, false
	}

	half := maxChars / 2
	head := runeOffset(content, half)
	tail := runeOffset(content, total-half)
	return content[:head] + TruncationNotice + content[tail:], true
}

// runeOffset returns the byte offset of the n-th rune of s.
func runeOffset(s string, n int) int {
	if n <= 0 {
		return 0
	}
	i := 0
	for offset := range s {
		if i == n {
			return offset
		}
		i++
	}
	return len(s)
}
