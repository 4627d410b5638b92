package ps1

import (
	"regexp"
	"strings"
	"unicode"
)

// jsonInteger matches a bare JSON integer literal.
var jsonInteger = regexp.MustCompile(`^-?(0|[1-9][0-9]*)$`)

// RepairJSON quotes the keys and values of a one-key-per-line object whose
// shell expansion dropped the quoting, e.g.
//
//	{
//	  pid: 123,
//	  username: alice
//	}
//
// Indentation and trailing commas are kept. Nested objects/arrays and
// colons inside quoted keys are rejected. It returns false when the input
// is not shaped like a brace-delimited block. A true result does not mean
// the output is valid JSON; callers still parse it.
func RepairJSON(payload string) (string, bool) {
	lines := strings.Split(strings.TrimSpace(payload), "\n")
	first := strings.TrimSpace(lines[0])
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(first, "{") || !strings.HasSuffix(last, "}") {
		return "", false
	}

	fixed := make([]string, 0, len(lines))
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		switch {
		case stripped == "{" || stripped == "}":
			fixed = append(fixed, line)
		case strings.Contains(stripped, ":"):
			repaired, ok := repairLine(line, stripped)
			if !ok {
				return "", false
			}
			fixed = append(fixed, repaired)
		default:
			fixed = append(fixed, line)
		}
	}

	return strings.Join(fixed, "\n"), true
}

// repairLine requotes a single "key: value[,]" line.
func repairLine(line, stripped string) (string, bool) {
	indent := line[:len(line)-len(strings.TrimLeftFunc(line, unicode.IsSpace))]

	prop, rest, _ := strings.Cut(stripped, ":")
	prop = strings.TrimSpace(prop)
	rest = strings.TrimSpace(rest)

	hasComma := strings.HasSuffix(rest, ",")
	value := strings.TrimSpace(strings.TrimRight(rest, ","))

	if strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
		return "", false
	}

	if !isQuoted(prop) {
		if strings.HasPrefix(prop, `"`) {
			// the first colon was inside a quoted key
			return "", false
		}
		prop = `"` + prop + `"`
	}

	if value != "null" && !jsonInteger.MatchString(value) && !isQuoted(value) {
		value = `"` + value + `"`
	}

	comma := ""
	if hasComma {
		comma = ","
	}
	return indent + prop + ": " + value + comma, true
}

func isQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}
