package ps1

import "strings"

// Default sentinel literals. The begin marker sits on its own line so the
// scanner can anchor it at a line start.
const (
	DefaultBeginMarker = "\n###PS1JSON###\n"
	DefaultEndMarker   = "\n###PS1END###"
)

// promptJSON is the object the shell expands on every prompt.
// Keys are the wire protocol: pid, exit_code, username, hostname,
// working_dir, py_interpreter_path.
const promptJSON = `{
  "pid": "${!:-null}",
  "exit_code": "${?:-null}",
  "username": "\u",
  "hostname": "\h",
  "working_dir": "$(pwd)",
  "py_interpreter_path": "$(which python 2>/dev/null || echo null)"
}`

// templateTokens are shell substitutions that survive only when the prompt
// was printed without being expanded.
var templateTokens = []string{`$!`, `$?`, `\u`, `\h`, `$(pwd)`, `$(which`}

// PromptTemplate renders a PS1 value that emits the metadata block after
// every command. Each sentinel is placed on its own line.
func PromptTemplate(begin, end string) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(begin))
	b.WriteString("\n")
	b.WriteString(promptJSON)
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(end))
	b.WriteString("\n")
	return b.String()
}

// DefaultPrompt is PromptTemplate with the default sentinels.
func DefaultPrompt() string {
	return PromptTemplate(DefaultBeginMarker, DefaultEndMarker)
}

// isUnexpandedTemplate reports whether payload still carries shell
// substitution syntax.
func isUnexpandedTemplate(payload string) bool {
	for _, tok := range templateTokens {
		if strings.Contains(payload, tok) {
			return true
		}
	}
	return false
}
