package tools

import (
	"fmt"
	"strings"
)

// MaxOutputChars bounds the combined summary; each stream gets half.
const MaxOutputChars = 10_000

// Truncate keeps the first max characters of s and appends a marker when
// anything was dropped. Characters are runes, not bytes.
func Truncate(s string, max int) string {
	if max < 0 {
		max = 0
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return fmt.Sprintf("%s\n[... output truncated at %d chars]", string(runes[:max]), max)
}

// FormatOutput renders the combined summary:
//
//	stdout:
//	<stdout>
//
//	stderr:
//	<stderr>
//
//	exit_code: N
//
// Empty streams are omitted.
func FormatOutput(stdout string, stderr string, exitCode int64) string {
	stdout = Truncate(stdout, MaxOutputChars/2)
	stderr = Truncate(stderr, MaxOutputChars/2)

	var b strings.Builder
	if stdout != "" {
		b.WriteString("stdout:\n")
		b.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			b.WriteByte('\n')
		}
	}
	if stderr != "" {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("stderr:\n")
		b.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "\nexit_code: %d", exitCode)
	return b.String()
}
