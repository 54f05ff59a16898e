package executor

import (
	"fmt"
	"strings"
	"time"
)

// FormatExecutionTime renders a duration the way humans read execution
// times: milliseconds under a second, one-decimal seconds under a
// minute, then minutes and seconds.
func FormatExecutionTime(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := d.Seconds() - float64(m)*60
	return fmt.Sprintf("%dm %.1fs", m, s)
}

// ExtractErrorMessage trims driver noise off an exception string: a
// leading "Message: " prefix and module-qualified exception class
// paths, keeping only the class name.
func ExtractErrorMessage(raw string) string {
	msg := strings.TrimSpace(raw)
	msg = strings.TrimPrefix(msg, "Message: ")
	head, tail, found := strings.Cut(msg, ":")
	if !found {
		return msg
	}
	if i := strings.LastIndex(head, "."); i >= 0 && !strings.ContainsAny(head, " \t") {
		return head[i+1:] + ":" + tail
	}
	return msg
}

// blockKeywords open an indented suite in Python and therefore need a
// colon somewhere on the line.
var blockKeywords = []string{
	"def", "class", "if", "elif", "else", "for", "while",
	"try", "except", "finally", "with",
}

// IsValidPythonCode runs cheap plausibility checks before code goes to
// a kernel: balanced quotes and brackets, block keywords carrying a
// colon, no dangling import. It gates obvious junk, it is not a parser.
func IsValidPythonCode(code string) bool {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return false
	}
	if !balancedDelimiters(trimmed) {
		return false
	}
	for _, line := range strings.Split(trimmed, "\n") {
		l := strings.TrimSpace(line)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		if l == "import" || l == "from" {
			return false
		}
		for _, kw := range blockKeywords {
			if l == kw || strings.HasPrefix(l, kw+" ") || strings.HasPrefix(l, kw+"(") {
				if !strings.Contains(l, ":") {
					return false
				}
				break
			}
		}
	}
	return true
}

// balancedDelimiters scans the code once, tracking bracket nesting and
// string state. Comments are skipped; a string left open at the end
// counts as unbalanced.
func balancedDelimiters(code string) bool {
	var stack []rune
	var inStr rune
	escaped := false
	inComment := false

	for _, r := range code {
		if inComment {
			if r == '\n' {
				inComment = false
			}
			continue
		}
		if escaped {
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if inStr != 0 {
			if r == inStr {
				inStr = 0
			}
			continue
		}
		switch r {
		case '#':
			inComment = true
		case '\'', '"':
			inStr = r
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != opener(r) {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0 && inStr == 0
}

func opener(closer rune) rune {
	switch closer {
	case ')':
		return '('
	case ']':
		return '['
	default:
		return '{'
	}
}
