package logutil

import "strings"

// SanitizeForLog strips control characters from user-supplied strings before
// they reach the process log, so a hostname or username cannot forge extra
// log lines.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return ' '
		}
		return r
	}, s)
}
