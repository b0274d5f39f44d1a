package signal

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Mentions reports whether content contains @username as a whole word, ignoring case.
func Mentions(content, username string) bool {
	if username == "" {
		return false
	}
	lower := strings.ToLower(content)
	needle := "@" + strings.ToLower(username)
	for from := 0; ; {
		i := strings.Index(lower[from:], needle)
		if i < 0 {
			return false
		}
		end := from + i + len(needle)
		if end == len(lower) {
			return true
		}
		r, _ := utf8.DecodeRuneInString(lower[end:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return true
		}
		from = end
	}
}
