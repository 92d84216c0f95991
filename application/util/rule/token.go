package rule

import "strings"

// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.2-2
func IsValidToken(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if IsAlpha(c) || IsDigit(c) {
			continue
		}

		switch c {
		case '!', '#', '$', '%', '&', '\'', '*', '+',
			'-', '.', '^', '_', '`', '|', '~':
			continue
		}

		return false
	}

	return true
}

// SplitList splits a comma separated field value into lower-cased tokens.
// Empty list elements are dropped.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.1
func SplitList(value string) []string {
	var tokens []string
	for _, part := range strings.Split(value, ",") {
		part = strings.Trim(part, " \t")
		if part == "" {
			continue
		}
		tokens = append(tokens, strings.ToLower(part))
	}
	return tokens
}
