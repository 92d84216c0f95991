package rule

const (
	CR   byte = '\r'
	LF   byte = '\n'
	SP   byte = ' '
	HTAB byte = '\t'
	VT   byte = 0x0B
	FF   byte = 0x0C
)

var (
	OWS         = []byte{SP, HTAB}
	CRLF        = []byte{CR, LF}
	Whitespaces = []byte{SP, HTAB, VT, FF, CR}
)

func IsWhitespace(c byte) bool {
	for _, ws := range Whitespaces {
		if c == ws {
			return true
		}
	}
	return false
}

// IsOWS reports whether c is optional whitespace.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.3
func IsOWS(c byte) bool { return c == SP || c == HTAB }

func IsAlpha(c byte) bool { return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') }
func IsDigit(c byte) bool { return '0' <= c && c <= '9' }
func IsHex(c byte) bool {
	return IsDigit(c) || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
