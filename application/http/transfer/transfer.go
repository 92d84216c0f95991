package transfer

import "strings"

type Coding string

// Registered transfer codings.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-7
const (
	CodingChunked  Coding = "chunked"
	CodingCompress Coding = "compress"
	CodingDeflate  Coding = "deflate"
	CodingGzip     Coding = "gzip"
	CodingIdentity Coding = "identity"
)

// IsKnown reports whether the coding is registered.
// The engine never applies codings other than chunked, but it recognizes them.
func IsKnown(coding string) bool {
	switch Coding(strings.ToLower(coding)) {
	case CodingChunked, CodingCompress, CodingDeflate, CodingGzip, CodingIdentity:
		return true
	}
	// x-gzip and x-compress are aliases.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-7.2
	switch strings.ToLower(coding) {
	case "x-gzip", "x-compress":
		return true
	}
	return false
}

// IsChunked reports whether the final coding applied is chunked.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.4.1
func IsChunked(codings []string) bool {
	if len(codings) == 0 {
		return false
	}
	return strings.EqualFold(codings[len(codings)-1], string(CodingChunked))
}
