package http

import (
	"bytes"
	"strconv"
	"strings"

	"netkit/application/util/rule"
)

const (
	HeaderConnection       = "Connection"
	HeaderContentLength    = "Content-Length"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderHost             = "Host"
	HeaderKeepAlive        = "Keep-Alive"
)

// blockEnd returns the index right after the empty line terminating a field block, or -1.
func blockEnd(p []byte) int {
	start := 0
	for {
		idx := bytes.IndexByte(p[start:], rule.LF)
		if idx < 0 {
			return -1
		}
		line := p[start : start+idx]
		start += idx + 1
		if len(line) == 0 || (len(line) == 1 && line[0] == rule.CR) {
			return start
		}
	}
}

// splitLines splits a field block into lines, dropping terminators and the final empty line.
func splitLines(block []byte) [][]byte {
	var lines [][]byte
	for len(block) > 0 {
		line, rest, _ := bytes.Cut(block, []byte{rule.LF})
		line = bytes.TrimSuffix(line, []byte{rule.CR})
		if len(line) == 0 {
			break
		}
		lines = append(lines, line)
		block = rest
	}
	return lines
}

// parseFieldLines parses field lines, unfolding obsolete line folding.
// A continuation line with nothing to continue is reported with orphan kind and dropped.
// Every problem is collected so that callers in inspect mode can report all of them.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.2
func parseFieldLines(lines [][]byte, orphan Kind) (Headers, []error) {
	var (
		logical [][]byte
		errs    []error
	)
	for _, line := range lines {
		if rule.IsOWS(line[0]) {
			if len(logical) == 0 {
				errs = append(errs, NewError(orphan, "continuation line without field: %q", line))
				continue
			}
			last := len(logical) - 1
			logical[last] = append(bytes.TrimRight(logical[last], string(rule.OWS)), rule.SP)
			logical[last] = append(logical[last], bytes.TrimLeft(line, string(rule.OWS))...)
			continue
		}
		logical = append(logical, bytes.Clone(line))
	}

	headers := make(Headers, 0, len(logical))
	for _, line := range logical {
		field, err := ParseField(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		headers = append(headers, field)
	}
	return headers, errs
}

// ParseContentLength checks every Content-Length value, comma separated lists included.
// Differing values are a [ErrDuplicateCL], anything but digits is a [ErrMalformedCL].
// The first valid value is returned even with errors.
func ParseContentLength(values []string) (*uint64, []error) {
	var (
		length *uint64
		errs   []error
	)
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.Trim(part, " \t")
			n, ok := parseDigits(part)
			if !ok {
				errs = append(errs, NewError(KindMalformedCL, "%q", part))
				continue
			}
			if length == nil {
				length = &n
				continue
			}
			if *length != n {
				errs = append(errs, NewError(KindDuplicateCL, "%d and %d", *length, n))
			}
		}
	}
	return length, errs
}

func parseDigits(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if !rule.IsDigit(s[i]) {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil
}

// connMeta is what a message head says about the connection and framing.
type connMeta struct {
	connTokens    []string
	transferCodes []string
	contentLength *uint64
}

func extractMeta(headers Headers) (connMeta, []error) {
	meta := connMeta{
		connTokens:    headers.Tokens(HeaderConnection),
		transferCodes: headers.Tokens(HeaderTransferEncoding),
	}
	cl, errs := ParseContentLength(headers.Values(HeaderContentLength))
	if len(meta.transferCodes) > 0 {
		// Transfer-Encoding overrides Content-Length.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.3
		return meta, nil
	}
	meta.contentLength = cl
	return meta, errs
}

func isBlank(p []byte) bool {
	for _, c := range p {
		if c != rule.LF && !rule.IsWhitespace(c) {
			return false
		}
	}
	return true
}
