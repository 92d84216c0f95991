package http

import (
	"bytes"
	"strconv"
	"strings"

	"netkit/application/util/rule"

	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
	"github.com/pkg/errors"
)

// [Major, Minor]
type Version [2]uint

var (
	Version10 = Version{1, 0}
	Version11 = Version{1, 1}
)

// ParseVersion parses http version text(e.g. "HTTP/1.1") into [Version].
func ParseVersion(b []byte) (Version, error) {
	prefix := []byte("HTTP/")
	if !bytes.HasPrefix(b, prefix) {
		return Version{}, errors.Errorf("http version prefix not found: %s", b)
	}

	// Get major and minor version.
	first, second, found := bytes.Cut(b[len(prefix):], []byte{'.'})
	if !found {
		return Version{}, errors.Errorf("dot seperator not found on version: %s", b)
	}

	major, err1 := strconv.ParseUint(string(first), 10, 64)
	minor, err2 := strconv.ParseUint(string(second), 10, 64)
	if err1 != nil || err2 != nil {
		return Version{}, errors.Errorf("http version is not convertable to int: %s", b)
	}

	return Version{uint(major), uint(minor)}, nil
}

func (ver Version) Text() []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write([]byte("HTTP/"))
	buf.Write([]byte(strconv.FormatUint(uint64(ver[0]), 10)))
	buf.Write([]byte{'.'})
	buf.Write([]byte(strconv.FormatUint(uint64(ver[1]), 10)))
	return buf.Bytes()
}

func (ver Version) String() string { return string(ver.Text()) }

// AtLeast reports whether ver is the same as or newer than other.
func (ver Version) AtLeast(other Version) bool {
	if ver[0] != other[0] {
		return ver[0] > other[0]
	}
	return ver[1] >= other[1]
}

// TopLine holds the three space separated parts of a start-line.
//
// For requests they are method, request-target and version.
// For responses they are version, status code and reason phrase. The phrase may be empty.
type TopLine [3]string

// ParseTopLine splits a start-line. It does not interpret the parts
// since the same codec is used for both requests and responses.
func ParseTopLine(line []byte) (TopLine, error) {
	parts := bytes.SplitN(line, []byte{rule.SP}, 3)
	if len(parts) < 2 || len(parts[0]) == 0 || len(parts[1]) == 0 {
		return TopLine{}, errors.Errorf("start line is malformed: %q", line)
	}

	var top TopLine
	for i, part := range parts {
		top[i] = string(part)
	}
	return top, nil
}

func (t TopLine) Text() []byte {
	b := make([]byte, 0, len(t[0])+len(t[1])+len(t[2])+2)
	b = append(b, t[0]...)
	b = append(b, rule.SP)
	b = append(b, t[1]...)
	b = append(b, rule.SP)
	return append(b, t[2]...)
}

func (t TopLine) String() string { return string(t.Text()) }

type Field struct{ Name, Value []byte }

// ParseField parses a single unfolded field line.
func ParseField(fieldLine []byte) (Field, error) {
	name, value, found := bytes.Cut(fieldLine, []byte{':'})
	if !found {
		return Field{}, NewError(KindMalformedHeader, "colon seperator not found on header: %q", fieldLine)
	}

	// No whitespace is allowed between field name and colon.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-2
	if len(name) == 0 {
		return Field{}, NewError(KindMalformedHeader, "empty field name: %q", fieldLine)
	}
	if rule.IsOWS(name[len(name)-1]) {
		return Field{}, NewError(KindHeaderSpace, "field name has trailing whitespace: %q", name)
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-3
	value = bytes.Trim(value, string(rule.OWS))

	return Field{Name: bytes.Clone(name), Value: bytes.Clone(value)}, nil
}

func (f *Field) Text() []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(f.Name)
	buf.Write([]byte(": "))
	buf.Write(f.Value)
	return buf.Bytes()
}

// Headers is an ordered list of fields. Duplicates are kept in the order received.
// Name lookups are case-insensitive.
type Headers []Field

// NewHeaders builds headers from name, value pairs.
func NewHeaders(pairs ...string) Headers {
	if len(pairs)%2 != 0 {
		panic("http: odd number of header pairs")
	}
	h := make(Headers, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		h.Add(pairs[i], pairs[i+1])
	}
	return h
}

// Get returns the first value of the field.
func (h Headers) Get(name string) (string, bool) {
	for _, f := range h {
		if strcomp.EqualFold(uf.B2S(f.Name), name) {
			return string(f.Value), true
		}
	}
	return "", false
}

// Values returns every value of the field in order.
func (h Headers) Values(name string) []string {
	var values []string
	for _, f := range h {
		if strcomp.EqualFold(uf.B2S(f.Name), name) {
			values = append(values, string(f.Value))
		}
	}
	return values
}

func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Tokens returns the lower-cased list elements of every line of the field.
func (h Headers) Tokens(name string) []string {
	var tokens []string
	for _, v := range h.Values(name) {
		tokens = append(tokens, rule.SplitList(v)...)
	}
	return tokens
}

// HasToken reports whether the list-based field contains token, case-insensitively.
func (h Headers) HasToken(name, token string) bool {
	for _, t := range h.Tokens(name) {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}

func (h *Headers) Add(name, value string) {
	*h = append(*h, Field{Name: []byte(name), Value: []byte(value)})
}

// Set replaces every line of the field with a single one.
// The new line takes the position of the first removed line, or the end.
func (h *Headers) Set(name, value string) {
	for i, f := range *h {
		if strcomp.EqualFold(uf.B2S(f.Name), name) {
			(*h)[i] = Field{Name: []byte(name), Value: []byte(value)}
			rest := (*h)[i+1:].Without(name)
			*h = append((*h)[:i+1], rest...)
			return
		}
	}
	h.Add(name, value)
}

func (h *Headers) Del(name string) { *h = h.Without(name) }

// Without returns a copy of h without the named fields.
func (h Headers) Without(names ...string) Headers {
	out := make(Headers, 0, len(h))
	for _, f := range h {
		drop := false
		for _, name := range names {
			if strcomp.EqualFold(uf.B2S(f.Name), name) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, f)
		}
	}
	return out
}

func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	for i, f := range h {
		out[i] = Field{Name: bytes.Clone(f.Name), Value: bytes.Clone(f.Value)}
	}
	return out
}
