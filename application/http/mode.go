package http

import (
	"strconv"

	"netkit/application/http/transfer"
)

type ModeKind uint8

const (
	NoBody ModeKind = iota
	Counted
	Chunked
	CloseDelimited
)

func (k ModeKind) String() string {
	switch k {
	case NoBody:
		return "no-body"
	case Counted:
		return "counted"
	case Chunked:
		return "chunked"
	case CloseDelimited:
		return "close-delimited"
	}
	return "mode(" + strconv.Itoa(int(k)) + ")"
}

// Mode is how the end of a message body is found. It is chosen once per message.
type Mode struct {
	Kind ModeKind
	// Length is only meaningful for Counted.
	Length uint64
}

func (m Mode) String() string {
	if m.Kind == Counted {
		return "counted(" + strconv.FormatUint(m.Length, 10) + ")"
	}
	return m.Kind.String()
}

// SelectMode picks the delimiting mode of an incoming message.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func SelectMode(allowsBody bool, transferCodes []string, contentLength *uint64) Mode {
	switch {
	case !allowsBody:
		return Mode{Kind: NoBody}
	case len(transferCodes) > 0:
		if transfer.IsChunked(transferCodes) {
			return Mode{Kind: Chunked}
		}
		return Mode{Kind: CloseDelimited}
	case contentLength != nil:
		return Mode{Kind: Counted, Length: *contentLength}
	default:
		return Mode{Kind: CloseDelimited}
	}
}
