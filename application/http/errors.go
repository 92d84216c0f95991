package http

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an [Error].
type Kind uint8

const (
	KindChunk Kind = iota + 1
	KindDuplicateCL
	KindMalformedCL
	KindBodyForbidden
	KindHTTPVersion
	KindReadTimeout
	KindTransferCode
	KindHeaderSpace
	KindTopLineSpace
	KindTooManyMsgs
	KindURL
	KindLengthRequired
	KindConnect
	KindHostRequired

	KindMalformedHeader
	KindMalformedTopLine
	KindHeaderTooLarge
	KindConnClosed
	KindBodyOverflow
	KindBodyUnderflow
)

type kindInfo struct {
	name        string
	desc        string
	status      int
	recoverable bool
}

var kinds = map[Kind]kindInfo{
	KindChunk:            {"chunk", "chunked encoding error", 400, false},
	KindDuplicateCL:      {"duplicate_cl", "conflicting Content-Length headers", 400, false},
	KindMalformedCL:      {"malformed_cl", "malformed Content-Length header", 400, false},
	KindBodyForbidden:    {"body_forbidden", "message body is not allowed", 400, false},
	KindHTTPVersion:      {"http_version", "unsupported HTTP version", 505, false},
	KindReadTimeout:      {"read_timeout", "read timeout", 408, false},
	KindTransferCode:     {"transfer_code", "unknown transfer coding", 501, false},
	KindHeaderSpace:      {"header_space", "whitespace between header name and colon", 400, false},
	KindTopLineSpace:     {"top_line_space", "whitespace after start line", 400, false},
	KindTooManyMsgs:      {"too_many_msgs", "too many pipelined messages", 400, false},
	KindURL:              {"url", "unsupported or invalid URL", 400, true},
	KindLengthRequired:   {"length_required", "content length required", 411, true},
	KindConnect:          {"connect", "connection error", 504, true},
	KindHostRequired:     {"host_required", "Host header required", 400, false},
	KindMalformedHeader:  {"malformed_header", "malformed header line", 400, false},
	KindMalformedTopLine: {"malformed_top_line", "malformed start line", 400, false},
	KindHeaderTooLarge:   {"header_too_large", "header block too large", 431, false},
	KindConnClosed:       {"conn_closed", "connection closed before message completed", 400, false},
	KindBodyOverflow:     {"body_overflow", "body exceeds content length", 500, false},
	KindBodyUnderflow:    {"body_underflow", "body shorter than content length", 500, false},
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Sentinels matched with errors.Is against any [Error] of the same kind.
var (
	ErrChunk          = &Error{Kind: KindChunk}
	ErrDuplicateCL    = &Error{Kind: KindDuplicateCL}
	ErrMalformedCL    = &Error{Kind: KindMalformedCL}
	ErrBodyForbidden  = &Error{Kind: KindBodyForbidden}
	ErrHTTPVersion    = &Error{Kind: KindHTTPVersion}
	ErrReadTimeout    = &Error{Kind: KindReadTimeout}
	ErrTransferCode   = &Error{Kind: KindTransferCode}
	ErrHeaderSpace    = &Error{Kind: KindHeaderSpace}
	ErrTopLineSpace   = &Error{Kind: KindTopLineSpace}
	ErrTooManyMsgs    = &Error{Kind: KindTooManyMsgs}
	ErrURL            = &Error{Kind: KindURL}
	ErrLengthRequired = &Error{Kind: KindLengthRequired}
	ErrConnect        = &Error{Kind: KindConnect}
	ErrHostRequired   = &Error{Kind: KindHostRequired}

	ErrMalformedHeader  = &Error{Kind: KindMalformedHeader}
	ErrMalformedTopLine = &Error{Kind: KindMalformedTopLine}
	ErrHeaderTooLarge   = &Error{Kind: KindHeaderTooLarge}
	ErrConnClosed       = &Error{Kind: KindConnClosed}
	ErrBodyOverflow     = &Error{Kind: KindBodyOverflow}
	ErrBodyUnderflow    = &Error{Kind: KindBodyUnderflow}
)

// Error is a protocol error raised by the codec or an exchange.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapError creates an error of kind caused by err.
func WrapError(kind Kind, err error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, cause: err}
}

func (e *Error) Error() string {
	msg := kinds[e.Kind].desc
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Cause() error  { return e.cause }
func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Recoverable reports whether the connection may still be reused after the error.
// A connect error follows its cause when the cause is itself recoverable.
func (e *Error) Recoverable() bool {
	if e.Kind == KindConnect && e.cause != nil {
		var r interface{ Recoverable() bool }
		if errors.As(e.cause, &r) {
			return r.Recoverable()
		}
	}
	return kinds[e.Kind].recoverable
}

// Status is the response status a server answers the error with.
func (e *Error) Status() int {
	if s := kinds[e.Kind].status; s != 0 {
		return s
	}
	return 400
}

// IsRecoverable reports whether err is an [Error] that allows connection reuse.
// Errors outside the taxonomy are never recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable()
	}
	return false
}
