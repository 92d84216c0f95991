package http

import (
	"io"
	"strconv"

	"netkit/application/http/transfer"
	"netkit/application/util/rule"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

type EncodeOptions struct {
	// SkipValidation writes field names and values without checking them.
	SkipValidation bool
}

var DefaultEncodeOptions = EncodeOptions{}

var ErrEncoderState = errors.New("encoder used out of order")

// Encoder writes messages to a sink.
// Each message is one Start, any number of Body and one End call.
type Encoder struct {
	w    io.Writer
	opts EncodeOptions

	started bool
	mode    Mode
	written uint64
	buf     []byte
}

func NewEncoder(w io.Writer, opts EncodeOptions) *Encoder {
	return &Encoder{w: w, opts: opts}
}

// Mode is the delimiting mode of the message being written.
func (e *Encoder) Mode() Mode { return e.mode }

func (e *Encoder) Started() bool { return e.started }

// Start writes the start line and the header block.
// Framing headers are the caller's. They must agree with mode.
func (e *Encoder) Start(top TopLine, headers Headers, mode Mode) error {
	if e.started {
		return errors.Wrap(ErrEncoderState, "message already started")
	}
	if err := e.validate(headers); err != nil {
		return err
	}

	e.buf = append(e.buf[:0], top.Text()...)
	e.buf = append(e.buf, rule.CRLF...)
	e.buf = appendFields(e.buf, headers)
	e.buf = append(e.buf, rule.CRLF...)
	if err := e.write(e.buf); err != nil {
		return err
	}

	e.started = true
	e.mode = mode
	e.written = 0
	return nil
}

func (e *Encoder) Body(chunk []byte) error {
	if !e.started {
		return errors.Wrap(ErrEncoderState, "body before start")
	}
	if len(chunk) == 0 {
		return nil
	}

	switch e.mode.Kind {
	case NoBody:
		return NewError(KindBodyForbidden, "%d bytes for a message without body", len(chunk))
	case Counted:
		if e.written+uint64(len(chunk)) > e.mode.Length {
			return NewError(KindBodyOverflow, "%d bytes over %d", e.written+uint64(len(chunk)), e.mode.Length)
		}
		e.written += uint64(len(chunk))
		return e.write(chunk)
	case Chunked:
		e.written += uint64(len(chunk))
		e.buf = transfer.AppendChunk(e.buf[:0], chunk)
		return e.write(e.buf)
	default:
		e.written += uint64(len(chunk))
		return e.write(chunk)
	}
}

// End finishes the message. Trailers are only written for chunked messages.
// closeConn reports that the message can only be delimited by closing the connection.
func (e *Encoder) End(trailers Headers) (closeConn bool, err error) {
	if !e.started {
		return false, errors.Wrap(ErrEncoderState, "end before start")
	}
	e.started = false

	switch e.mode.Kind {
	case Counted:
		if e.written < e.mode.Length {
			return false, NewError(KindBodyUnderflow, "%d of %d bytes", e.written, e.mode.Length)
		}
	case Chunked:
		if err := e.validate(trailers); err != nil {
			return false, err
		}
		e.buf = transfer.AppendLastChunk(e.buf[:0])
		e.buf = appendFields(e.buf, trailers)
		e.buf = append(e.buf, rule.CRLF...)
		return false, e.write(e.buf)
	case CloseDelimited:
		return true, nil
	}
	return false, nil
}

// Written is the number of body bytes written so far, without framing.
func (e *Encoder) Written() uint64 { return e.written }

func (e *Encoder) write(p []byte) error {
	if _, err := e.w.Write(p); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (e *Encoder) validate(headers Headers) error {
	if e.opts.SkipValidation {
		return nil
	}
	for _, f := range headers {
		if !httpguts.ValidHeaderFieldName(string(f.Name)) {
			return NewError(KindMalformedHeader, "invalid field name %q", f.Name)
		}
		if !httpguts.ValidHeaderFieldValue(string(f.Value)) {
			return NewError(KindMalformedHeader, "invalid value for %q", f.Name)
		}
	}
	return nil
}

func appendFields(dst []byte, headers Headers) []byte {
	for _, f := range headers {
		dst = append(dst, f.Name...)
		dst = append(dst, ':', rule.SP)
		dst = append(dst, f.Value...)
		dst = append(dst, rule.CRLF...)
	}
	return dst
}

// ContentLengthValue formats n for a Content-Length field.
func ContentLengthValue(n uint64) string { return strconv.FormatUint(n, 10) }
