package http

import (
	"bytes"

	"netkit/application/http/transfer"
	"netkit/application/util/rule"
)

type State uint8

const (
	StateWaiting State = iota
	StateBodyInProgress
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateBodyInProgress:
		return "body"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Handler receives decoded messages. Slices passed to it are only valid during the call.
type Handler interface {
	// OnStart is called once the message head is complete.
	// It reports whether the message may carry a body. A returned error fails the decoder.
	OnStart(top TopLine, headers Headers, connTokens []string, transferCodes []string, contentLength *uint64) (allowsBody bool, err error)
	OnBody(chunk []byte)
	OnEnd(trailers Headers)
	OnError(err error)
}

type DecodeOptions struct {
	// Inspect reports header level errors but keeps decoding.
	Inspect bool
	// MaxHeaderBlockLength limits start line plus fields, and the trailer section. 0 means unlimited.
	MaxHeaderBlockLength int
	MaxChunkSizeLineLength int
}

var DefaultDecodeOptions = DecodeOptions{
	MaxHeaderBlockLength:   64 * 1024,
	MaxChunkSizeLineLength: transfer.DefaultMaxChunkLineLength,
}

// Decoder parses one direction of a connection.
// Bytes are pushed with [Decoder.Feed] in chunks of any size.
type Decoder struct {
	handler Handler
	opts    DecodeOptions

	state      State
	mode       Mode
	remaining  uint64
	chunks     *transfer.ChunkDecoder
	inTrailers bool

	buf          []byte
	paused       bool
	dispatching  bool
	closed       bool
	closePending bool
}

func NewDecoder(handler Handler, opts DecodeOptions) *Decoder {
	chunks := transfer.NewChunkDecoder()
	chunks.MaxLineLength = opts.MaxChunkSizeLineLength
	return &Decoder{
		handler: handler,
		opts:    opts,
		chunks:  chunks,
	}
}

func (d *Decoder) State() State { return d.state }

// Mode is the delimiting mode of the current message.
func (d *Decoder) Mode() Mode { return d.mode }

// Pending reports whether a message is partially received.
func (d *Decoder) Pending() bool {
	return d.state == StateBodyInProgress || (d.state == StateWaiting && !isBlank(d.buf))
}

// Feed pushes received bytes. Once failed or closed, it does nothing.
func (d *Decoder) Feed(p []byte) {
	if d.state == StateFailed || d.closed {
		return
	}
	d.buf = append(d.buf, p...)
	d.process()
}

// Pause stops dispatching at the next step. Fed bytes are buffered meanwhile.
func (d *Decoder) Pause() { d.paused = true }

func (d *Decoder) Resume() {
	if !d.paused {
		return
	}
	d.paused = false
	d.process()
}

func (d *Decoder) Paused() bool { return d.paused }

// Close tells the decoder that no more bytes arrive.
// A close delimited body ends. Any other partial message is a [ErrConnClosed].
func (d *Decoder) Close() {
	if d.closed {
		return
	}
	d.closed = true
	d.paused = false
	if d.dispatching {
		d.closePending = true
		return
	}
	d.process()
	d.finish()
}

func (d *Decoder) finish() {
	defer func() { d.buf = nil }()

	switch d.state {
	case StateWaiting:
		if !isBlank(d.buf) {
			d.fail(NewError(KindConnClosed, "incomplete message head"))
		}
	case StateBodyInProgress:
		if d.mode.Kind == CloseDelimited {
			d.state = StateWaiting
			d.handler.OnEnd(nil)
			return
		}
		d.fail(NewError(KindConnClosed, "incomplete %s body", d.mode))
	}
}

func (d *Decoder) process() {
	if d.dispatching {
		return
	}
	d.dispatching = true

	off := 0
	for !d.paused && d.state != StateFailed && off < len(d.buf) {
		n, progressed := d.step(d.buf[off:])
		off += n
		if !progressed {
			break
		}
	}

	if d.state == StateFailed {
		d.buf = nil
	} else {
		d.buf = append(d.buf[:0], d.buf[off:]...)
	}
	d.dispatching = false

	if d.closePending {
		d.closePending = false
		d.process()
		d.finish()
	}
}

func (d *Decoder) step(p []byte) (n int, progressed bool) {
	if d.state == StateWaiting {
		return d.stepHead(p)
	}

	switch d.mode.Kind {
	case Counted:
		take := uint64(len(p))
		if take > d.remaining {
			take = d.remaining
		}
		if take > 0 {
			d.handler.OnBody(p[:take])
		}
		d.remaining -= take
		if d.remaining == 0 {
			d.end(nil)
		}
		return int(take), true
	case CloseDelimited:
		d.handler.OnBody(p)
		return len(p), true
	case Chunked:
		if d.inTrailers {
			return d.stepTrailers(p)
		}
		n, done, err := d.chunks.Decode(p, d.handler.OnBody)
		if err != nil {
			err = WrapError(KindChunk, err, "")
			if !d.opts.Inspect {
				d.fail(err)
				return n, false
			}
			// Whatever follows can no longer be delimited.
			d.handler.OnError(err)
			d.mode = Mode{Kind: CloseDelimited}
			return n, true
		}
		if done {
			d.inTrailers = true
		}
		return n, n > 0
	}

	d.end(nil)
	return 0, true
}

func (d *Decoder) stepHead(p []byte) (int, bool) {
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-6
	skipped := 0
	for skipped < len(p) {
		if p[skipped] == rule.LF {
			skipped++
			continue
		}
		if p[skipped] == rule.CR && skipped+1 < len(p) && p[skipped+1] == rule.LF {
			skipped += 2
			continue
		}
		break
	}
	if skipped > 0 {
		return skipped, true
	}

	end := blockEnd(p)
	if end < 0 {
		if d.tooLarge(len(p)) {
			d.fail(NewError(KindHeaderTooLarge, "incomplete head exceeds %d bytes", d.opts.MaxHeaderBlockLength))
		}
		return 0, false
	}
	if d.tooLarge(end) {
		d.fail(NewError(KindHeaderTooLarge, "head of %d bytes exceeds %d", end, d.opts.MaxHeaderBlockLength))
		return end, false
	}

	lines := splitLines(p[:end])
	top, err := ParseTopLine(lines[0])
	if err != nil {
		d.fail(WrapError(KindMalformedTopLine, err, ""))
		return end, false
	}

	var errs []error
	fieldLines := lines[1:]
	for len(fieldLines) > 0 && rule.IsOWS(fieldLines[0][0]) {
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-8
		errs = append(errs, NewError(KindTopLineSpace, "%q", fieldLines[0]))
		fieldLines = fieldLines[1:]
	}
	headers, fieldErrs := parseFieldLines(fieldLines, KindTopLineSpace)
	errs = append(errs, fieldErrs...)
	meta, metaErrs := extractMeta(headers)
	errs = append(errs, metaErrs...)

	if !d.report(errs) {
		return end, false
	}

	allowsBody, err := d.handler.OnStart(top, headers, meta.connTokens, meta.transferCodes, meta.contentLength)
	if err != nil {
		d.fail(err)
		return end, false
	}
	if d.state == StateFailed {
		return end, false
	}

	d.mode = SelectMode(allowsBody, meta.transferCodes, meta.contentLength)
	switch d.mode.Kind {
	case NoBody:
		d.end(nil)
	case Counted:
		d.remaining = d.mode.Length
		d.state = StateBodyInProgress
		if d.remaining == 0 {
			d.end(nil)
		}
	case Chunked:
		d.chunks.Reset()
		d.inTrailers = false
		d.state = StateBodyInProgress
	case CloseDelimited:
		d.state = StateBodyInProgress
	}
	return end, true
}

func (d *Decoder) stepTrailers(p []byte) (int, bool) {
	end := blockEnd(p)
	if end < 0 {
		if d.tooLarge(len(p)) {
			d.fail(NewError(KindHeaderTooLarge, "incomplete trailers exceed %d bytes", d.opts.MaxHeaderBlockLength))
		}
		return 0, false
	}
	if d.tooLarge(end) {
		d.fail(NewError(KindHeaderTooLarge, "trailers of %d bytes exceed %d", end, d.opts.MaxHeaderBlockLength))
		return end, false
	}

	trailers, errs := parseFieldLines(splitLines(p[:end]), KindMalformedHeader)
	if !d.report(errs) {
		return end, false
	}
	if len(trailers) == 0 {
		trailers = nil
	}
	d.end(trailers)
	return end, true
}

// report fails on the first error, or passes every error to the handler in inspect mode.
// It returns whether decoding goes on.
func (d *Decoder) report(errs []error) bool {
	if len(errs) == 0 {
		return true
	}
	if !d.opts.Inspect {
		d.fail(errs[0])
		return false
	}
	for _, err := range errs {
		d.handler.OnError(err)
	}
	return true
}

func (d *Decoder) tooLarge(n int) bool {
	return d.opts.MaxHeaderBlockLength > 0 && n > d.opts.MaxHeaderBlockLength
}

func (d *Decoder) end(trailers Headers) {
	d.state = StateWaiting
	d.inTrailers = false
	d.remaining = 0
	d.handler.OnEnd(trailers)
}

func (d *Decoder) fail(err error) {
	d.state = StateFailed
	d.handler.OnError(err)
}

// Buffered returns a copy of bytes received but not yet dispatched.
func (d *Decoder) Buffered() []byte { return bytes.Clone(d.buf) }
