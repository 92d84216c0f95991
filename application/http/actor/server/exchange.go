package server

import (
	"bytes"
	"log/slog"
	"strconv"

	"netkit/application/http"
	"netkit/application/http/status"
	"netkit/lib/event"
	"netkit/transport"

	"github.com/pkg/errors"
)

var ErrExchangeState = errors.New("exchange used out of order")

// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.7
const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Exchange is one request of a connection and the response to it.
type Exchange struct {
	conn   *conn
	logger *slog.Logger

	method  string
	target  string
	version http.Version
	headers http.Headers

	// closeAfter closes the connection once the response is flushed.
	closeAfter bool
	started    bool
	reqDone    bool
	aborted    bool

	trailers http.Headers

	onBody event.Listeners[[]byte]
	onDone event.Listeners[http.Headers]
	onErr  event.Listeners[error]

	enc        *http.Encoder
	buf        bytes.Buffer
	resStarted bool
	resDone    bool
	resStatus  int
}

func newExchange(c *conn, method, target string, version http.Version, headers http.Headers) *Exchange {
	ex := &Exchange{
		conn:    c,
		logger:  c.logger.With("method", method, "target", target),
		method:  method,
		target:  target,
		version: version,
		headers: headers,
	}
	ex.enc = http.NewEncoder(exchangeWriter{ex}, c.server.opts.Serve.Encode)
	return ex
}

func (ex *Exchange) Method() string        { return ex.method }
func (ex *Exchange) Target() string        { return ex.target }
func (ex *Exchange) Version() http.Version { return ex.version }
func (ex *Exchange) Headers() http.Headers { return ex.headers }
func (ex *Exchange) RemoteAddr() string    { return ex.conn.tc.RemoteAddr() }

// RequestDone reports whether the whole request body was received.
func (ex *Exchange) RequestDone() bool { return ex.reqDone }

func (ex *Exchange) OnRequestBody(fn func(chunk []byte)) { ex.onBody.Add(fn) }

func (ex *Exchange) OnRequestDone(fn func(trailers http.Headers)) { ex.onDone.Add(fn) }

// OnError reports a request that can not be completed, and a connection closed early.
func (ex *Exchange) OnError(fn func(err error)) { ex.onErr.Add(fn) }

// ResponseStart writes the status line and headers.
// An empty phrase is replaced with the registered one.
// Connection and Transfer-Encoding are managed by the server.
func (ex *Exchange) ResponseStart(code int, phrase string, headers http.Headers) error {
	if err := ex.check(); err != nil {
		return err
	}
	if ex.resStarted {
		return errors.Wrap(ErrExchangeState, "response already started")
	}
	if code < 100 || code > 999 {
		return errors.Errorf("invalid status code %d", code)
	}
	if phrase == "" {
		s, _ := status.FromCode(code)
		phrase = s.ReasonPhrase
	}

	h := headers.Without(http.HeaderConnection, http.HeaderKeepAlive, http.HeaderTransferEncoding)
	if !h.Has("Date") {
		// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-6.6.1-6
		h.Add("Date", ex.conn.server.clock.Now().UTC().Format(dateFormat))
	}

	mode, err := ex.selectMode(code, &h)
	if err != nil {
		return err
	}

	if ex.closeAfter {
		h.Add(http.HeaderConnection, "close")
	} else if !ex.version.AtLeast(http.Version11) {
		h.Add(http.HeaderConnection, "keep-alive")
	}

	top := http.TopLine{http.Version11.String(), strconv.Itoa(code), phrase}
	if err := ex.enc.Start(top, h, mode); err != nil {
		return err
	}
	ex.resStarted = true
	ex.resStatus = code
	ex.conn.flush()
	return nil
}

// selectMode decides how the response body is delimited.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func (ex *Exchange) selectMode(code int, h *http.Headers) (http.Mode, error) {
	if status.IsInformational(code) || code == status.NoContent.Code {
		*h = h.Without(http.HeaderContentLength)
		return http.Mode{Kind: http.NoBody}, nil
	}
	if status.HasNoBody(code) || ex.method == "HEAD" {
		return http.Mode{Kind: http.NoBody}, nil
	}

	if values := h.Values(http.HeaderContentLength); len(values) > 0 {
		cl, errs := http.ParseContentLength(values)
		if len(errs) > 0 || cl == nil {
			return http.Mode{}, http.NewError(http.KindMalformedCL, "response Content-Length %q", values)
		}
		return http.Mode{Kind: http.Counted, Length: *cl}, nil
	}

	if ex.version.AtLeast(http.Version11) {
		h.Add(http.HeaderTransferEncoding, "chunked")
		return http.Mode{Kind: http.Chunked}, nil
	}
	ex.closeAfter = true
	return http.Mode{Kind: http.CloseDelimited}, nil
}

// ResponseBody writes a chunk of the response body.
// Chunks of a response that has no body are dropped.
func (ex *Exchange) ResponseBody(chunk []byte) error {
	if err := ex.check(); err != nil {
		return err
	}
	if !ex.resStarted || ex.resDone {
		return errors.Wrap(ErrExchangeState, "body outside response")
	}

	err := ex.enc.Body(chunk)
	if errors.Is(err, http.ErrBodyForbidden) {
		ex.logger.Debug("dropping response body", "status", ex.resStatus, "err", err)
		return nil
	}
	return err
}

// ResponseDone finishes the response. Trailers are only sent with a chunked body.
func (ex *Exchange) ResponseDone(trailers http.Headers) error {
	if err := ex.check(); err != nil {
		return err
	}
	if !ex.resStarted || ex.resDone {
		return errors.Wrap(ErrExchangeState, "response not in progress")
	}

	closeConn, err := ex.enc.End(trailers)
	if err != nil {
		// The peer can not find the end of this response anymore.
		ex.logger.Error("broken response", "err", err)
		ex.closeAfter = true
	}
	if closeConn {
		ex.closeAfter = true
	}
	ex.resDone = true
	ex.conn.flush()
	return err
}

// Respond writes a whole response with body at once.
func (ex *Exchange) Respond(code int, headers http.Headers, body []byte) error {
	h := headers.Without(http.HeaderContentLength)
	h.Add(http.HeaderContentLength, http.ContentLengthValue(uint64(len(body))))
	if err := ex.ResponseStart(code, "", h); err != nil {
		return err
	}
	if err := ex.ResponseBody(body); err != nil {
		return err
	}
	return ex.ResponseDone(nil)
}

// Error answers with the status err maps to and closes the connection afterwards.
func (ex *Exchange) Error(err error) error {
	if err == nil {
		return errors.New("using Error() with nil error is forbidden")
	}
	ex.closeAfter = true

	se := status.FromError(err)
	body := []byte(se.Status.String() + "\n")
	return ex.Respond(se.Status.Code, http.NewHeaders("Content-Type", "text/plain; charset=utf-8"), body)
}

func (ex *Exchange) check() error {
	if ex.aborted {
		return transport.ErrConnClosed
	}
	return nil
}

// abort ends the exchange early. Listeners learn about it unless it already completed.
func (ex *Exchange) abort(err error) {
	if ex.aborted {
		return
	}
	ex.aborted = true
	if !ex.reqDone || !ex.resDone {
		ex.onErr.Emit(err)
	}
}
