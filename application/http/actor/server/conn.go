package server

import (
	"log/slog"
	"strings"

	"netkit/application/http"
	"netkit/application/http/transfer"
	"netkit/lib/ds/queue"
	"netkit/transport"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

// conn serves one accepted connection.
// Its decoder feeds requests into a queue of exchanges answered in order.
type conn struct {
	server *Server
	tc     transport.Conn
	dec    *http.Decoder
	logger *slog.Logger

	// Holds one slot more than the pipeline limit for an error response.
	queue *queue.Circular[*Exchange]
	// The exchange whose request body is being received.
	reading *Exchange

	outPaused bool
	failed    bool
	closed    bool

	// Close once the request being read ends.
	closeOnEnd bool

	idleTimer transport.Handle
	readTimer transport.Handle
}

func newConn(s *Server, tc transport.Conn) *conn {
	c := &conn{
		server: s,
		tc:     tc,
		logger: s.logger.With("conn", tc.RemoteAddr()),
		queue:  queue.NewCircular[*Exchange](s.opts.Pipeline.MaxPipeline + 1),
	}
	c.dec = http.NewDecoder(c, s.opts.Serve.Decode)

	tc.OnReadable(c.onReadable)
	tc.OnClose(c.onClose)
	tc.OnPause(c.onPause)

	c.logger.Debug("connection accepted")
	c.armIdle()
	return c
}

func (c *conn) onReadable(p []byte) {
	if c.closed || c.failed {
		return
	}
	cancelTimer(&c.idleTimer)
	c.dec.Feed(p)
	c.updateTimers()
}

func (c *conn) updateTimers() {
	if c.closed || c.failed {
		return
	}
	if c.dec.Pending() {
		c.armRead()
	} else {
		cancelTimer(&c.readTimer)
	}
	c.armIdle()
}

func (c *conn) onClose(err error) {
	if c.closed {
		return
	}
	c.logger.Debug("connection closed by peer", "err", err)
	c.failed = true
	c.dec.Close()
	c.close()
}

func (c *conn) onPause(paused bool) {
	if c.closed {
		return
	}
	c.outPaused = paused
	c.tc.Pause(paused || c.failed)
	if paused {
		c.dec.Pause()
		return
	}

	var waiting []*Exchange
	c.queue.Each(func(ex *Exchange) bool {
		if !ex.started {
			waiting = append(waiting, ex)
		}
		return true
	})
	for _, ex := range waiting {
		if c.closed || c.outPaused {
			return
		}
		c.start(ex)
	}
	if !c.closed && !c.outPaused {
		c.dec.Resume()
		c.updateTimers()
	}
}

func (c *conn) OnStart(top http.TopLine, headers http.Headers, connTokens, transferCodes []string, contentLength *uint64) (bool, error) {
	if c.closed {
		return false, transport.ErrConnClosed
	}
	if err := validateRequest(top, headers, transferCodes); err != nil {
		return false, err
	}
	if c.queue.Len() >= c.server.opts.Pipeline.MaxPipeline {
		return false, http.NewError(http.KindTooManyMsgs, "more than %d requests in flight", c.server.opts.Pipeline.MaxPipeline)
	}

	version, _ := http.ParseVersion([]byte(top[2]))
	ex := newExchange(c, top[0], top[1], version, headers)
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-9.3
	ex.closeAfter = hasToken(connTokens, "close") ||
		(!version.AtLeast(http.Version11) && !hasToken(connTokens, "keep-alive"))

	c.queue.Enqueue(ex)
	c.reading = ex

	// Requests without framing have no body.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.7
	allowsBody := len(transferCodes) > 0 || contentLength != nil

	if c.outPaused {
		// The body waits until the exchange is started.
		c.dec.Pause()
		return allowsBody, nil
	}
	c.start(ex)
	return allowsBody, nil
}

func validateRequest(top http.TopLine, headers http.Headers, transferCodes []string) error {
	if top[2] == "" {
		return http.NewError(http.KindHTTPVersion, "missing version in %q", top.String())
	}
	version, err := http.ParseVersion([]byte(top[2]))
	if err != nil || version[0] != 1 {
		return http.NewError(http.KindHTTPVersion, "version %q", top[2])
	}
	if !httpguts.ValidHeaderFieldName(top[0]) {
		return http.NewError(http.KindMalformedTopLine, "method %q", top[0])
	}
	if !validTarget(top[0], top[1]) {
		return http.NewError(http.KindURL, "request target %q", top[1])
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2-6
	hosts := headers.Values(http.HeaderHost)
	switch {
	case len(hosts) > 1:
		return http.NewError(http.KindMalformedHeader, "%d Host fields", len(hosts))
	case len(hosts) == 0:
		return http.NewError(http.KindHostRequired, "")
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.1-13
	for _, code := range transferCodes {
		if !transfer.IsKnown(code) {
			return http.NewError(http.KindTransferCode, "%q", code)
		}
	}
	if len(transferCodes) > 0 && !transfer.IsChunked(transferCodes) {
		return http.NewError(http.KindLengthRequired, "final coding of %q", transferCodes)
	}
	return nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2
func validTarget(method, target string) bool {
	switch {
	case strings.HasPrefix(target, "/"):
		return true
	case target == "*":
		return method == "OPTIONS"
	case method == "CONNECT":
		return !strings.Contains(target, "/")
	default:
		return strings.Contains(target, "://")
	}
}

func (c *conn) start(ex *Exchange) {
	ex.started = true
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked", "panic", r)
			if ex.resStarted {
				c.close()
				return
			}
			ex.Error(errors.Errorf("handler panicked: %v", r))
		}
	}()
	c.server.handler.RequestStart(ex, ex.method, ex.target, ex.headers)

	// The request ended before the handler could listen.
	if ex.reqDone && !ex.aborted {
		ex.onDone.Emit(ex.trailers)
	}
}

func (c *conn) OnBody(p []byte) {
	if ex := c.reading; ex != nil && !ex.aborted {
		ex.onBody.Emit(p)
	}
}

func (c *conn) OnEnd(trailers http.Headers) {
	ex := c.reading
	if ex == nil {
		return
	}
	c.reading = nil
	ex.reqDone = true
	ex.trailers = trailers
	if ex.started && !ex.aborted {
		ex.onDone.Emit(trailers)
	}
	if c.closeOnEnd {
		c.close()
	}
}

func (c *conn) OnError(err error) {
	c.requestError(err)
}

// requestError answers a request that can not be parsed, then closes the connection.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-9
func (c *conn) requestError(err error) {
	if ex := c.reading; ex != nil {
		c.reading = nil
		ex.abort(err)
	}
	if c.failed || c.closed {
		return
	}
	c.failed = true
	cancelTimer(&c.readTimer)
	c.tc.Pause(true)
	c.logger.Debug("bad request", "err", err)

	ex := newExchange(c, "", "", http.Version11, nil)
	ex.started = true
	ex.reqDone = true
	c.queue.Enqueue(ex)
	ex.Error(err)
}

func (c *conn) armRead() {
	cancelTimer(&c.readTimer)
	d := c.server.opts.Timeout.Read
	if d <= 0 {
		return
	}
	c.readTimer = c.server.sched.Schedule(d, func() {
		c.readTimer = nil
		c.requestError(http.NewError(http.KindReadTimeout, "no request bytes for %s", d))
	})
}

// armIdle (re)starts the idle timer when nothing is in flight.
func (c *conn) armIdle() {
	cancelTimer(&c.idleTimer)
	d := c.server.opts.Timeout.Idle
	if d <= 0 || c.closed || c.queue.Len() > 0 || c.reading != nil || c.dec.Pending() {
		return
	}
	c.idleTimer = c.server.sched.Schedule(d, func() {
		c.idleTimer = nil
		c.logger.Info("idle timeout exceeded")
		c.close()
	})
}

func (c *conn) close() {
	if c.closed {
		return
	}
	c.closed = true
	cancelTimer(&c.idleTimer)
	cancelTimer(&c.readTimer)

	if err := c.tc.Close(); err != nil {
		c.logger.Debug("failed to close connection", "err", err)
	}

	if ex := c.reading; ex != nil {
		c.reading = nil
		ex.abort(transport.ErrConnClosed)
	}
	for c.queue.Len() > 0 {
		ex, _ := c.queue.Dequeue()
		ex.abort(transport.ErrConnClosed)
	}
	c.server.remove(c)
	c.logger.Debug("connection closed")
}

func cancelTimer(h *transport.Handle) {
	if *h != nil {
		(*h).Cancel()
		*h = nil
	}
}

func hasToken(tokens []string, token string) bool {
	for _, t := range tokens {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}
