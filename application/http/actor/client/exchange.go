package client

import (
	"log/slog"
	"strings"

	"netkit/application/http"
	"netkit/application/http/status"
	"netkit/application/util/uri"
	"netkit/lib/ds/queue"
	"netkit/lib/event"
	"netkit/transport"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

type State uint8

const (
	StateUnsent State = iota
	StateAwaitingConnection
	StateRequestInFlight
	StateResponseHeaders
	StateResponseBody
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnsent:
		return "unsent"
	case StateAwaitingConnection:
		return "awaiting connection"
	case StateRequestInFlight:
		return "request in flight"
	case StateResponseHeaders:
		return "response headers"
	case StateResponseBody:
		return "response body"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

var (
	ErrConnectTimeout = errors.New("connect timed out")
	ErrExchangeState  = errors.New("exchange used out of order")
	ErrAborted        = errors.New("exchange aborted")
)

// Fields that only concern a single connection.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-7.6.1
var hopByHop = []string{
	http.HeaderConnection,
	http.HeaderKeepAlive,
	"Proxy-Connection",
	"TE",
	"Trailer",
	http.HeaderTransferEncoding,
	"Upgrade",
}

// ResponseStart is the head of a final response.
type ResponseStart struct {
	Version http.Version
	Status  int
	Phrase  string
	Headers http.Headers
}

// Exchange is one request and its response.
// Every method must be called on the event loop the client runs on.
type Exchange struct {
	client *Client
	logger *slog.Logger
	state  State

	method  string
	uri     uri.URI
	origin  transport.Origin
	headers http.Headers

	bodyDecided bool
	mode        http.Mode
	// Body chunks given before the request head could be written.
	pending  *queue.NaiveQueue[[]byte]
	replay   [][]byte
	reqDone  bool
	trailers http.Headers

	conn          *conn
	reused        bool
	cancelAcquire func()
	retries       uint
	headSent      bool
	reqComplete   bool
	received      bool
	interim       bool

	connectTimer transport.Handle
	retryTimer   transport.Handle
	readTimer    transport.Handle

	resVersion    http.Version
	resStatus     int
	resConnTokens []string

	onStart event.Listeners[ResponseStart]
	onBody  event.Listeners[[]byte]
	onDone  event.Listeners[http.Headers]
	onErr   event.Listeners[error]
	onPause event.Listeners[bool]
	handler any
}

func (ex *Exchange) State() State { return ex.state }

// Origin is known once RequestStart succeeded.
func (ex *Exchange) Origin() transport.Origin { return ex.origin }

// Retries is the number of connection attempts after the first.
func (ex *Exchange) Retries() uint { return ex.retries }

func (ex *Exchange) OnResponseStart(fn func(status int, phrase string, headers http.Headers)) {
	ex.onStart.Add(func(r ResponseStart) { fn(r.Status, r.Phrase, r.Headers) })
}

func (ex *Exchange) OnResponseBody(fn func(chunk []byte)) { ex.onBody.Add(fn) }

func (ex *Exchange) OnResponseDone(fn func(trailers http.Headers)) { ex.onDone.Add(fn) }

func (ex *Exchange) OnError(fn func(err error)) { ex.onErr.Add(fn) }

// OnPause reports outbound backpressure. Request body should wait while paused.
func (ex *Exchange) OnPause(fn func(paused bool)) { ex.onPause.Add(fn) }

// SetHandler sets the receiver of events that have no listeners.
// h may implement any of the *Handler interfaces in this package.
func (ex *Exchange) SetHandler(h any) { ex.handler = h }

// RequestStart begins the request. Errors are reported through OnError.
func (ex *Exchange) RequestStart(method string, rawURI string, headers http.Headers) {
	if ex.state != StateUnsent {
		ex.fail(errors.Wrap(ErrExchangeState, "request already started"))
		return
	}
	if !httpguts.ValidHeaderFieldName(method) {
		ex.fail(http.NewError(http.KindMalformedTopLine, "invalid method %q", method))
		return
	}

	if values := headers.Values(http.HeaderContentLength); len(values) > 0 {
		// A length that can not frame the body is never sent next to chunked framing.
		if _, errs := http.ParseContentLength(values); len(errs) > 0 {
			ex.fail(errs[0])
			return
		}
	}

	u, err := uri.Parse(rawURI)
	if err != nil {
		ex.fail(http.WrapError(http.KindURL, err, rawURI))
		return
	}
	host, err := httpguts.PunycodeHostPort(u.HostPort())
	if err != nil {
		ex.fail(http.WrapError(http.KindURL, err, "host "+u.Authority.Host))
		return
	}

	ex.method = method
	ex.uri = u
	ex.origin = transport.Origin{
		Scheme: strings.ToLower(u.Scheme),
		Host:   u.Authority.Host,
		Port:   u.PortOrDefault(),
	}
	ex.logger = ex.logger.With("method", method, "uri", u.String())

	stripped := append([]string{http.HeaderHost}, hopByHop...)
	// Fields named by Connection are hop-by-hop too.
	stripped = append(stripped, headers.Tokens(http.HeaderConnection)...)

	ex.headers = append(http.NewHeaders(http.HeaderHost, host), headers.Without(stripped...)...)
	if ex.client.opts.Timeout.Idle > 0 {
		ex.headers.Add(http.HeaderConnection, "keep-alive")
	} else {
		ex.headers.Add(http.HeaderConnection, "close")
	}

	ex.state = StateAwaitingConnection
	ex.acquire()
}

// RequestBody sends a chunk of the request body.
func (ex *Exchange) RequestBody(chunk []byte) {
	if !ex.sending() {
		return
	}
	if ex.reqDone {
		ex.fail(errors.Wrap(ErrExchangeState, "body after request done"))
		return
	}
	if len(chunk) == 0 {
		return
	}

	if !ex.bodyDecided {
		ex.bodyDecided = true
		if cl, ok := ex.contentLength(); ok {
			ex.mode = http.Mode{Kind: http.Counted, Length: cl}
		} else {
			ex.mode = http.Mode{Kind: http.Chunked}
			ex.headers.Add(http.HeaderTransferEncoding, "chunked")
		}
	}

	chunk = append([]byte(nil), chunk...)
	if isIdempotent(ex.method) {
		ex.replay = append(ex.replay, chunk)
	}
	if !ex.headSent {
		ex.pending.Enqueue(chunk)
		ex.flush()
		return
	}
	if err := ex.conn.enc.Body(chunk); err != nil {
		ex.fail(err)
	}
}

// RequestDone finishes the request body.
func (ex *Exchange) RequestDone(trailers http.Headers) {
	if !ex.sending() {
		return
	}
	if ex.reqDone {
		ex.fail(errors.Wrap(ErrExchangeState, "request already done"))
		return
	}
	ex.reqDone = true
	ex.trailers = trailers

	if !ex.bodyDecided {
		ex.bodyDecided = true
		if cl, ok := ex.contentLength(); ok {
			ex.mode = http.Mode{Kind: http.Counted, Length: cl}
		} else if carriesBody(ex.method) {
			ex.mode = http.Mode{Kind: http.Counted}
			ex.headers.Add(http.HeaderContentLength, "0")
		} else {
			ex.mode = http.Mode{Kind: http.NoBody}
		}
	}
	ex.flush()
}

// Abort fails the exchange with [ErrAborted] unless it is already over.
func (ex *Exchange) Abort() { ex.fail(ErrAborted) }

func (ex *Exchange) sending() bool {
	switch ex.state {
	case StateUnsent:
		ex.fail(errors.Wrap(ErrExchangeState, "request not started"))
		return false
	case StateDone, StateFailed:
		return false
	}
	return true
}

func (ex *Exchange) contentLength() (uint64, bool) {
	values := ex.headers.Values(http.HeaderContentLength)
	if len(values) == 0 {
		return 0, false
	}
	cl, errs := http.ParseContentLength(values)
	if len(errs) > 0 || cl == nil {
		return 0, false
	}
	return *cl, true
}

// flush writes what is ready once a connection is attached.
func (ex *Exchange) flush() {
	if ex.conn == nil || !ex.bodyDecided {
		return
	}

	if !ex.headSent {
		top := http.TopLine{ex.method, ex.uri.RequestTarget(), http.Version11.String()}
		if err := ex.conn.enc.Start(top, ex.headers, ex.mode); err != nil {
			ex.fail(err)
			return
		}
		ex.headSent = true
		ex.state = StateRequestInFlight
		ex.armReadTimer()
	}

	var err error
	ex.pending.Drain(func(chunk []byte) {
		if err == nil {
			err = ex.conn.enc.Body(chunk)
		}
	})
	if err != nil {
		ex.fail(err)
		return
	}

	if ex.reqDone && !ex.reqComplete {
		if _, err := ex.conn.enc.End(ex.trailers); err != nil {
			ex.fail(err)
			return
		}
		ex.reqComplete = true
	}
}

func (ex *Exchange) acquire() {
	ex.retryTimer = nil
	if d := ex.client.opts.Timeout.Connect; d > 0 {
		ex.connectTimer = ex.client.sched.Schedule(d, func() {
			ex.connectTimer = nil
			if ex.cancelAcquire != nil {
				ex.cancelAcquire()
				ex.cancelAcquire = nil
			}
			ex.onConnectError(ErrConnectTimeout)
		})
	}

	cancel := ex.client.pool.Acquire(ex.origin, ex.attach, func(err error) {
		ex.cancelAcquire = nil
		if errors.Is(err, ErrPoolClosed) {
			cancelTimer(&ex.connectTimer)
			ex.fail(http.WrapError(http.KindConnect, err, ex.origin.String()))
			return
		}
		ex.onConnectError(err)
	})
	if ex.state == StateAwaitingConnection && ex.conn == nil {
		ex.cancelAcquire = cancel
	}
}

func (ex *Exchange) attach(c *conn, reused bool) {
	ex.cancelAcquire = nil
	cancelTimer(&ex.connectTimer)
	if ex.state != StateAwaitingConnection {
		ex.client.pool.Release(c, true)
		return
	}

	ex.conn = c
	ex.reused = reused
	c.ex = ex
	ex.logger.Debug("connection attached", "reused", reused, "local", c.tc.LocalAddr())
	ex.flush()
}

func (ex *Exchange) onConnectError(err error) {
	cancelTimer(&ex.connectTimer)
	ex.retryOrFail(http.WrapError(http.KindConnect, err, ex.origin.String()))
}

func (ex *Exchange) retryOrFail(err error) {
	if !isIdempotent(ex.method) || ex.retries >= ex.client.opts.Retry.Limit {
		ex.fail(err)
		return
	}

	ex.retries++
	ex.logger.Info("retrying request", "attempt", ex.retries, "err", err)

	ex.state = StateAwaitingConnection
	ex.headSent = false
	ex.reqComplete = false
	ex.received = false
	ex.interim = false
	ex.pending = queue.NewNaive[[]byte](uint(len(ex.replay)))
	for _, chunk := range ex.replay {
		ex.pending.Enqueue(chunk)
	}
	ex.retryTimer = ex.client.sched.Schedule(ex.client.opts.Retry.Delay, ex.acquire)
}

// onReceive is called before inbound bytes are decoded.
func (ex *Exchange) onReceive() {
	ex.received = true
	ex.armReadTimer()
}

func (ex *Exchange) armReadTimer() {
	cancelTimer(&ex.readTimer)
	d := ex.client.opts.Timeout.Read
	if d <= 0 {
		return
	}
	ex.readTimer = ex.client.sched.Schedule(d, func() {
		ex.readTimer = nil
		ex.fail(http.NewError(http.KindReadTimeout, "no response bytes for %s", d))
	})
}

func (ex *Exchange) onConnClosed(err error) {
	c := ex.conn
	ex.conn = nil
	c.detach()
	cancelTimer(&ex.readTimer)

	closed := http.WrapError(http.KindConnClosed, transport.ErrConnClosed, "before response")
	if err != nil {
		closed = http.WrapError(http.KindConnClosed, err, "before response")
	}
	if ex.reused && !ex.received {
		ex.retryOrFail(closed)
		return
	}
	ex.fail(closed)
}

func (ex *Exchange) pauseChanged(paused bool) {
	if !ex.onPause.Emit(paused) {
		if h, ok := ex.handler.(PauseHandler); ok {
			h.Pause(paused)
		}
	}
}

func (ex *Exchange) onResponseStart(top http.TopLine, headers http.Headers, connTokens []string) (bool, error) {
	version, err := http.ParseVersion([]byte(top[0]))
	if err != nil || version[0] != 1 {
		return false, http.NewError(http.KindHTTPVersion, "response version %q", top[0])
	}
	code, ok := status.Parse(top[1])
	if !ok {
		return false, http.NewError(http.KindMalformedTopLine, "status code %q", top[1])
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.2
	if status.IsInformational(code) && code != 101 {
		ex.logger.Debug("skipping interim response", "status", code)
		ex.interim = true
		return false, nil
	}

	ex.state = StateResponseHeaders
	ex.resVersion = version
	ex.resStatus = code
	ex.resConnTokens = connTokens

	start := ResponseStart{Version: version, Status: code, Phrase: top[2], Headers: headers}
	if !ex.onStart.Emit(start) {
		if h, ok := ex.handler.(ResponseStartHandler); ok {
			h.ResponseStart(code, top[2], headers)
		}
	}
	if ex.state != StateResponseHeaders {
		return false, nil
	}
	ex.state = StateResponseBody

	return !status.HasNoBody(code) && ex.method != "HEAD", nil
}

func (ex *Exchange) onResponseBody(chunk []byte) {
	if ex.state != StateResponseBody {
		return
	}
	if !ex.onBody.Emit(chunk) {
		if h, ok := ex.handler.(ResponseBodyHandler); ok {
			h.ResponseBody(chunk)
		}
	}
}

func (ex *Exchange) onResponseEnd(trailers http.Headers) {
	if ex.interim {
		ex.interim = false
		return
	}
	if ex.state != StateResponseBody {
		return
	}

	cancelTimer(&ex.readTimer)
	ex.state = StateDone

	c := ex.conn
	ex.conn = nil
	reusable := ex.reusable(c.dec.Mode())
	ex.logger.Debug("response done", "reusable", reusable)
	ex.client.pool.Release(c, reusable)

	if !ex.onDone.Emit(trailers) {
		if h, ok := ex.handler.(ResponseDoneHandler); ok {
			h.ResponseDone(trailers)
		}
	}
}

// reusable reports whether the connection may carry another exchange.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-9.3
func (ex *Exchange) reusable(mode http.Mode) bool {
	if !ex.reqComplete || mode.Kind == http.CloseDelimited {
		return false
	}
	// The connection speaks another protocol after 101.
	if ex.resStatus == 101 {
		return false
	}
	if hasToken(ex.resConnTokens, "close") {
		return false
	}
	if ex.resVersion.AtLeast(http.Version11) {
		return true
	}
	return hasToken(ex.resConnTokens, "keep-alive")
}

// fail makes the exchange terminal. Later calls do nothing.
func (ex *Exchange) fail(err error) {
	if ex.state == StateDone || ex.state == StateFailed {
		return
	}
	ex.state = StateFailed
	ex.logger.Debug("exchange failed", "err", err)

	cancelTimer(&ex.connectTimer)
	cancelTimer(&ex.retryTimer)
	cancelTimer(&ex.readTimer)
	if ex.cancelAcquire != nil {
		ex.cancelAcquire()
		ex.cancelAcquire = nil
	}
	if c := ex.conn; c != nil {
		ex.conn = nil
		c.detach()
		if ex.headSent {
			c.close()
		} else {
			ex.client.pool.Release(c, true)
		}
	}

	if !ex.onErr.Emit(err) {
		if h, ok := ex.handler.(ErrorHandler); ok {
			h.Error(err)
			return
		}
		ex.logger.Warn("unhandled exchange error", "err", err)
	}
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

// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-9.2.2
func isIdempotent(method string) bool {
	switch method {
	case "GET", "HEAD", "PUT", "DELETE", "OPTIONS", "TRACE":
		return true
	}
	return false
}

func carriesBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}
