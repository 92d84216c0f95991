package client

import (
	"log/slog"

	"netkit/application/http"
	"netkit/transport"
)

// conn is one transport connection with its response decoder.
// It forwards decoded responses to the exchange currently attached.
type conn struct {
	pool   *Pool
	origin transport.Origin
	tc     transport.Conn
	dec    *http.Decoder
	enc    *http.Encoder
	logger *slog.Logger

	ex        *Exchange
	idle      bool
	idleTimer transport.Handle
	closed    bool
}

func newConn(p *Pool, origin transport.Origin, tc transport.Conn) *conn {
	c := &conn{
		pool:   p,
		origin: origin,
		tc:     tc,
		logger: p.logger.With("origin", origin.String(), "local", tc.LocalAddr()),
	}
	c.dec = http.NewDecoder(c, p.opts.Decode)
	c.enc = http.NewEncoder(connWriter{tc}, p.opts.Encode)

	tc.OnReadable(c.onReadable)
	tc.OnClose(c.onClose)
	tc.OnPause(c.onPause)

	c.logger.Debug("connection established")
	return c
}

type connWriter struct{ tc transport.Conn }

func (w connWriter) Write(p []byte) (int, error) {
	if err := w.tc.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *conn) onReadable(p []byte) {
	if c.ex == nil {
		c.logger.Warn("unexpected bytes on idle connection", "len", len(p))
		c.close()
		return
	}
	c.ex.onReceive()
	c.dec.Feed(p)
}

func (c *conn) onClose(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.logger.Debug("connection closed by peer", "err", err)

	if ex := c.ex; ex != nil {
		c.dec.Close()
		// Still attached when nothing or no complete head was received.
		if c.ex == ex {
			ex.onConnClosed(err)
		}
	}
	c.pool.forget(c)
}

func (c *conn) onPause(paused bool) {
	if c.ex != nil {
		c.ex.pauseChanged(paused)
	}
}

// close closes the transport and removes c from the pool. It is safe to call twice.
func (c *conn) close() {
	if c.closed {
		return
	}
	c.closed = true
	c.ex = nil
	if err := c.tc.Close(); err != nil {
		c.logger.Debug("failed to close connection", "err", err)
	}
	c.pool.forget(c)
}

// detach unbinds the current exchange without closing.
func (c *conn) detach() { c.ex = nil }

func (c *conn) OnStart(top http.TopLine, headers http.Headers, connTokens, transferCodes []string, contentLength *uint64) (bool, error) {
	if c.ex == nil || !c.ex.headSent {
		c.logger.Warn("response without request", "status", top[1])
		ex := c.ex
		c.close()
		err := http.NewError(http.KindMalformedTopLine, "response without request")
		if ex != nil {
			ex.fail(err)
		}
		return false, err
	}
	return c.ex.onResponseStart(top, headers, connTokens)
}

func (c *conn) OnBody(p []byte) {
	if c.ex != nil {
		c.ex.onResponseBody(p)
	}
}

func (c *conn) OnEnd(trailers http.Headers) {
	if c.ex != nil {
		c.ex.onResponseEnd(trailers)
	}
}

func (c *conn) OnError(err error) {
	if c.ex != nil {
		c.ex.fail(err)
		return
	}
	c.logger.Debug("decode error on detached connection", "err", err)
	c.close()
}
