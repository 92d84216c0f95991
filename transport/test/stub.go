package test

import (
	"bytes"

	"netkit/lib/event"
	"netkit/transport"
)

// StubConn is a synchronous [transport.Conn] for driving protocol code by hand.
// Feed and CloseRemote call back immediately.
type StubConn struct {
	Local, Remote string

	readable event.Listeners[[]byte]
	closed   event.Listeners[error]
	paused   event.Listeners[bool]

	Written     bytes.Buffer
	WriteErr    error
	InPaused    bool
	ClosedLocal bool
	ClosedPeer  bool
}

var _ transport.Conn = (*StubConn)(nil)

func NewStubConn(remote string) *StubConn {
	return &StubConn{Local: "local", Remote: remote}
}

func (c *StubConn) OnReadable(fn func(p []byte)) { c.readable.Add(fn) }
func (c *StubConn) OnClose(fn func(err error))   { c.closed.Add(fn) }
func (c *StubConn) OnPause(fn func(paused bool)) { c.paused.Add(fn) }

func (c *StubConn) Write(p []byte) error {
	if !c.Connected() {
		return transport.ErrConnClosed
	}
	if c.WriteErr != nil {
		return c.WriteErr
	}
	c.Written.Write(p)
	return nil
}

func (c *StubConn) Pause(paused bool) { c.InPaused = paused }

func (c *StubConn) Close() error {
	if c.ClosedLocal {
		return transport.ErrConnClosed
	}
	c.ClosedLocal = true
	return nil
}

func (c *StubConn) Connected() bool    { return !c.ClosedLocal && !c.ClosedPeer }
func (c *StubConn) LocalAddr() string  { return c.Local }
func (c *StubConn) RemoteAddr() string { return c.Remote }

// Feed delivers p as if it was received.
func (c *StubConn) Feed(p string) { c.readable.Emit([]byte(p)) }

// CloseRemote acts as if the peer closed the connection.
func (c *StubConn) CloseRemote(err error) {
	c.ClosedPeer = true
	c.closed.Emit(err)
}

// SetOutboundPaused reports backpressure to the writer.
func (c *StubConn) SetOutboundPaused(paused bool) { c.paused.Emit(paused) }

// TakeWritten returns and clears everything written so far.
func (c *StubConn) TakeWritten() string {
	s := c.Written.String()
	c.Written.Reset()
	return s
}

type pendingDial struct {
	origin    transport.Origin
	onConnect func(transport.Conn)
	onError   func(error)
	canceled  bool
}

// StubDialer records dial attempts. By default dials complete immediately with a new [StubConn].
type StubDialer struct {
	// Err fails every dial when set.
	Err error
	// Hold keeps dials pending until Complete or Fail.
	Hold bool

	Attempts []transport.Origin
	Conns    []*StubConn

	pending []*pendingDial
}

var _ transport.Dialer = (*StubDialer)(nil)

func (d *StubDialer) Dial(origin transport.Origin, onConnect func(transport.Conn), onError func(error)) (cancel func()) {
	d.Attempts = append(d.Attempts, origin)
	p := &pendingDial{origin: origin, onConnect: onConnect, onError: onError}
	cancel = func() { p.canceled = true }

	if d.Hold {
		d.pending = append(d.pending, p)
		return cancel
	}
	if d.Err != nil {
		onError(d.Err)
		return cancel
	}
	onConnect(d.newConn(origin))
	return cancel
}

func (d *StubDialer) newConn(origin transport.Origin) *StubConn {
	conn := NewStubConn(origin.Address())
	d.Conns = append(d.Conns, conn)
	return conn
}

// Pending is the number of held dials, canceled ones included.
func (d *StubDialer) Pending() int { return len(d.pending) }

// Complete connects the oldest held dial. It returns nil if that dial was canceled.
func (d *StubDialer) Complete() *StubConn {
	p := d.pop()
	if p == nil || p.canceled {
		return nil
	}
	conn := d.newConn(p.origin)
	p.onConnect(conn)
	return conn
}

// Fail fails the oldest held dial.
func (d *StubDialer) Fail(err error) {
	p := d.pop()
	if p == nil || p.canceled {
		return
	}
	p.onError(err)
}

func (d *StubDialer) pop() *pendingDial {
	if len(d.pending) == 0 {
		return nil
	}
	p := d.pending[0]
	d.pending = d.pending[1:]
	return p
}

// Last is the most recently created connection.
func (d *StubDialer) Last() *StubConn {
	if len(d.Conns) == 0 {
		return nil
	}
	return d.Conns[len(d.Conns)-1]
}

// StubListener hands out connections passed to Accept.
type StubListener struct {
	accepted event.Listeners[transport.Conn]
	Closed   bool
}

var _ transport.Listener = (*StubListener)(nil)

func (l *StubListener) OnAccept(fn func(transport.Conn)) { l.accepted.Add(fn) }

func (l *StubListener) Close() error {
	l.Closed = true
	return nil
}

// Accept creates a connection from remote and announces it.
func (l *StubListener) Accept(remote string) *StubConn {
	conn := NewStubConn(remote)
	l.accepted.Emit(conn)
	return conn
}
