// Package pipe provides in-memory connections delivering through an event loop.
package pipe

import (
	"sync"

	"netkit/lib/event"
	"netkit/transport"
)

// Poster runs callbacks on the event loop.
type Poster interface {
	Post(fn func())
}

type Options struct {
	// HighWater is the number of undelivered bytes at which the writer is paused. 0 disables it.
	HighWater int
	// LowWater is the number of undelivered bytes at which the writer is resumed.
	LowWater int
}

var DefaultOptions = Options{
	HighWater: 64 * 1024,
	LowWater:  16 * 1024,
}

// Conn is one end of a pipe.
type Conn struct {
	loop Poster
	opts Options
	name string
	peer *Conn

	readable event.Listeners[[]byte]
	closed   event.Listeners[error]
	paused   event.Listeners[bool]

	mu         sync.Mutex
	local      bool // closed locally.
	remote     bool // peer closure delivered.
	inPaused   bool
	inbound    [][]byte // received while paused.
	peerClosed bool     // peer closed, not yet delivered.
	inFlight   int      // bytes written, not yet delivered by peer.
	outPaused  bool
}

var _ transport.Conn = (*Conn)(nil)

// Pair creates two connected ends.
func Pair(name1, name2 string, loop Poster, opts Options) (c1, c2 *Conn) {
	c1 = &Conn{loop: loop, opts: opts, name: name1}
	c2 = &Conn{loop: loop, opts: opts, name: name2}
	c1.peer, c2.peer = c2, c1
	return c1, c2
}

func (c *Conn) OnReadable(fn func(p []byte)) { c.readable.Add(fn) }
func (c *Conn) OnClose(fn func(err error))   { c.closed.Add(fn) }
func (c *Conn) OnPause(fn func(paused bool)) { c.paused.Add(fn) }

func (c *Conn) LocalAddr() string  { return c.name }
func (c *Conn) RemoteAddr() string { return c.peer.name }

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.local && !c.remote && !c.peerClosed
}

func (c *Conn) Write(p []byte) error {
	if !c.Connected() {
		return transport.ErrConnClosed
	}
	if len(p) == 0 {
		return nil
	}

	data := append([]byte(nil), p...)
	c.mu.Lock()
	c.inFlight += len(data)
	pause := c.opts.HighWater > 0 && !c.outPaused && c.inFlight >= c.opts.HighWater
	if pause {
		c.outPaused = true
	}
	c.mu.Unlock()

	if pause {
		c.loop.Post(func() { c.paused.Emit(true) })
	}
	c.loop.Post(func() { c.peer.receive(data) })
	return nil
}

func (c *Conn) receive(data []byte) {
	c.mu.Lock()
	if c.local {
		c.mu.Unlock()
		return
	}
	if c.inPaused {
		c.inbound = append(c.inbound, data)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.readable.Emit(data)
	c.peer.delivered(len(data))
}

// delivered is called on the writing end once the peer consumed n bytes.
func (c *Conn) delivered(n int) {
	c.mu.Lock()
	c.inFlight -= n
	resume := c.outPaused && c.inFlight <= c.opts.LowWater
	if resume {
		c.outPaused = false
	}
	local := c.local
	c.mu.Unlock()

	if resume && !local {
		c.paused.Emit(false)
	}
}

func (c *Conn) Pause(paused bool) {
	c.mu.Lock()
	if c.inPaused == paused {
		c.mu.Unlock()
		return
	}
	c.inPaused = paused
	c.mu.Unlock()

	if !paused {
		c.loop.Post(c.drain)
	}
}

func (c *Conn) drain() {
	for {
		c.mu.Lock()
		if c.inPaused || c.local {
			c.mu.Unlock()
			return
		}
		if len(c.inbound) == 0 {
			closed := c.peerClosed
			c.peerClosed = false
			if closed {
				c.remote = true
			}
			c.mu.Unlock()
			if closed {
				c.closed.Emit(nil)
			}
			return
		}
		data := c.inbound[0]
		c.inbound = c.inbound[1:]
		c.mu.Unlock()

		c.readable.Emit(data)
		c.peer.delivered(len(data))
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.local {
		c.mu.Unlock()
		return transport.ErrConnClosed
	}
	c.local = true
	c.inbound = nil
	c.mu.Unlock()

	c.loop.Post(c.peer.closedByPeer)
	return nil
}

func (c *Conn) closedByPeer() {
	c.mu.Lock()
	if c.local || c.remote {
		c.mu.Unlock()
		return
	}
	if c.inPaused || len(c.inbound) > 0 {
		// Delivered after the buffered bytes.
		c.peerClosed = true
		c.mu.Unlock()
		return
	}
	c.remote = true
	c.mu.Unlock()

	c.closed.Emit(nil)
}
