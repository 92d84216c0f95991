// Package netconn adapts [net.Conn] to the event driven [transport.Conn].
//
// Every connection owns a reader and a writer goroutine. Results are posted to the event loop,
// so callbacks never run on those goroutines.
package netconn

import (
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"netkit/lib/event"
	"netkit/transport"

	"github.com/pkg/errors"
)

// Poster runs callbacks on the event loop.
type Poster interface {
	Post(fn func())
}

type Options struct {
	ReadBufferSize int
	// Writers are paused once HighWater bytes are queued, and resumed at LowWater.
	HighWater int
	LowWater  int

	DialTimeout time.Duration
	// TLSConfig is used for https origins. A nil config uses the defaults with the origin's host.
	TLSConfig *tls.Config
}

var DefaultOptions = Options{
	ReadBufferSize: 32 * 1024,
	HighWater:      256 * 1024,
	LowWater:       64 * 1024,
	DialTimeout:    30 * time.Second,
}

type Conn struct {
	nc     net.Conn
	loop   Poster
	opts   Options
	logger *slog.Logger

	readable event.Listeners[[]byte]
	closed   event.Listeners[error]
	paused   event.Listeners[bool]

	// Loop side state.
	held         [][]byte
	localClosed  bool
	peerClosed   bool
	closePending bool
	closeErr     error

	mu        sync.Mutex
	cond      *sync.Cond
	wbuf      [][]byte
	queued    int
	outPaused bool
	inPaused  bool
	closing   bool
	done      chan struct{}
}

var _ transport.Conn = (*Conn)(nil)

// New starts serving nc. It must be called on the event loop.
func New(nc net.Conn, loop Poster, opts Options, logger *slog.Logger) *Conn {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultOptions.ReadBufferSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Conn{
		nc:     nc,
		loop:   loop,
		opts:   opts,
		logger: logger.With("conn", nc.RemoteAddr().String()),
		done:   make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)

	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *Conn) OnReadable(fn func(p []byte)) { c.readable.Add(fn) }
func (c *Conn) OnClose(fn func(err error))   { c.closed.Add(fn) }
func (c *Conn) OnPause(fn func(paused bool)) { c.paused.Add(fn) }

func (c *Conn) LocalAddr() string  { return c.nc.LocalAddr().String() }
func (c *Conn) RemoteAddr() string { return c.nc.RemoteAddr().String() }

func (c *Conn) Connected() bool { return !c.localClosed && !c.peerClosed }

func (c *Conn) Write(p []byte) error {
	if !c.Connected() {
		return transport.ErrConnClosed
	}
	if len(p) == 0 {
		return nil
	}

	c.mu.Lock()
	c.wbuf = append(c.wbuf, append([]byte(nil), p...))
	c.queued += len(p)
	pause := c.opts.HighWater > 0 && !c.outPaused && c.queued >= c.opts.HighWater
	if pause {
		c.outPaused = true
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	if pause {
		c.loop.Post(func() {
			if c.Connected() {
				c.paused.Emit(true)
			}
		})
	}
	return nil
}

func (c *Conn) Pause(paused bool) {
	c.mu.Lock()
	c.inPaused = paused
	c.cond.Broadcast()
	c.mu.Unlock()

	if !paused {
		c.loop.Post(c.drainHeld)
	}
}

// Close flushes queued writes in the background and closes the socket.
func (c *Conn) Close() error {
	if c.localClosed {
		return transport.ErrConnClosed
	}
	c.localClosed = true
	c.held = nil

	c.mu.Lock()
	c.closing = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// Done is closed once both goroutines exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) readLoop() {
	buf := make([]byte, c.opts.ReadBufferSize)
	for {
		c.mu.Lock()
		for c.inPaused && !c.closing {
			c.cond.Wait()
		}
		c.mu.Unlock()

		n, err := c.nc.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			c.loop.Post(func() { c.deliver(data) })
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			c.loop.Post(func() { c.remoteClosed(err) })

			c.mu.Lock()
			c.closing = true
			c.cond.Broadcast()
			c.mu.Unlock()
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer close(c.done)
	defer c.nc.Close()

	for {
		c.mu.Lock()
		for len(c.wbuf) == 0 && !c.closing {
			c.cond.Wait()
		}
		if len(c.wbuf) == 0 {
			c.mu.Unlock()
			return
		}
		batch := c.wbuf
		c.wbuf = nil
		c.mu.Unlock()

		for _, p := range batch {
			if _, err := c.nc.Write(p); err != nil {
				c.logger.Debug("write failed", "err", err)
				c.loop.Post(func() { c.remoteClosed(err) })
				c.mu.Lock()
				c.wbuf = nil
				c.closing = true
				c.mu.Unlock()
				return
			}

			c.mu.Lock()
			c.queued -= len(p)
			resume := c.outPaused && c.queued <= c.opts.LowWater
			if resume {
				c.outPaused = false
			}
			c.mu.Unlock()

			if resume {
				c.loop.Post(func() {
					if c.Connected() {
						c.paused.Emit(false)
					}
				})
			}
		}
	}
}

func (c *Conn) deliver(data []byte) {
	if c.localClosed {
		return
	}
	c.mu.Lock()
	paused := c.inPaused
	c.mu.Unlock()
	if paused || len(c.held) > 0 {
		c.held = append(c.held, data)
		return
	}
	c.readable.Emit(data)
}

func (c *Conn) drainHeld() {
	for len(c.held) > 0 && !c.localClosed {
		c.mu.Lock()
		paused := c.inPaused
		c.mu.Unlock()
		if paused {
			return
		}

		data := c.held[0]
		c.held = c.held[1:]
		c.readable.Emit(data)
	}

	if c.closePending && !c.localClosed && !c.peerClosed {
		c.peerClosed = true
		c.logger.Debug("connection closed by peer", "err", c.closeErr)
		c.closed.Emit(c.closeErr)
	}
}

// remoteClosed reports the closure after any bytes held by a pause.
func (c *Conn) remoteClosed(err error) {
	if c.localClosed || c.peerClosed || c.closePending {
		return
	}
	c.closePending = true
	c.closeErr = err
	c.drainHeld()
}
