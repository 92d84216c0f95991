package client

import (
	"log/slog"

	"netkit/transport"

	"github.com/pkg/errors"
)

var ErrPoolClosed = errors.New("connection pool is closed")

type PoolStats struct {
	// Open counts connections of the origin, idle, busy and dialing.
	Open    uint
	Idle    uint
	OverCap bool
}

// Pool keeps idle connections per origin for reuse.
type Pool struct {
	dialer transport.Dialer
	sched  transport.Scheduler
	opts   Options
	logger *slog.Logger

	origins map[transport.Origin]*originConns
	closed  bool
}

type originConns struct {
	open uint
	// Most recently released last.
	idle []*conn
}

func NewPool(dialer transport.Dialer, sched transport.Scheduler, logger *slog.Logger, opts Options) *Pool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		dialer:  dialer,
		sched:   sched,
		opts:    opts,
		logger:  logger,
		origins: make(map[transport.Origin]*originConns),
	}
}

func (p *Pool) get(origin transport.Origin) *originConns {
	oc, ok := p.origins[origin]
	if !ok {
		oc = &originConns{}
		p.origins[origin] = oc
	}
	return oc
}

// Acquire hands an idle connection to onConn, or dials a new one.
// reused tells the two apart. The returned cancel stops a dial in progress.
func (p *Pool) Acquire(origin transport.Origin, onConn func(c *conn, reused bool), onErr func(error)) (cancel func()) {
	noop := func() {}
	if p.closed {
		onErr(ErrPoolClosed)
		return noop
	}

	oc := p.get(origin)
	for len(oc.idle) > 0 {
		c := oc.idle[len(oc.idle)-1]
		oc.idle = oc.idle[:len(oc.idle)-1]
		c.idle = false
		c.idleTimer.Cancel()

		if !c.tc.Connected() {
			c.close()
			continue
		}

		c.logger.Debug("reusing idle connection")
		onConn(c, true)
		return noop
	}

	oc.open++
	if max := p.opts.Conn.MaxServerConn; max > 0 && oc.open > max {
		p.logger.Warn("connections over limit", "origin", origin.String(), "open", oc.open, "max", max)
	}

	done := false
	cancelDial := p.dialer.Dial(origin, func(tc transport.Conn) {
		done = true
		onConn(newConn(p, origin, tc), false)
	}, func(err error) {
		done = true
		oc.open--
		onErr(err)
	})

	return func() {
		if done {
			return
		}
		done = true
		oc.open--
		cancelDial()
	}
}

// Release returns c after an exchange. A connection that is not reusable is closed.
func (p *Pool) Release(c *conn, reusable bool) {
	c.ex = nil
	if !reusable || p.closed || p.opts.Timeout.Idle == 0 || !c.tc.Connected() {
		c.close()
		return
	}

	oc := p.get(c.origin)
	c.idle = true
	c.idleTimer = p.sched.Schedule(p.opts.Timeout.Idle, func() {
		c.logger.Info("closing idle connection")
		c.close()
	})
	oc.idle = append(oc.idle, c)
}

// forget drops a closed connection from the pool. It is called once per connection.
func (p *Pool) forget(c *conn) {
	oc := p.get(c.origin)
	if c.idle {
		c.idle = false
		c.idleTimer.Cancel()
		for i, idle := range oc.idle {
			if idle == c {
				oc.idle = append(oc.idle[:i], oc.idle[i+1:]...)
				break
			}
		}
	}
	oc.open--
	if oc.open == 0 {
		delete(p.origins, c.origin)
	}
}

// Close closes every idle connection. Busy connections are closed once released.
func (p *Pool) Close() {
	p.closed = true
	for _, oc := range p.origins {
		for len(oc.idle) > 0 {
			oc.idle[0].close()
		}
	}
}

func (p *Pool) Stats(origin transport.Origin) PoolStats {
	oc, ok := p.origins[origin]
	if !ok {
		return PoolStats{}
	}
	max := p.opts.Conn.MaxServerConn
	return PoolStats{
		Open:    oc.open,
		Idle:    uint(len(oc.idle)),
		OverCap: max > 0 && oc.open > max,
	}
}
