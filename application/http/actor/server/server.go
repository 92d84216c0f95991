// Package server answers HTTP/1.1 requests on accepted transport connections.
//
// Requests of a connection may be pipelined. Their responses are written in request order.
package server

import (
	"log/slog"

	"netkit/transport"

	"github.com/benbjohnson/clock"
)

type Server struct {
	l      transport.Listener
	sched  transport.Scheduler
	clock  clock.Clock
	logger *slog.Logger
	opts   Options

	handler Handler
	conns   map[*conn]struct{}
	closed  bool
}

func New(
	l transport.Listener,
	sched transport.Scheduler,
	logger *slog.Logger,
	clk clock.Clock,
	handler Handler,
	opts Options,
) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if clk == nil {
		clk = clock.New()
	}
	if opts.Pipeline.MaxPipeline == 0 {
		opts.Pipeline.MaxPipeline = 1
	}
	return &Server{
		l:       l,
		sched:   sched,
		clock:   clk,
		logger:  logger,
		opts:    opts,
		handler: handler,
		conns:   make(map[*conn]struct{}),
	}
}

// Start begins serving accepted connections.
func (s *Server) Start() {
	s.l.OnAccept(s.accept)
}

func (s *Server) accept(tc transport.Conn) {
	if s.closed {
		tc.Close()
		return
	}
	c := newConn(s, tc)
	s.conns[c] = struct{}{}
}

func (s *Server) remove(c *conn) { delete(s.conns, c) }

// Conns is the number of open connections.
func (s *Server) Conns() int { return len(s.conns) }

// Close stops accepting and closes every connection.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.l.Close()
	for c := range s.conns {
		c.close()
	}
	return err
}
