package netconn

import (
	"crypto/tls"
	"log/slog"
	"net"

	"netkit/lib/event"
	"netkit/transport"

	"github.com/pkg/errors"
)

// Listener accepts TCP connections and announces them on the event loop.
type Listener struct {
	ln     net.Listener
	loop   Poster
	opts   Options
	logger *slog.Logger

	accepted event.Listeners[transport.Conn]
	closed   bool
	done     chan struct{}
}

var _ transport.Listener = (*Listener)(nil)

// Listen listens on address. Accepting starts right away, so OnAccept should be
// registered on the event loop before it runs.
func Listen(address string, loop Poster, opts Options, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", address)
	}
	if opts.TLSConfig != nil {
		ln = tls.NewListener(ln, opts.TLSConfig)
	}

	l := &Listener{
		ln:     ln,
		loop:   loop,
		opts:   opts,
		logger: logger.With("listener", ln.Addr().String()),
		done:   make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) Addr() string { return l.ln.Addr().String() }

func (l *Listener) OnAccept(fn func(transport.Conn)) { l.accepted.Add(fn) }

func (l *Listener) Close() error {
	if l.closed {
		return transport.ErrConnListenerClosed
	}
	l.closed = true
	err := l.ln.Close()
	<-l.done
	return err
}

func (l *Listener) acceptLoop() {
	defer close(l.done)
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Error("accept failed", "err", err)
			}
			return
		}

		l.loop.Post(func() {
			if l.closed {
				nc.Close()
				return
			}
			l.accepted.Emit(New(nc, l.loop, l.opts, l.logger))
		})
	}
}
