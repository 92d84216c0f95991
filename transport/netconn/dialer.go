package netconn

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"

	"netkit/application/util/uri"
	"netkit/transport"

	"github.com/pkg/errors"
)

// Dialer dials TCP, with TLS for https origins.
type Dialer struct {
	loop   Poster
	opts   Options
	logger *slog.Logger
}

var _ transport.Dialer = (*Dialer)(nil)

func NewDialer(loop Poster, opts Options, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dialer{loop: loop, opts: opts, logger: logger}
}

func (d *Dialer) Dial(origin transport.Origin, onConnect func(transport.Conn), onError func(error)) (cancel func()) {
	var (
		ctx       context.Context
		cancelCtx context.CancelFunc
	)
	if d.opts.DialTimeout > 0 {
		ctx, cancelCtx = context.WithTimeout(context.Background(), d.opts.DialTimeout)
	} else {
		ctx, cancelCtx = context.WithCancel(context.Background())
	}

	canceled := false
	go func() {
		defer cancelCtx()

		nc, err := d.dial(ctx, origin)
		d.loop.Post(func() {
			if canceled {
				if nc != nil {
					nc.Close()
				}
				return
			}
			if err != nil {
				onError(err)
				return
			}
			onConnect(New(nc, d.loop, d.opts, d.logger))
		})
	}()

	return func() {
		canceled = true
		cancelCtx()
	}
}

func (d *Dialer) dial(ctx context.Context, origin transport.Origin) (net.Conn, error) {
	var nd net.Dialer
	nc, err := nd.DialContext(ctx, "tcp", origin.Address())
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", origin)
	}
	if origin.Scheme != uri.SchemeHTTPS {
		return nc, nil
	}

	cfg := d.opts.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg = cfg.Clone()
		host, _, _ := net.SplitHostPort(origin.Address())
		cfg.ServerName = host
	}

	tc := tls.Client(nc, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		nc.Close()
		return nil, errors.Wrapf(err, "tls handshake with %s", origin)
	}
	return tc, nil
}
