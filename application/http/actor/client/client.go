// Package client sends HTTP/1.1 requests over pooled transport connections.
//
// A [Client] and everything it hands out run on one event loop.
// Nothing here blocks; progress is reported through listeners.
package client

import (
	"log/slog"

	"netkit/lib/ds/queue"
	"netkit/transport"
)

type Client struct {
	pool   *Pool
	sched  transport.Scheduler
	logger *slog.Logger
	opts   Options
}

func New(dialer transport.Dialer, sched transport.Scheduler, logger *slog.Logger, opts Options) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		pool:   NewPool(dialer, sched, logger, opts),
		sched:  sched,
		logger: logger,
		opts:   opts,
	}
}

// Exchange creates an unsent exchange. Register listeners, then call RequestStart.
func (c *Client) Exchange() *Exchange {
	return &Exchange{
		client:  c,
		logger:  c.logger,
		pending: queue.NewNaive[[]byte](0),
	}
}

func (c *Client) Pool() *Pool { return c.pool }

// Close closes idle connections and stops reuse. Exchanges in flight go on.
func (c *Client) Close() {
	c.logger.Debug("closing client")
	c.pool.Close()
}
