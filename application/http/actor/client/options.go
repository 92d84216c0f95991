package client

import (
	"time"

	"netkit/application/http"
)

type Options struct {
	Conn    ConnOptions
	Retry   RetryOptions
	Timeout TimeoutOptions

	Decode http.DecodeOptions
	Encode http.EncodeOptions
}

type ConnOptions struct {
	// MaxServerConn is a soft limit of connections per origin.
	// Going over it is only logged and reported by [Pool.Stats]. 0 means unlimited.
	MaxServerConn uint
}

type RetryOptions struct {
	// Limit is how many times an idempotent request is retried after a connection failure.
	Limit uint
	Delay time.Duration
}

type TimeoutOptions struct {
	Connect time.Duration
	// Read limits the time to the first response byte, and between response bytes.
	Read time.Duration
	// Idle is how long a connection waits in the pool. 0 disables reuse.
	Idle time.Duration
}

var DefaultOptions = Options{
	Conn: ConnOptions{MaxServerConn: 6},
	Retry: RetryOptions{
		Limit: 2,
		Delay: 500 * time.Millisecond,
	},
	Timeout: TimeoutOptions{
		Connect: 10 * time.Second,
		Read:    30 * time.Second,
		Idle:    60 * time.Second,
	},
	Decode: http.DefaultDecodeOptions,
	Encode: http.DefaultEncodeOptions,
}
