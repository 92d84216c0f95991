package server

import (
	"time"

	"netkit/application/http"
)

type Options struct {
	Serve    ServeOptions
	Pipeline PipelineOptions
	Timeout  TimeoutOptions
}

type ServeOptions struct {
	Encode http.EncodeOptions
	Decode http.DecodeOptions
}

type PipelineOptions struct {
	// MaxPipeline is how many requests of a connection may wait for their response.
	MaxPipeline uint
}

type TimeoutOptions struct {
	// Idle closes a connection with nothing in flight. 0 disables it.
	Idle time.Duration
	// Read limits the time between bytes of a partially received request. 0 disables it.
	Read time.Duration
}

var DefaultOptions = Options{
	Serve: ServeOptions{
		Encode: http.DefaultEncodeOptions,
		Decode: http.DefaultDecodeOptions,
	},
	Pipeline: PipelineOptions{MaxPipeline: 16},
	Timeout: TimeoutOptions{
		Idle: 2 * time.Minute,
		Read: 30 * time.Second,
	},
}
