// Package transport defines the event driven connection surface the HTTP engine runs on.
//
// Every callback runs on a single event loop goroutine. Implementations never call back
// from inside Write, Pause or Close.
package transport

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrConnClosed         = errors.New("connection is closed")
	ErrConnListenerClosed = errors.New("conn listener is closed")
	ErrConnRefused        = errors.New("connection refused")
	ErrAddrAlreadyInUse   = errors.New("address already in use")
	ErrDialCanceled       = errors.New("dial canceled")
)

type Conn interface {
	// OnReadable registers a callback for received bytes. p is only valid during the call.
	OnReadable(fn func(p []byte))
	// OnClose registers a callback for the peer closing the connection or a failure.
	// err is nil for an orderly close. It is not called after a local Close.
	OnClose(fn func(err error))
	// OnPause registers a callback for outbound backpressure.
	// paused is true when writes should stop and false once they may go on.
	OnPause(fn func(paused bool))

	// Write queues p. It does not retain p.
	Write(p []byte) error
	// Pause stops or restarts delivering received bytes.
	Pause(paused bool)
	// Close flushes queued writes and closes the connection.
	Close() error
	Connected() bool

	LocalAddr() string
	RemoteAddr() string
}

type Dialer interface {
	// Dial connects to origin and calls exactly one of onConnect or onError, unless canceled first.
	Dial(origin Origin, onConnect func(Conn), onError func(error)) (cancel func())
}

type Listener interface {
	OnAccept(fn func(Conn))
	Close() error
}

type Scheduler interface {
	// Schedule runs fn on the event loop after delay.
	Schedule(delay time.Duration, fn func()) Handle
}

type Handle interface {
	// Cancel reports whether fn was prevented from running.
	Cancel() bool
}

// Origin identifies a server endpoint for connection reuse.
type Origin struct {
	Scheme string
	Host   string
	Port   uint16
}

// Address is the host and port to dial.
func (o Origin) Address() string {
	host := strings.TrimSuffix(strings.TrimPrefix(o.Host, "["), "]")
	return net.JoinHostPort(host, strconv.FormatUint(uint64(o.Port), 10))
}

func (o Origin) String() string {
	return o.Scheme + "://" + o.Address()
}
