package pipe

import (
	"sync"

	"netkit/lib/event"
	"netkit/transport"
)

// Network connects dialers to listeners by origin address, in memory.
type Network struct {
	loop Poster
	opts Options

	mu        sync.Mutex
	listeners map[string]*Listener
	dialed    uint
}

func NewNetwork(loop Poster, opts Options) *Network {
	return &Network{
		loop:      loop,
		opts:      opts,
		listeners: make(map[string]*Listener),
	}
}

var _ transport.Dialer = (*Network)(nil)

// Dial connects to the listener on origin's address. Without one, the dial is refused.
func (n *Network) Dial(origin transport.Origin, onConnect func(transport.Conn), onError func(error)) (cancel func()) {
	canceled := false
	n.loop.Post(func() {
		if canceled {
			return
		}

		n.mu.Lock()
		listener, ok := n.listeners[origin.Address()]
		n.dialed++
		name := "dialer-" + origin.Address()
		n.mu.Unlock()

		if !ok || listener.isClosed() {
			onError(transport.ErrConnRefused)
			return
		}

		c1, c2 := Pair(name, origin.Address(), n.loop, n.opts)
		listener.accepted.Emit(c2)
		onConnect(c1)
	})

	return func() { canceled = true }
}

// Dialed is the number of dial attempts.
func (n *Network) Dialed() uint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dialed
}

func (n *Network) Listen(address string) (*Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.listeners[address]; ok {
		return nil, transport.ErrAddrAlreadyInUse
	}

	l := &Listener{network: n, address: address}
	n.listeners[address] = l
	return l, nil
}

type Listener struct {
	network *Network
	address string

	accepted event.Listeners[transport.Conn]

	mu     sync.Mutex
	closed bool
}

var _ transport.Listener = (*Listener)(nil)

func (l *Listener) OnAccept(fn func(transport.Conn)) { l.accepted.Add(fn) }

func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return transport.ErrConnListenerClosed
	}
	l.closed = true
	l.mu.Unlock()

	l.network.mu.Lock()
	delete(l.network.listeners, l.address)
	l.network.mu.Unlock()
	return nil
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
