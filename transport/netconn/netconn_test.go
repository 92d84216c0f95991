package netconn

import (
	"net"
	"testing"
	"time"

	"netkit/transport"
	"netkit/transport/loop"
	"netkit/transport/test"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

type NetConnTestSuite struct {
	test.ConnTestSuite
}

func TestNetConnTestSuite(t *testing.T) {
	suite.Run(t, new(NetConnTestSuite))
}

func (s *NetConnTestSuite) SetupTest() {
	s.ConnTestSuite.SetupTest()
	s.Loop = loop.New(clock.New())

	nc1, nc2 := net.Pipe()
	s.C1 = New(nc1, s.Loop, DefaultOptions, nil)
	s.C2 = New(nc2, s.Loop, DefaultOptions, nil)
}

func (s *NetConnTestSuite) TestBackpressure() {
	nc1, nc2 := net.Pipe()
	c1 := New(nc1, s.Loop, Options{HighWater: 4, LowWater: 0}, nil)
	c2 := New(nc2, s.Loop, DefaultOptions, nil)
	defer func() {
		c1.Close()
		c2.Close()
		<-c1.Done()
		<-c2.Done()
	}()

	var pauses []bool
	c1.OnPause(func(paused bool) { pauses = append(pauses, paused) })

	// net.Pipe is unbuffered, so queued bytes only drain as c2 reads.
	s.Require().NoError(c1.Write([]byte("abcdef")))
	s.Eventually(func() bool { return len(pauses) == 2 })
	s.Equal([]bool{true, false}, pauses)
}

type DialerTestSuite struct {
	suite.Suite

	loop *loop.Loop
}

func TestDialerTestSuite(t *testing.T) {
	suite.Run(t, new(DialerTestSuite))
}

func (s *DialerTestSuite) SetupTest() {
	s.loop = loop.New(clock.New())
}

func (s *DialerTestSuite) TearDownTest() {
	goleak.VerifyNone(s.T())
}

func (s *DialerTestSuite) pump(cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		s.Require().True(time.Now().Before(deadline), "condition not met before timeout")
		s.loop.RunPending()
		time.Sleep(time.Millisecond)
	}
}

func (s *DialerTestSuite) TestDialListen() {
	lis, err := Listen("127.0.0.1:0", s.loop, DefaultOptions, nil)
	s.Require().NoError(err)

	var server transport.Conn
	var received []byte
	lis.OnAccept(func(conn transport.Conn) {
		server = conn
		conn.OnReadable(func(p []byte) { received = append(received, p...) })
	})

	host, portRaw, err := net.SplitHostPort(lis.Addr())
	s.Require().NoError(err)
	port, err := net.LookupPort("tcp", portRaw)
	s.Require().NoError(err)

	var client transport.Conn
	d := NewDialer(s.loop, DefaultOptions, nil)
	d.Dial(transport.Origin{Scheme: "http", Host: host, Port: uint16(port)}, func(conn transport.Conn) {
		client = conn
	}, func(err error) {
		s.Fail("dial failed", err)
	})

	s.pump(func() bool { return client != nil && server != nil })
	s.Require().NoError(client.Write([]byte("hello")))
	s.pump(func() bool { return string(received) == "hello" })

	serverClosed := false
	server.OnClose(func(err error) {
		s.NoError(err)
		serverClosed = true
	})
	s.Require().NoError(client.Close())
	s.pump(func() bool { return serverClosed })

	s.Require().NoError(server.Close())
	s.Require().NoError(lis.Close())
	<-client.(*Conn).Done()
	<-server.(*Conn).Done()
}

func (s *DialerTestSuite) TestRefused() {
	// Grab a free port and release it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	port := ln.Addr().(*net.TCPAddr).Port
	s.Require().NoError(ln.Close())

	var dialErr error
	d := NewDialer(s.loop, DefaultOptions, nil)
	d.Dial(transport.Origin{Scheme: "http", Host: "127.0.0.1", Port: uint16(port)}, func(conn transport.Conn) {
		s.Fail("unexpected connect")
		conn.Close()
	}, func(err error) { dialErr = err })

	s.pump(func() bool { return dialErr != nil })
}
