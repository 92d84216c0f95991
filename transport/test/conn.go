package test

import (
	"time"

	"netkit/transport"
	"netkit/transport/loop"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

// ConnTestSuite checks the [transport.Conn] contract on a connected pair.
// Embedding suites set C1, C2 and Loop in SetupTest.
type ConnTestSuite struct {
	suite.Suite
	C1, C2 transport.Conn
	Loop   *loop.Loop

	// Timeout bounds every Eventually call.
	Timeout time.Duration
}

func (s *ConnTestSuite) SetupTest() {
	s.Timeout = time.Second
}

func (s *ConnTestSuite) TearDownTest() {
	defer goleak.VerifyNone(s.T())
	if s.C1 != nil {
		_ = s.C1.Close()
	}
	if s.C2 != nil {
		_ = s.C2.Close()
	}
	s.Eventually(func() bool { return s.Loop.Pending() == 0 })
}

// Eventually pumps the loop until cond holds or the timeout passes.
func (s *ConnTestSuite) Eventually(cond func() bool) bool {
	deadline := time.Now().Add(s.Timeout)
	for {
		s.Loop.RunPending()
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			s.Fail("condition not met before timeout")
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *ConnTestSuite) collect(conn transport.Conn) *[]byte {
	var got []byte
	conn.OnReadable(func(p []byte) { got = append(got, p...) })
	return &got
}

func (s *ConnTestSuite) TestReadWrite() {
	got := s.collect(s.C2)

	data := []byte("Hello, World!")
	s.Require().NoError(s.C1.Write(data))
	// The connection must not retain the written slice.
	copy(data, "XXXXX")
	s.Require().NoError(s.C1.Write([]byte(" again")))

	s.Eventually(func() bool { return len(*got) == len("Hello, World! again") })
	s.Equal("Hello, World! again", string(*got))
}

func (s *ConnTestSuite) TestBothWays() {
	got1, got2 := s.collect(s.C1), s.collect(s.C2)

	s.Require().NoError(s.C1.Write([]byte("ping")))
	s.Require().NoError(s.C2.Write([]byte("pong")))

	s.Eventually(func() bool { return len(*got1) == 4 && len(*got2) == 4 })
	s.Equal("pong", string(*got1))
	s.Equal("ping", string(*got2))
}

func (s *ConnTestSuite) TestClose() {
	var closeErr error
	peerClosed := false
	s.C2.OnClose(func(err error) {
		peerClosed = true
		closeErr = err
	})
	localClosed := false
	s.C1.OnClose(func(error) { localClosed = true })

	s.Require().NoError(s.C1.Close())
	s.False(s.C1.Connected())
	s.ErrorIs(s.C1.Write([]byte("late")), transport.ErrConnClosed)

	s.Eventually(func() bool { return peerClosed })
	s.NoError(closeErr)
	s.False(s.C2.Connected())
	s.False(localClosed)
}

func (s *ConnTestSuite) TestWriteBeforeClose() {
	got := s.collect(s.C2)
	closed := false
	s.C2.OnClose(func(error) { closed = true })

	s.Require().NoError(s.C1.Write([]byte("last words")))
	s.Require().NoError(s.C1.Close())

	s.Eventually(func() bool { return closed })
	s.Equal("last words", string(*got))
}

func (s *ConnTestSuite) TestPause() {
	got := s.collect(s.C2)

	s.C2.Pause(true)
	s.Require().NoError(s.C1.Write([]byte("held")))
	s.Eventually(func() bool { return s.Loop.Pending() == 0 })
	time.Sleep(10 * time.Millisecond)
	s.Loop.RunPending()
	s.Empty(*got)

	s.C2.Pause(false)
	s.Eventually(func() bool { return len(*got) == 4 })
	s.Equal("held", string(*got))
}
