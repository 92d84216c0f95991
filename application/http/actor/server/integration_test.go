package server_test

import (
	"log/slog"
	"testing"
	"time"

	"netkit/application/http"
	"netkit/application/http/actor/client"
	"netkit/application/http/actor/server"
	"netkit/transport"
	"netkit/transport/loop"
	"netkit/transport/pipe"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
)

type result struct {
	status   int
	headers  http.Headers
	body     []byte
	trailers http.Headers
	done     bool
	err      error
}

type IntegrationTestSuite struct {
	suite.Suite

	clock   *clock.Mock
	loop    *loop.Loop
	network *pipe.Network
	server  *server.Server
	client  *client.Client
	origin  transport.Origin
}

func TestIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}

func (s *IntegrationTestSuite) SetupTest() {
	s.clock = clock.NewMock()
	s.loop = loop.New(s.clock)
	s.network = pipe.NewNetwork(s.loop, pipe.DefaultOptions)
	s.origin = transport.Origin{Scheme: "http", Host: "example.com", Port: 80}

	l, err := s.network.Listen(s.origin.Address())
	s.Require().NoError(err)

	logger := slog.New(slog.DiscardHandler)
	s.server = server.New(l, s.loop, logger, s.clock, server.HandlerFunc(s.handle), server.DefaultOptions)
	s.server.Start()

	opts := client.DefaultOptions
	opts.Retry.Delay = time.Second
	s.client = client.New(s.network, s.loop, logger, opts)
}

func (s *IntegrationTestSuite) TearDownTest() {
	s.client.Close()
	s.server.Close()
	s.loop.RunPending()
}

// handle echoes the request body back, chunked, with the target as a header.
func (s *IntegrationTestSuite) handle(ex *server.Exchange, method, target string, headers http.Headers) {
	var body []byte
	ex.OnRequestBody(func(chunk []byte) { body = append(body, chunk...) })
	ex.OnRequestDone(func(trailers http.Headers) {
		if err := ex.ResponseStart(200, "", http.NewHeaders("X-Target", target)); err != nil {
			s.Fail("response start", err)
			return
		}
		if method != "HEAD" {
			ex.ResponseBody([]byte(method + " "))
			ex.ResponseBody(body)
		}
		ex.ResponseDone(http.NewHeaders("X-Length", http.ContentLengthValue(uint64(len(body)))))
	})
}

func (s *IntegrationTestSuite) send(method, rawURI string, body ...string) *result {
	res := &result{}
	ex := s.client.Exchange()
	ex.OnResponseStart(func(status int, _ string, headers http.Headers) {
		res.status = status
		res.headers = headers.Clone()
	})
	ex.OnResponseBody(func(chunk []byte) { res.body = append(res.body, chunk...) })
	ex.OnResponseDone(func(trailers http.Headers) {
		res.done = true
		res.trailers = trailers.Clone()
	})
	ex.OnError(func(err error) { res.err = err })

	ex.RequestStart(method, rawURI, nil)
	for _, chunk := range body {
		ex.RequestBody([]byte(chunk))
	}
	ex.RequestDone(nil)
	return res
}

func (s *IntegrationTestSuite) TestGet() {
	res := s.send("GET", "http://example.com/path?q=1")
	s.loop.RunPending()

	s.Require().NoError(res.err)
	s.True(res.done)
	s.Equal(200, res.status)
	target, _ := res.headers.Get("X-Target")
	s.Equal("/path?q=1", target)
	s.Equal("GET ", string(res.body))
	s.Equal(http.NewHeaders("X-Length", "0"), res.trailers)
}

func (s *IntegrationTestSuite) TestPostChunked() {
	res := s.send("POST", "http://example.com/upload", "hello, ", "world")
	s.loop.RunPending()

	s.Require().NoError(res.err)
	s.True(res.done)
	s.Equal("POST hello, world", string(res.body))
	s.Equal(http.NewHeaders("X-Length", "12"), res.trailers)
}

func (s *IntegrationTestSuite) TestHead() {
	res := s.send("HEAD", "http://example.com/")
	s.loop.RunPending()

	s.Require().NoError(res.err)
	s.True(res.done)
	s.Empty(res.body)
}

func (s *IntegrationTestSuite) TestReuse() {
	for i := 0; i < 3; i++ {
		res := s.send("GET", "http://example.com/")
		s.loop.RunPending()
		s.Require().True(res.done)
	}

	s.Equal(uint(1), s.network.Dialed())
	s.Equal(client.PoolStats{Open: 1, Idle: 1}, s.client.Pool().Stats(s.origin))
	s.Equal(1, s.server.Conns())
}

func (s *IntegrationTestSuite) TestConcurrentExchanges() {
	results := []*result{
		s.send("GET", "http://example.com/1"),
		s.send("GET", "http://example.com/2"),
	}
	s.loop.RunPending()

	for _, res := range results {
		s.Require().NoError(res.err)
		s.True(res.done)
	}
	s.Equal(uint(2), s.network.Dialed())
	s.Equal(client.PoolStats{Open: 2, Idle: 2}, s.client.Pool().Stats(s.origin))
}

func (s *IntegrationTestSuite) TestNoReuse() {
	opts := client.DefaultOptions
	opts.Timeout.Idle = 0
	s.client = client.New(s.network, s.loop, nil, opts)

	res := s.send("GET", "http://example.com/")
	s.loop.RunPending()

	s.Require().True(res.done)
	s.Equal(client.PoolStats{}, s.client.Pool().Stats(s.origin))
	s.Equal(0, s.server.Conns())
}

func (s *IntegrationTestSuite) TestRefused() {
	res := s.send("GET", "http://nowhere.example/")
	s.loop.RunPending()
	for i := 0; i < int(client.DefaultOptions.Retry.Limit); i++ {
		s.clock.Add(time.Second)
		s.loop.RunPending()
	}

	s.Equal(uint(client.DefaultOptions.Retry.Limit+1), s.network.Dialed())
	s.ErrorIs(res.err, http.ErrConnect)
	s.ErrorIs(res.err, transport.ErrConnRefused)
}

func (s *IntegrationTestSuite) TestServerIdleTimeout() {
	res := s.send("GET", "http://example.com/")
	s.loop.RunPending()
	s.Require().True(res.done)

	s.clock.Add(server.DefaultOptions.Timeout.Idle)
	s.loop.RunPending()

	s.Equal(0, s.server.Conns())
	s.Equal(client.PoolStats{}, s.client.Pool().Stats(s.origin))
}
