package http

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/dchest/uniuri"
	"github.com/indigo-web/chunkedbody"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type EncoderTestSuite struct {
	suite.Suite

	out *bytes.Buffer
	e   *Encoder
}

func TestEncoderTestSuite(t *testing.T) {
	suite.Run(t, new(EncoderTestSuite))
}

func (s *EncoderTestSuite) SetupTest() {
	s.out = new(bytes.Buffer)
	s.e = NewEncoder(s.out, DefaultEncodeOptions)
}

func (s *EncoderTestSuite) TestCounted() {
	top := TopLine{"POST", "/upload", "HTTP/1.1"}
	s.Require().NoError(s.e.Start(top, NewHeaders("Host", "example.com", "Content-Length", "5"), Mode{Kind: Counted, Length: 5}))
	s.Require().NoError(s.e.Body([]byte("12")))
	s.Require().NoError(s.e.Body([]byte("345")))

	closeConn, err := s.e.End(nil)
	s.Require().NoError(err)
	s.False(closeConn)
	s.Equal("POST /upload HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\n12345", s.out.String())
}

func (s *EncoderTestSuite) TestCountedOverflow() {
	s.Require().NoError(s.e.Start(TopLine{"HTTP/1.1", "200", "OK"}, nil, Mode{Kind: Counted, Length: 2}))
	s.ErrorIs(s.e.Body([]byte("abc")), ErrBodyOverflow)
}

func (s *EncoderTestSuite) TestCountedUnderflow() {
	s.Require().NoError(s.e.Start(TopLine{"HTTP/1.1", "200", "OK"}, nil, Mode{Kind: Counted, Length: 2}))
	s.Require().NoError(s.e.Body([]byte("a")))
	_, err := s.e.End(nil)
	s.ErrorIs(err, ErrBodyUnderflow)
}

func (s *EncoderTestSuite) TestNoBody() {
	s.Require().NoError(s.e.Start(TopLine{"HTTP/1.1", "204", "No Content"}, nil, Mode{Kind: NoBody}))
	s.ErrorIs(s.e.Body([]byte("x")), ErrBodyForbidden)
	s.NoError(s.e.Body(nil))

	closeConn, err := s.e.End(nil)
	s.NoError(err)
	s.False(closeConn)
	s.Equal("HTTP/1.1 204 No Content\r\n\r\n", s.out.String())
}

func (s *EncoderTestSuite) TestChunked() {
	s.Require().NoError(s.e.Start(TopLine{"HTTP/1.1", "200", "OK"}, NewHeaders("Transfer-Encoding", "chunked"), Mode{Kind: Chunked}))
	s.Require().NoError(s.e.Body([]byte("hello")))
	s.Require().NoError(s.e.Body(nil))
	s.Require().NoError(s.e.Body([]byte(" world, this is long")))

	_, err := s.e.End(NewHeaders("Checksum", "abc"))
	s.Require().NoError(err)
	s.Equal(""+
		"HTTP/1.1 200 OK\r\n"+
		"Transfer-Encoding: chunked\r\n"+
		"\r\n"+
		"5\r\nhello\r\n"+
		"14\r\n world, this is long\r\n"+
		"0\r\n"+
		"Checksum: abc\r\n"+
		"\r\n",
		s.out.String())
}

func (s *EncoderTestSuite) TestChunkedOracle() {
	payload := strings.Repeat("abcdefgh", 300)

	s.Require().NoError(s.e.Start(TopLine{"HTTP/1.1", "200", "OK"}, nil, Mode{Kind: Chunked}))
	head := s.out.Len()
	for i := 0; i < len(payload); i += 77 {
		end := min(i+77, len(payload))
		s.Require().NoError(s.e.Body([]byte(payload[i:end])))
	}
	_, err := s.e.End(nil)
	s.Require().NoError(err)

	parser := chunkedbody.NewParser(chunkedbody.DefaultSettings())
	data := s.out.Bytes()[head:]
	var body []byte
	for len(data) > 0 {
		chunk, extra, err := parser.Parse(data, false)
		if err != nil {
			s.Require().ErrorIs(err, io.EOF)
			break
		}
		body = append(body, chunk...)
		data = extra
	}
	s.Equal(payload, string(body))
}

func (s *EncoderTestSuite) TestCloseDelimited() {
	s.Require().NoError(s.e.Start(TopLine{"HTTP/1.0", "200", "OK"}, nil, Mode{Kind: CloseDelimited}))
	s.Require().NoError(s.e.Body([]byte("raw")))

	closeConn, err := s.e.End(nil)
	s.NoError(err)
	s.True(closeConn)
	s.Equal("HTTP/1.0 200 OK\r\n\r\nraw", s.out.String())
}

func (s *EncoderTestSuite) TestInvalidHeader() {
	err := s.e.Start(TopLine{"GET", "/", "HTTP/1.1"}, NewHeaders("Bad Name", "x"), Mode{Kind: NoBody})
	s.ErrorIs(err, ErrMalformedHeader)

	err = s.e.Start(TopLine{"GET", "/", "HTTP/1.1"}, NewHeaders("X-Injected", "a\r\nEvil: 1"), Mode{Kind: NoBody})
	s.ErrorIs(err, ErrMalformedHeader)
	s.Zero(s.out.Len())
}

func (s *EncoderTestSuite) TestOutOfOrder() {
	s.ErrorIs(s.e.Body([]byte("x")), ErrEncoderState)
	_, err := s.e.End(nil)
	s.ErrorIs(err, ErrEncoderState)

	s.Require().NoError(s.e.Start(TopLine{"GET", "/", "HTTP/1.1"}, nil, Mode{Kind: NoBody}))
	s.ErrorIs(s.e.Start(TopLine{"GET", "/", "HTTP/1.1"}, nil, Mode{Kind: NoBody}), ErrEncoderState)
}

func randomHeaders(n int) Headers {
	headers := make(Headers, 0, n)
	for i := 0; i < n; i++ {
		headers.Add("X-"+uniuri.NewLen(16), fmt.Sprintf("value %d", i))
	}
	return headers
}

func TestChunkedRoundTrip(t *testing.T) {
	headers := randomHeaders(20)
	// Same name twice to check that duplicates keep their order.
	headers.Add(string(headers[0].Name), "again")
	headers.Add("Transfer-Encoding", "chunked")
	body := []byte(strings.Repeat(uniuri.New(), 50))

	out := new(bytes.Buffer)
	e := NewEncoder(out, DefaultEncodeOptions)
	require.NoError(t, e.Start(TopLine{"PUT", "/resource", "HTTP/1.1"}, headers, Mode{Kind: Chunked}))
	for i := 0; i < len(body); i += 100 {
		require.NoError(t, e.Body(body[i:min(i+100, len(body))]))
	}
	_, err := e.End(nil)
	require.NoError(t, err)

	rec := &recorder{}
	d := NewDecoder(rec, DefaultDecodeOptions)
	raw := out.Bytes()
	for i := 0; i < len(raw); i += 7 {
		d.Feed(raw[i:min(i+7, len(raw))])
	}

	require.Empty(t, rec.errs)
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, headers, rec.msgs[0].headers)
	assert.Equal(t, body, rec.msgs[0].body)
	assert.True(t, rec.msgs[0].ended)
}
