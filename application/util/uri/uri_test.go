package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	port := func(p uint16) *uint16 { return &p }
	query := func(q string) *string { return &q }

	testcases := []struct {
		desc     string
		raw      string
		expected URI
		target   string
		hostPort string
		port     uint16
	}{
		{
			desc:     "plain",
			raw:      "http://www.ietf.org/rfc/rfc2396.txt",
			expected: URI{Scheme: "http", Authority: Authority{Host: "www.ietf.org"}, Path: "/rfc/rfc2396.txt"},
			target:   "/rfc/rfc2396.txt",
			hostPort: "www.ietf.org",
			port:     80,
		},
		{
			desc:     "no path",
			raw:      "HTTPS://Example.COM",
			expected: URI{Scheme: "https", Authority: Authority{Host: "example.com"}},
			target:   "/",
			hostPort: "example.com",
			port:     443,
		},
		{
			desc: "port query and fragment",
			raw:  "http://user@example.com:8080/a%20b?x=1&y=2#frag",
			expected: URI{
				Scheme:    "http",
				Authority: Authority{UserInfo: "user", Host: "example.com", Port: port(8080)},
				Path:      "/a%20b",
				Query:     query("x=1&y=2"),
			},
			target:   "/a%20b?x=1&y=2",
			hostPort: "example.com:8080",
			port:     8080,
		},
		{
			desc:     "query without path",
			raw:      "http://example.com?q",
			expected: URI{Scheme: "http", Authority: Authority{Host: "example.com"}, Query: query("q")},
			target:   "/?q",
			hostPort: "example.com",
			port:     80,
		},
		{
			desc:     "ip literal with default port",
			raw:      "https://[2001:db8::7]:443/",
			expected: URI{Scheme: "https", Authority: Authority{Host: "[2001:db8::7]", Port: port(443)}, Path: "/"},
			target:   "/",
			hostPort: "[2001:db8::7]",
			port:     443,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			u, err := Parse(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, u)
			assert.Equal(t, tc.target, u.RequestTarget())
			assert.Equal(t, tc.hostPort, u.HostPort())
			assert.Equal(t, tc.port, u.PortOrDefault())
		})
	}
}

func TestParseInvalid(t *testing.T) {
	testcases := []struct {
		desc string
		raw  string
	}{
		{desc: "unsupported scheme", raw: "ftp://ftp.is.co.za/rfc/rfc1808.txt"},
		{desc: "relative", raw: "/index.html"},
		{desc: "no authority", raw: "http:/index.html"},
		{desc: "empty host", raw: "http:///index.html"},
		{desc: "bad port", raw: "http://example.com:http/"},
		{desc: "port overflow", raw: "http://example.com:65536/"},
		{desc: "bad ip literal", raw: "http://[::zz]/"},
		{desc: "CTL", raw: "http://example.com/\r\nHost: evil"},
		{desc: "space", raw: "http://example.com/a b"},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Parse(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestString(t *testing.T) {
	u, err := Parse("http://example.com:8080/path?q=1")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:8080/path?q=1", u.String())
}
