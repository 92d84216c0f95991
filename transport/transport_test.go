package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrigin(t *testing.T) {
	testcases := []struct {
		origin  Origin
		address string
		str     string
	}{
		{
			origin:  Origin{Scheme: "http", Host: "example.com", Port: 80},
			address: "example.com:80",
			str:     "http://example.com:80",
		},
		{
			origin:  Origin{Scheme: "https", Host: "[2001:db8::7]", Port: 8443},
			address: "[2001:db8::7]:8443",
			str:     "https://[2001:db8::7]:8443",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.str, func(t *testing.T) {
			assert.Equal(t, tc.address, tc.origin.Address())
			assert.Equal(t, tc.str, tc.origin.String())
		})
	}
}
