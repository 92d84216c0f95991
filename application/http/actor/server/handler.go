package server

import "netkit/application/http"

// Handler receives every request a server parses.
// It must eventually complete the exchange's response.
type Handler interface {
	RequestStart(ex *Exchange, method, target string, headers http.Headers)
}

type HandlerFunc func(ex *Exchange, method, target string, headers http.Headers)

func (f HandlerFunc) RequestStart(ex *Exchange, method, target string, headers http.Headers) {
	f(ex, method, target, headers)
}
