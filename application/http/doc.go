// Package http implements the HTTP/1.1 message codec.
//
// A [Decoder] turns an arbitrarily fragmented byte stream into messages, reporting them to an injected
// [Handler]. An [Encoder] writes messages in one of the delimiting modes. Neither does any network I/O.
//
// Reference:
//
// - https://datatracker.ietf.org/doc/html/rfc9110
//
// - https://datatracker.ietf.org/doc/html/rfc9112
package http
