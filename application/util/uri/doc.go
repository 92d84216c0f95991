// Package uri parses the absolute URIs a client sends requests to.
//
// Components are kept as written, so the request target goes on the wire unchanged.
//
// Reference:
//
// - https://datatracker.ietf.org/doc/html/rfc3986
//
// - https://datatracker.ietf.org/doc/html/rfc9110#section-4.2
package uri
