package uri

import (
	"net/netip"
	"strconv"
	"strings"

	"netkit/application/util/rule"

	"github.com/pkg/errors"
)

const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// URI is an http or https URI. Path and query stay escaped.
type URI struct {
	Scheme    string
	Authority Authority
	Path      string
	Query     *string
}

type Authority struct {
	UserInfo string
	// Host is lower-cased. IP literals keep their brackets.
	Host string
	// Port is nil when the URI has none.
	Port *uint16
}

// DefaultPort returns the port used when an URI of scheme has none.
func DefaultPort(scheme string) (uint16, bool) {
	switch strings.ToLower(scheme) {
	case SchemeHTTP:
		return 80, true
	case SchemeHTTPS:
		return 443, true
	}
	return 0, false
}

// PortOrDefault returns the explicit port or the scheme's default.
func (u URI) PortOrDefault() uint16 {
	if u.Authority.Port != nil {
		return *u.Authority.Port
	}
	port, _ := DefaultPort(u.Scheme)
	return port
}

// HostPort is the authority without user information, omitting the default port.
func (u URI) HostPort() string {
	port := u.PortOrDefault()
	if def, _ := DefaultPort(u.Scheme); port == def {
		return u.Authority.Host
	}
	return u.Authority.Host + ":" + strconv.FormatUint(uint64(port), 10)
}

// RequestTarget is the origin-form target of a request to u.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.1
func (u URI) RequestTarget() string {
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.Query != nil {
		return path + "?" + *u.Query
	}
	return path
}

func (u URI) String() string {
	b := new(strings.Builder)
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.Authority.UserInfo != "" {
		b.WriteString(u.Authority.UserInfo)
		b.WriteByte('@')
	}
	b.WriteString(u.Authority.Host)
	if u.Authority.Port != nil {
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(uint64(*u.Authority.Port), 10))
	}
	b.WriteString(u.RequestTarget())
	return b.String()
}

// Parse parses an absolute http(s) URI. The fragment is dropped since it is never sent.
func Parse(raw string) (URI, error) {
	if i := strings.IndexFunc(raw, isCTLOrSpace); i >= 0 {
		return URI{}, errors.Errorf("invalid byte %q at %d", raw[i], i)
	}

	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return URI{}, errors.Errorf("not an absolute URI: %q", raw)
	}
	if _, ok := DefaultPort(scheme); !ok {
		return URI{}, errors.Errorf("unsupported scheme: %q", scheme)
	}

	authorityRaw := rest
	rest = ""
	if i := strings.IndexAny(authorityRaw, "/?#"); i >= 0 {
		authorityRaw, rest = authorityRaw[:i], authorityRaw[i:]
	}
	authority, err := parseAuthority(authorityRaw)
	if err != nil {
		return URI{}, errors.Wrap(err, "parsing authority")
	}
	if authority.Host == "" {
		return URI{}, errors.Errorf("empty host: %q", raw)
	}

	u := URI{Scheme: strings.ToLower(scheme), Authority: authority}
	rest, _, _ = strings.Cut(rest, "#")
	path, query, hasQuery := strings.Cut(rest, "?")
	u.Path = path
	if hasQuery {
		u.Query = &query
	}
	return u, nil
}

func parseAuthority(raw string) (Authority, error) {
	var a Authority
	hostport := raw
	if i := strings.LastIndexByte(raw, '@'); i >= 0 {
		a.UserInfo, hostport = raw[:i], raw[i+1:]
	}

	host, port, err := splitHostPort(hostport)
	if err != nil {
		return Authority{}, err
	}
	a.Host = strings.ToLower(host)
	a.Port = port
	return a, nil
}

// splitHostPort separates an IP literal or reg-name from its optional port.
// An empty port is the same as no port (RFC 3986 section 6.2.3).
func splitHostPort(raw string) (host string, port *uint16, err error) {
	host, portText := raw, ""
	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", nil, errors.New("unterminated IP literal")
		}
		if _, err := netip.ParseAddr(raw[1:end]); err != nil {
			return "", nil, errors.Wrap(err, "invalid IP literal")
		}
		host, portText = raw[:end+1], raw[end+1:]
		if portText != "" && portText[0] != ':' {
			return "", nil, errors.Errorf("unexpected %q after IP literal", portText)
		}
	} else {
		if i := strings.LastIndexByte(raw, ':'); i >= 0 {
			host, portText = raw[:i], raw[i:]
		}
		for i := 0; i < len(host); i++ {
			if !isRegNameChar(host[i]) {
				return "", nil, errors.Errorf("invalid character %q in host", host[i])
			}
		}
	}

	portText = strings.TrimPrefix(portText, ":")
	if portText == "" {
		return host, nil, nil
	}
	n, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return "", nil, errors.Wrapf(err, "invalid port %q", portText)
	}
	p := uint16(n)
	return host, &p, nil
}

func isCTLOrSpace(r rune) bool { return r <= ' ' || r == 0x7f }

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-3.2.2
func isRegNameChar(c byte) bool {
	if rule.IsAlpha(c) || rule.IsDigit(c) || c >= 0x80 {
		return true
	}
	switch c {
	case '-', '.', '_', '~', '%', '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=':
		return true
	}
	return false
}
