package status

import "strconv"

// Status is a response status code with its reason phrase.
type Status struct {
	Code         int
	ReasonPhrase string
}

func (s Status) String() string { return strconv.Itoa(s.Code) + " " + s.ReasonPhrase }

// Text is the status code as written on a status line.
func (s Status) Text() string { return strconv.Itoa(s.Code) }

// Informational 1XX
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.2
var (
	Continue           = register(100, "Continue")
	SwitchingProtocols = register(101, "Switching Protocols")
)

// Successful 2XX
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.3
var (
	OK                   = register(200, "OK")
	Created              = register(201, "Created")
	Accepted             = register(202, "Accepted")
	NonAuthoritativeInfo = register(203, "Non-Authoritative Information")
	NoContent            = register(204, "No Content")
	ResetContent         = register(205, "Reset Content")
	PartialContent       = register(206, "Partial Content")
)

// Redirection 3xx
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.4
var (
	MultipleChoices   = register(300, "Multiple Choices")
	MovedPermanently  = register(301, "Moved Permanently")
	Found             = register(302, "Found")
	SeeOther          = register(303, "See Other")
	NotModified       = register(304, "Not Modified")
	UseProxy          = register(305, "Use Proxy")
	_                 = register(306, "") // Unused
	TemporaryRedirect = register(307, "Temporary Redirect")
	PermanentRedirect = register(308, "Permanent Redirect")
)

// Client Error 4xx
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.5
var (
	BadRequest           = register(400, "Bad Request")
	Unauthorized         = register(401, "Unauthorized")
	PaymentRequired      = register(402, "Payment Required")
	Forbidden            = register(403, "Forbidden")
	NotFound             = register(404, "Not Found")
	MethodNotAllowed     = register(405, "Method Not Allowed")
	NotAcceptable        = register(406, "Not Acceptable")
	ProxyAuthRequired    = register(407, "Proxy Authentication Required")
	RequestTimeout       = register(408, "Request Timeout")
	Conflict             = register(409, "Conflict")
	Gone                 = register(410, "Gone")
	LengthRequired       = register(411, "Length Required")
	PreconditionFailed   = register(412, "Precondition Failed")
	ContentTooLarge      = register(413, "Content Too Large")
	RequestURITooLong    = register(414, "Request URI TooLong")
	UnsupportedMediaType = register(415, "Unsupported Media Type")
	RangeNotSatisfiable  = register(416, "Range Not Satisfiable")
	ExpectationFailed    = register(417, "Expectation Failed")
	ImATeapot            = register(418, "I'm a teapot") // Unused. But I like the joke.
	MisdirectedRequest   = register(421, "Misdirected Request")
	UnprocessableContent = register(422, "Unprocessable Content")
	UpgradeRequired      = register(426, "Upgrade Required")

	// Reference: https://datatracker.ietf.org/doc/html/rfc6585#section-5
	RequestHeaderFieldsTooLarge = register(431, "Request Header Fields Too Large")
)

// Server Error 5xx
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.6
var (
	InternalServerError     = register(500, "Internal Server Error")
	NotImplemented          = register(501, "Not Implemented")
	BadGateway              = register(502, "Bad Gateway")
	ServiceUnavailable      = register(503, "Service Unavailable")
	GatewayTimeout          = register(504, "Gateway Timeout")
	HTTPVersionNotSupported = register(505, "HTTP Version Not Supported")
)

var known = make(map[int]Status)

func register(code int, phrase string) Status {
	status := Status{Code: code, ReasonPhrase: phrase}
	known[code] = status
	return status
}

// FromCode looks the reason phrase up. Unknown codes get an empty phrase.
func FromCode(code int) (status Status, ok bool) {
	s, ok := known[code]
	if !ok {
		return Status{Code: code}, false
	}
	return s, true
}

// Parse parses a three digit status code.
func Parse(code string) (int, bool) {
	if len(code) != 3 {
		return 0, false
	}
	n, err := strconv.Atoi(code)
	if err != nil || n < 100 {
		return 0, false
	}
	return n, true
}

func IsInformational(code int) bool { return 100 <= code && code < 200 }

// HasNoBody reports whether a response with the code never carries content.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.1
func HasNoBody(code int) bool {
	return IsInformational(code) || code == NoContent.Code || code == NotModified.Code
}
