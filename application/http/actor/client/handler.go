package client

import "netkit/application/http"

// A default handler given to [Exchange.SetHandler] receives the events
// no listener was registered for. It implements any subset of these.
type (
	ResponseStartHandler interface {
		ResponseStart(status int, phrase string, headers http.Headers)
	}
	ResponseBodyHandler interface {
		ResponseBody(chunk []byte)
	}
	ResponseDoneHandler interface {
		ResponseDone(trailers http.Headers)
	}
	ErrorHandler interface {
		Error(err error)
	}
	PauseHandler interface {
		Pause(paused bool)
	}
)

// ResponseHandler implements every default handler interface.
type ResponseHandler interface {
	ResponseStartHandler
	ResponseBodyHandler
	ResponseDoneHandler
	ErrorHandler
	PauseHandler
}
