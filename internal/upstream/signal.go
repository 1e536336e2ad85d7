package upstream

import "net/http"

// StatusSoftNotFound is the frontend repository's "page does not exist"
// status. Both services rely on it; it is never an error condition.
const StatusSoftNotFound = 238

// Signal classifies an upstream status for the response interpreter.
type Signal int

const (
	SignalOK Signal = iota
	SignalSoftNotFound
	SignalRedirect
	SignalServerError
)

func (s Signal) String() string {
	switch s {
	case SignalOK:
		return "ok"
	case SignalSoftNotFound:
		return "soft_not_found"
	case SignalRedirect:
		return "redirect"
	case SignalServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Classify maps a status code onto a Signal. Client errors stay SignalOK:
// their bodies are passed through like any page.
func Classify(status int) Signal {
	switch {
	case status == StatusSoftNotFound:
		return SignalSoftNotFound
	case status >= 300 && status < 400 && status != http.StatusNotModified:
		return SignalRedirect
	case status >= 500:
		return SignalServerError
	default:
		return SignalOK
	}
}
