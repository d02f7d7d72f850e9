package nsq

import "fmt"

// Error code categories, corresponding to the taxonomy in §7 of the spec.
const (
	TransportError = iota
	ProtocolFramingError
	ServerError
	InvocationError
	LookupError
	TerminalError
	UnknownError
)

// NSQError is the single error type surfaced by this package. Host/Port are
// populated for connection-scoped errors; Code carries the NSQ wire error
// token (e.g. "E_INVALID", "E_FIN_FAILED") when the error originates from a
// server ERROR frame, or "ELOOKUPERROR" for lookup failures.
type NSQError struct {
	Category int
	Code     string
	Host     string
	Port     int
	Message  string
	Err      error
}

func (e *NSQError) Error() string {
	name := categoryName(e.Category)
	switch {
	case e.Code != "" && e.Host != "":
		return fmt.Sprintf("%s: %s (%s): %s", name, e.Code, e.Host, e.Message)
	case e.Code != "":
		return fmt.Sprintf("%s: %s: %s", name, e.Code, e.Message)
	case e.Host != "":
		return fmt.Sprintf("%s: %s: %s", name, e.Host, e.Message)
	default:
		return fmt.Sprintf("%s: %s", name, e.Message)
	}
}

func (e *NSQError) Unwrap() error { return e.Err }

func categoryName(category int) string {
	switch category {
	case TransportError:
		return "TransportError"
	case ProtocolFramingError:
		return "ProtocolFramingError"
	case ServerError:
		return "ServerError"
	case InvocationError:
		return "InvocationError"
	case LookupError:
		return "LookupError"
	case TerminalError:
		return "TerminalError"
	default:
		return "UnknownError"
	}
}

// NewError constructs an *NSQError, mirroring the teacher's NewError(code,
// message...) call shape.
func NewError(category int, message ...interface{}) *NSQError {
	err := &NSQError{Category: category}
	if len(message) > 0 {
		if asErr, ok := message[0].(error); ok {
			err.Err = asErr
			err.Message = asErr.Error()
		} else {
			err.Message = fmt.Sprint(message[0])
		}
	}
	return err
}

// NewServerError wraps a server ERROR-frame payload such as "E_INVALID
// DPUB delay must be a valid integer".
func NewServerError(host string, port int, payload string) *NSQError {
	code, message := payload, ""
	if idx := indexByte(payload, ' '); idx >= 0 {
		code, message = payload[:idx], payload[idx+1:]
	}
	return &NSQError{Category: ServerError, Code: code, Host: host, Port: port, Message: message}
}

// NewLookupError wraps a lookupd poll failure for a single URL.
func NewLookupError(host string, err error) *NSQError {
	return &NSQError{Category: LookupError, Code: "ELOOKUPERROR", Host: host, Message: err.Error(), Err: err}
}

// ErrTerminated is returned by operations attempted after a Connection has
// permanently failed (max reconnect attempts exceeded).
var ErrTerminated = &NSQError{Category: TerminalError, Message: "the connection has been terminated"}

// nonFatalServerCodes are server ERROR tokens that reject only the waiting
// command; any other code closes the socket and triggers a reconnect.
var nonFatalServerCodes = map[string]struct{}{
	"E_REQ_FAILED":   {},
	"E_FIN_FAILED":   {},
	"E_TOUCH_FAILED": {},
}

func isFatalServerError(code string) bool {
	_, nonFatal := nonFatalServerCodes[code]
	return !nonFatal
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
