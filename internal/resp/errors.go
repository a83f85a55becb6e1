package resp

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidRequest is returned when a request is encoded without arguments
	ErrInvalidRequest = errors.New("resp: request must have at least one argument")

	// ErrProtocol is the sentinel wrapped by every ProtocolError
	ErrProtocol = errors.New("resp: protocol error")

	// ErrInvalidEnding is returned for a header line ended by a bare LF
	ErrInvalidEnding = &ProtocolError{Msg: "invalid line ending"}
)

// ProtocolError reports malformed framing. The byte stream that produced it is unusable
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "resp: protocol error: " + e.Msg
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

// ServerError is an error reply sent by the server. The connection stays usable
type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string {
	return e.Msg
}

// Prefix returns the error code, the first word of the message (ERR, WRONGTYPE, ...)
func (e *ServerError) Prefix() string {
	if i := strings.IndexByte(e.Msg, ' '); i >= 0 {
		return e.Msg[:i]
	}
	return e.Msg
}
