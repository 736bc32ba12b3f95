package smtp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds of a send. Use errors.Is to classify
// an error returned by Send.
var (
	ErrConfiguration   = errors.New("smtp: invalid configuration")
	ErrConnection      = errors.New("smtp: connection failed")
	ErrResponseTimeout = errors.New("smtp: response timeout")
	ErrProtocol        = errors.New("smtp: negative reply")
)

// errSessionUsed is returned when Run is called twice on the same Session.
var errSessionUsed = errors.New("smtp: session already used")

// ConfigurationError reports malformed transport or message input detected
// before any network activity.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("smtp: invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ConnectionError reports a failure to establish, secure or use the
// underlying connection.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("smtp: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is matches ErrConnection.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// ResponseTimeoutError reports that no terminal reply line arrived within the
// response timeout. Partial holds whatever text was read before the deadline.
type ResponseTimeoutError struct {
	Step    string
	Partial string
}

func (e *ResponseTimeoutError) Error() string {
	if e.Partial == "" {
		return fmt.Sprintf("smtp: %s: no response before timeout", e.Step)
	}
	return fmt.Sprintf("smtp: %s: incomplete response before timeout: %q", e.Step, e.Partial)
}

// Is matches ErrResponseTimeout.
func (e *ResponseTimeoutError) Is(target error) bool {
	return target == ErrResponseTimeout
}

// ProtocolError reports a step whose reply was rejected by reply validation.
type ProtocolError struct {
	Step     string
	Response Response
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("smtp: %s rejected: %s", e.Step, e.Response.Text)
}

// Is matches ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// Temporary reports whether the rejection was a transient (4xx) reply.
func (e *ProtocolError) Temporary() bool {
	return e.Response.IsTransient()
}
