package failover

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass classifies an orchestrator error.
type ErrorClass string

const (
	// ClassConflict marks a request that contradicts the applied configuration.
	ClassConflict ErrorClass = "conflict"

	// ClassTransport marks a failed call to a device.
	ClassTransport ErrorClass = "transport"

	// ClassState marks an operation invalid in the orchestrator's current state.
	ClassState ErrorClass = "state"
)

// Error codes.
const (
	CodeUnknownInterface = "UNKNOWN_INTERFACE"
	CodeEmptyPrimary     = "EMPTY_PRIMARY"
	CodeOverlap          = "OVERLAP"
	CodeUnknownDevice    = "UNKNOWN_DEVICE"
	CodeDuplicateDevice  = "DUPLICATE_DEVICE"
	CodeUnknownGroup     = "UNKNOWN_GROUP"
	CodeGroupOwned       = "GROUP_OWNED"
	CodeNoConfiguration  = "NO_CONFIGURATION"
	CodeAlreadyRunning   = "ALREADY_RUNNING"
	CodeNotRunning       = "NOT_RUNNING"
	CodeStopTimeout      = "STOP_TIMEOUT"
	CodePanic            = "PANIC"
)

// Error is a classified orchestrator error.
type Error struct {
	Class     ErrorClass `json:"class"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message"`
	Group     string     `json:"group,omitempty"`
	Device    string     `json:"device,omitempty"`
	Interface string     `json:"interface,omitempty"`
	Err       error      `json:"-"`
}

func (e *Error) Error() string {
	var ctx []string
	if e.Group != "" {
		ctx = append(ctx, "group="+e.Group)
	}
	if e.Device != "" {
		ctx = append(ctx, "device="+e.Device)
	}
	if e.Interface != "" {
		ctx = append(ctx, "interface="+e.Interface)
	}

	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if len(ctx) > 0 {
		msg += " (" + strings.Join(ctx, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same class and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// WithGroup sets the group name.
func (e *Error) WithGroup(group string) *Error {
	e.Group = group
	return e
}

// WithDevice sets the device name.
func (e *Error) WithDevice(device string) *Error {
	e.Device = device
	return e
}

// WithInterface sets the interface name.
func (e *Error) WithInterface(iface string) *Error {
	e.Interface = iface
	return e
}

func newConflict(code, format string, args ...interface{}) *Error {
	return &Error{Class: ClassConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func newStateError(code, format string, args ...interface{}) *Error {
	return &Error{Class: ClassState, Code: code, Message: fmt.Sprintf(format, args...)}
}

func newTransportError(message string, err error) *Error {
	return &Error{Class: ClassTransport, Message: message, Err: err}
}

func isClass(err error, class ErrorClass) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsConflict reports whether err is a configuration conflict.
func IsConflict(err error) bool { return isClass(err, ClassConflict) }

// IsTransport reports whether err is a failed device call.
func IsTransport(err error) bool { return isClass(err, ClassTransport) }

// IsState reports whether err is an orchestrator state error.
func IsState(err error) bool { return isClass(err, ClassState) }

// HasCode reports whether err is an *Error carrying code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
