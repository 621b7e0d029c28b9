// Package transports defines the device capability the failover core depends
// on and provides an in-memory implementation.
package transports

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/pathguard/pkg/intent"
)

// Transport is the narrow capability used to reach a network device. Every
// method may block and may fail; callers bound them with ctx.
type Transport interface {
	// Connect establishes the session to the device.
	Connect(ctx context.Context) error

	// Disconnect releases the session. It is safe to call when not connected.
	Disconnect() error

	// PushConfig applies a configuration document. A targeted document (see
	// intent.EnableDocument) only changes the enable state of the interfaces
	// it lists.
	PushConfig(ctx context.Context, doc *intent.Document) error

	// CheckHealth reports whether the named interface has a usable link.
	CheckHealth(ctx context.Context, name string) (bool, error)

	// ListInterfaces returns the current state of every interface on the device.
	ListInterfaces(ctx context.Context) ([]InterfaceStatus, error)
}

// InterfaceStatus is the observed state of a device interface.
type InterfaceStatus struct {
	Name    string `json:"name" yaml:"name"`
	Up      bool   `json:"up" yaml:"up"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Speed   string `json:"speed,omitempty" yaml:"speed,omitempty"`
	MTU     int    `json:"mtu,omitempty" yaml:"mtu,omitempty"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "push", "health").
	Op string

	// Device is the device the operation targeted.
	Device string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates if the error is temporary and can be retried.
	IsTemporary bool
}

// NewError creates a TransportError.
func NewError(op, device string, err error, temporary bool) *TransportError {
	return &TransportError{Op: op, Device: device, Err: err, IsTemporary: temporary}
}

func (e *TransportError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the operation may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// IsTemporary reports whether err is a temporary transport failure.
func IsTemporary(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.IsTemporary
}
