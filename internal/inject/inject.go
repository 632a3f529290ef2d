// Package inject defines the narrow input-injection interface the host
// session drives on the input channel. Platform injection backends
// (SendInput on Windows, uinput/XTest on Linux, etc.) are outside this
// repository's scope; this package only describes the contract and ships
// a stub for headless operation and tests.
package inject

import "errors"

// ErrNotImplemented is returned by the stub Sink for any platform that has
// not wired in a real injection backend.
var ErrNotImplemented = errors.New("inject: no platform backend registered")

// MouseButton identifies a mouse button using the same numbering the web
// client's pointer events use: 0=left, 1=middle, 2=right, 3=back, 4=forward.
type MouseButton uint8

const (
	MouseLeft MouseButton = iota
	MouseMiddle
	MouseRight
	MouseBack
	MouseForward
)

// LockStates mirrors the three toggle-able keyboard lock keys kept in sync
// between host and client.
type LockStates struct {
	CapsLock   bool
	NumLock    bool
	ScrollLock bool
}

// Sink injects input events into the local desktop session.
type Sink interface {
	MoveMouse(x, y int32) error
	MouseButtonEvent(button MouseButton, pressed bool, x, y int32) error
	MouseScroll(dx, dy int32) error
	KeyEvent(keyCode uint16, pressed bool) error
	LockStates() (LockStates, error)
	SyncLockStates(remote LockStates) error
}

// Stub is a no-backend Sink used for headless hosts and tests: every
// call is a no-op returning ErrNotImplemented, except LockStates queries
// which report the zero value without error so callers can safely poll.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (Stub) MoveMouse(x, y int32) error { return ErrNotImplemented }

func (Stub) MouseButtonEvent(button MouseButton, pressed bool, x, y int32) error {
	return ErrNotImplemented
}

func (Stub) MouseScroll(dx, dy int32) error { return ErrNotImplemented }

func (Stub) KeyEvent(keyCode uint16, pressed bool) error { return ErrNotImplemented }

func (Stub) LockStates() (LockStates, error) { return LockStates{}, nil }

func (Stub) SyncLockStates(remote LockStates) error { return nil }
