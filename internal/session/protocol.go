// Package session implements the host and client session state machines
// that dispatch frames once a Secure Channel is established: approval
// gating, video/input/privacy/clipboard handling, P2P negotiation over the
// control channel, and the session table for multi-session clients.
//
// The Noise XK handshake itself runs directly on the raw relay connection
// before any Frame is exchanged (see internal/securechan) rather than as a
// Control(HANDSHAKE) frame message the way the original embeds it — the
// handshake state machine already frames its own messages, so wrapping it
// a second time inside a Control frame would be redundant. Every other
// control code below is unchanged from the wire protocol.
package session

import "time"

// Control message types (first payload byte on the Control channel).
const (
	ControlSessionRequest = 0x02
	ControlSessionAccept  = 0x03
	ControlSessionEnd     = 0x04
	ControlKeepalive      = 0x05
	ControlResolution     = 0x06

	ControlP2POffer  = 0x10
	ControlP2PAnswer = 0x11
	ControlP2PReady  = 0x12
	ControlP2PFailed = 0x13

	ControlError = 0xFF
)

// Input message types (first payload byte on the Input channel).
const (
	InputMouseMove   = 0x01
	InputMouseButton = 0x02
	InputMouseScroll = 0x03
	InputKeyDown     = 0x04
	InputKeyUp       = 0x05
)

// Privacy message types (first payload byte on the Privacy channel).
const (
	PrivacyBlackScreenOn  = 0x01
	PrivacyBlackScreenOff = 0x02
	PrivacyInputBlockOn   = 0x03
	PrivacyInputBlockOff  = 0x04
	PrivacyStatusAck      = 0x05
)

// Clipboard message types (first payload byte on the Clipboard channel).
const (
	ClipboardRequest    = 0x01
	ClipboardDataMsg    = 0x02
	ClipboardChanged    = 0x03
	ClipboardSyncStatus = 0x04
)

// ApprovalTimeout bounds how long the host waits for a user to accept or
// decline an incoming SESSION_REQUEST before treating it as a decline.
const ApprovalTimeout = 30 * time.Second

// ReconnectDelay is how long the host supervisor sleeps after a fatal
// session error before retrying the relay.
const ReconnectDelay = 5 * time.Second

// MouseButton identifies a mouse button in the wire numbering used by
// Input(MOUSE_BUTTON) payloads: 0=left, 1=middle, 2=right, 3=back, 4=forward.
type MouseButton = uint8

// ConnectionType reports which transport a session is currently using.
type ConnectionType int

const (
	ConnectionRelay ConnectionType = iota
	ConnectionP2P
)

func (c ConnectionType) String() string {
	switch c {
	case ConnectionP2P:
		return "P2P"
	default:
		return "Relay"
	}
}
