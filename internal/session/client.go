package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/securedesk/core/internal/clipboard"
	"github.com/securedesk/core/internal/eventsink"
	"github.com/securedesk/core/internal/frame"
	"github.com/securedesk/core/internal/identity"
	"github.com/securedesk/core/internal/p2p"
	"github.com/securedesk/core/internal/securechan"
)

// MouseKind identifies the shape of a Client.SendMouse call.
type MouseKind int

const (
	MouseMove MouseKind = iota
	MouseButtonEvent
	MouseScroll
)

// Client is the initiator side of an active session: it owns the Secure
// Channel dialed over one relay (or P2P) connection and exposes the
// public operations the UI layer drives (mouse/key/privacy/clipboard,
// frame requests). Unlike Host, Client does not run an implicit dispatch
// loop — callers read video/clipboard replies explicitly via
// RequestAndReceiveFrame and ReadClipboard, matching the original client's
// request/response shape rather than a push loop.
type Client struct {
	id      *identity.Identity
	channel *securechan.Channel
	clip    *clipboard.Manager
	sink    eventsink.Sink

	p2pEnabled bool
	writeMu    sync.Mutex

	connType atomic.Int32
	remoteID string
}

// NewClient builds a Client bound to an already-handshaken Secure Channel
// talking to remoteDeviceID.
func NewClient(channel *securechan.Channel, id *identity.Identity, sink eventsink.Sink, remoteDeviceID string, p2pEnabled bool) *Client {
	c := &Client{
		id:         id,
		channel:    channel,
		clip:       clipboard.NewManager(),
		sink:       sink,
		p2pEnabled: p2pEnabled,
		remoteID:   remoteDeviceID,
	}
	c.connType.Store(int32(ConnectionRelay))
	return c
}

// ConnectionType reports the session's current transport.
func (c *Client) ConnectionType() ConnectionType { return ConnectionType(c.connType.Load()) }

// RemoteDeviceID returns the peer's device ID this client is connected to.
func (c *Client) RemoteDeviceID() string { return c.remoteID }

func (c *Client) write(channel frame.Channel, payload []byte) error {
	f, err := frame.New(channel, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return frame.WriteTo(c.channel, f)
}

func (c *Client) writeControl(msgType byte, data []byte) error {
	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, msgType)
	payload = append(payload, data...)
	return c.write(frame.ChannelControl, payload)
}

// SetBlackScreen toggles the host's black-screen overlay.
func (c *Client) SetBlackScreen(on bool) error {
	if on {
		return c.write(frame.ChannelPrivacy, []byte{PrivacyBlackScreenOn})
	}
	return c.write(frame.ChannelPrivacy, []byte{PrivacyBlackScreenOff})
}

// SetInputBlock toggles whether the host blocks its local input while the
// session is active.
func (c *Client) SetInputBlock(on bool) error {
	if on {
		return c.write(frame.ChannelPrivacy, []byte{PrivacyInputBlockOn})
	}
	return c.write(frame.ChannelPrivacy, []byte{PrivacyInputBlockOff})
}

// SendMouse emits one Input(MOUSE_MOVE/MOUSE_BUTTON/MOUSE_SCROLL) frame.
// button is only consulted for MouseButtonEvent.
func (c *Client) SendMouse(kind MouseKind, x, y int32, button MouseButton, pressed bool) error {
	switch kind {
	case MouseMove:
		return c.write(frame.ChannelInput, EncodeMouseMove(x, y))
	case MouseButtonEvent:
		return c.write(frame.ChannelInput, EncodeMouseButton(button, pressed, x, y))
	case MouseScroll:
		return c.write(frame.ChannelInput, EncodeMouseScroll(x, y))
	default:
		return fmt.Errorf("session: unknown mouse event kind %d", kind)
	}
}

// SendKey emits an Input(KEY_DOWN/KEY_UP) frame.
func (c *Client) SendKey(keyCode uint16, pressed bool) error {
	return c.write(frame.ChannelInput, EncodeKeyEvent(keyCode, pressed))
}

// ErrSessionDeclined is returned by RequestSession when the host declines
// or fails to respond to the approval request within ApprovalTimeout.
var ErrSessionDeclined = fmt.Errorf("session: host declined the connection request")

// RequestSession sends Control(SESSION_REQUEST) carrying this client's raw
// device ID and blocks for the host's SESSION_ACCEPT or SESSION_END reply.
// A session is not ACTIVE on the client side until this returns nil.
func (c *Client) RequestSession(ctx context.Context) error {
	if err := c.writeControl(ControlSessionRequest, []byte(c.id.DeviceIDRaw())); err != nil {
		return err
	}

	type result struct {
		f   frame.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := frame.ReadFrom(c.channel)
		ch <- result{f, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("session: client read session reply: %w", r.err)
		}
		if r.f.Channel != frame.ChannelControl || len(r.f.Payload) == 0 {
			return ErrSessionDeclined
		}
		switch r.f.Payload[0] {
		case ControlSessionAccept:
			c.sink.Emit(eventsink.ConnectionAccepted, map[string]any{"remote_id": c.remoteID})
			return nil
		default:
			return ErrSessionDeclined
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendResolution tells the host the client's current viewport, an advisory
// downscaling hint.
func (c *Client) SendResolution(width, height uint16) error {
	payload := make([]byte, 4)
	payload[0] = byte(width)
	payload[1] = byte(width >> 8)
	payload[2] = byte(height)
	payload[3] = byte(height >> 8)
	return c.writeControl(ControlResolution, payload)
}

// RequestAndReceiveFrame writes a video-frame request and reads one Video
// frame in response. It returns ok=false (with no error) if the reply
// arrived on the wrong channel or was too short to contain a valid video
// header — a protocol-level mismatch, not a transport failure.
func (c *Client) RequestAndReceiveFrame() (width, height uint16, jpeg []byte, ok bool, err error) {
	if err := c.write(frame.ChannelVideo, videoFrameRequest); err != nil {
		return 0, 0, nil, false, err
	}

	f, err := frame.ReadFrom(c.channel)
	if err != nil {
		return 0, 0, nil, false, fmt.Errorf("session: client read video frame: %w", err)
	}
	if f.Channel != frame.ChannelVideo {
		return 0, 0, nil, false, nil
	}
	width, height, jpeg, ok = DecodeVideoFrame(f.Payload)
	return width, height, jpeg, ok, nil
}

// SendClipboard pushes clipboard content to the host.
func (c *Client) SendClipboard(data clipboard.Data) error {
	payload := append([]byte{ClipboardDataMsg}, data.Encode()...)
	return c.write(frame.ChannelClipboard, payload)
}

// RequestClipboard asks the host to send its current clipboard content.
func (c *Client) RequestClipboard() error {
	return c.write(frame.ChannelClipboard, []byte{ClipboardRequest})
}

// ReadClipboard decodes f, a frame the caller has already read from the
// channel (the reply to RequestClipboard or an unsolicited push from the
// host). It returns ok=false without error when f is not a Clipboard(DATA)
// frame.
func (c *Client) ReadClipboard(f frame.Frame) (clipboard.Data, bool, error) {
	if f.Channel != frame.ChannelClipboard || len(f.Payload) == 0 || f.Payload[0] != ClipboardDataMsg {
		return clipboard.Data{}, false, nil
	}
	data, err := clipboard.Decode(f.Payload[1:])
	if err != nil {
		return clipboard.Data{}, false, err
	}
	c.clip.Update(data)
	c.sink.Emit(eventsink.ClipboardReceived, map[string]any{"type": data.TypeName()})
	return data, true, nil
}

// NegotiateP2P runs the client side of P2P negotiation over the established
// relay control channel: send P2P_OFFER, await P2P_ANSWER, dial the host's
// candidates, and report P2P_READY or P2P_FAILED. On success the session's
// Secure Channel is rebound onto the new TCP connection in place, keeping
// the same cipher state (see securechan.Channel.Rebind); on failure the
// session continues unchanged on the relay.
func (c *Client) NegotiateP2P(ctx context.Context) error {
	port := p2p.ChoosePort(c.id.DeviceIDRaw())
	local := p2p.GatherInfo(ctx, c.p2pEnabled, port)

	if err := c.writeControl(ControlP2POffer, local.Encode()); err != nil {
		return err
	}

	f, err := frame.ReadFrom(c.channel)
	if err != nil {
		return fmt.Errorf("session: client read P2P answer: %w", err)
	}
	if f.Channel != frame.ChannelControl || len(f.Payload) == 0 || f.Payload[0] != ControlP2PAnswer {
		log.Debug().Msg("[session] client: expected P2P_ANSWER, got something else; staying on relay")
		return c.writeControl(ControlP2PFailed, nil)
	}

	remote, err := p2p.Decode(f.Payload[1:])
	if err != nil {
		log.Warn().Err(err).Msg("[session] client: malformed P2P answer")
		return c.writeControl(ControlP2PFailed, nil)
	}

	if !local.P2PEnabled || !remote.P2PEnabled {
		return c.writeControl(ControlP2PFailed, nil)
	}

	conn, err := p2p.Dial(ctx, remote)
	if err != nil || conn == nil {
		log.Info().Msg("[session] client: all P2P candidates failed, staying on relay")
		return c.writeControl(ControlP2PFailed, nil)
	}

	if err := c.channel.Rebind(conn); err != nil {
		conn.Close()
		return c.writeControl(ControlP2PFailed, nil)
	}

	if err := c.writeControl(ControlP2PReady, nil); err != nil {
		return err
	}
	c.connType.Store(int32(ConnectionP2P))
	c.sink.Emit(eventsink.ConnectionTypeChanged, map[string]any{"type": "P2P"})
	return nil
}

// Disconnect sends SESSION_END and closes the underlying transport.
func (c *Client) Disconnect() error {
	_ = c.writeControl(ControlSessionEnd, []byte{0x00})
	c.sink.Emit(eventsink.ConnectionEnded, nil)
	return c.channel.Close()
}
