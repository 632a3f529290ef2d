package session

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/securedesk/core/internal/capture"
	"github.com/securedesk/core/internal/clipboard"
	"github.com/securedesk/core/internal/config"
	"github.com/securedesk/core/internal/eventsink"
	"github.com/securedesk/core/internal/frame"
	"github.com/securedesk/core/internal/identity"
	"github.com/securedesk/core/internal/inject"
	"github.com/securedesk/core/internal/p2p"
	"github.com/securedesk/core/internal/securechan"
)

// PendingApproval is an incoming SESSION_REQUEST awaiting a user decision.
type PendingApproval struct {
	RemoteID string
	respond  chan bool
}

// Respond delivers the user's decision. Only the first call has any
// effect; later calls are silently dropped (the approval window closed).
func (p *PendingApproval) Respond(accept bool) {
	select {
	case p.respond <- accept:
	default:
	}
}

// Host is the responder side of an active session: it owns the Secure
// Channel established over one relay (or P2P) connection and dispatches
// every inbound frame until the peer disconnects or a fatal error occurs.
type Host struct {
	id      *identity.Identity
	channel *securechan.Channel
	capture capture.Source
	input   inject.Sink
	privacy PrivacyState
	clip    *clipboard.Manager
	board   clipboard.Backend
	sink    eventsink.Sink
	trusted map[string]config.TrustedDevice

	p2pEnabled bool
	connType   ConnectionType
	remoteID   string
	targetW    uint16
	targetH    uint16

	pending *PendingApproval
}

// NewHost builds a Host bound to an already-handshaken Secure Channel.
func NewHost(channel *securechan.Channel, id *identity.Identity, cap capture.Source, inj inject.Sink, board clipboard.Backend, sink eventsink.Sink, trusted map[string]config.TrustedDevice, p2pEnabled bool) *Host {
	return &Host{
		id:         id,
		channel:    channel,
		capture:    cap,
		input:      inj,
		clip:       clipboard.NewManager(),
		board:      board,
		sink:       sink,
		trusted:    trusted,
		p2pEnabled: p2pEnabled,
		connType:   ConnectionRelay,
	}
}

// ConnectionType reports the session's current transport.
func (h *Host) ConnectionType() ConnectionType { return h.connType }

// Pending returns the approval currently awaiting a decision, or nil.
func (h *Host) Pending() *PendingApproval { return h.pending }

// Run processes frames until SESSION_END, a fatal transport error, or ctx
// cancellation.
func (h *Host) Run(ctx context.Context) error {
	defer h.privacy.DisableAll()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := frame.ReadFrom(h.channel)
		if err != nil {
			return fmt.Errorf("session: host read: %w", err)
		}

		done, err := h.dispatch(ctx, f)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (h *Host) dispatch(ctx context.Context, f frame.Frame) (done bool, err error) {
	switch f.Channel {
	case frame.ChannelControl:
		return h.handleControl(ctx, f)
	case frame.ChannelInput:
		return false, h.handleInput(f)
	case frame.ChannelPrivacy:
		return false, h.handlePrivacyMessage(f)
	case frame.ChannelVideo:
		return false, h.sendVideoFrame(ctx)
	case frame.ChannelClipboard:
		return false, h.handleClipboard(f)
	default:
		log.Warn().Uint8("channel", uint8(f.Channel)).Msg("[session] host: unknown channel")
		return false, nil
	}
}

func (h *Host) write(channel frame.Channel, payload []byte) error {
	f, err := frame.New(channel, payload)
	if err != nil {
		return err
	}
	return frame.WriteTo(h.channel, f)
}

func (h *Host) writeControl(msgType byte, data []byte) error {
	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, msgType)
	payload = append(payload, data...)
	return h.write(frame.ChannelControl, payload)
}

func (h *Host) handleControl(ctx context.Context, f frame.Frame) (done bool, err error) {
	if len(f.Payload) == 0 {
		return false, nil
	}

	switch f.Payload[0] {
	case ControlSessionRequest:
		return false, h.handleSessionRequest(ctx, f.Payload[1:])

	case ControlSessionEnd:
		h.privacy.DisableAll()
		h.sink.Emit(eventsink.ConnectionEnded, nil)
		return true, nil

	case ControlKeepalive:
		return false, h.writeControl(ControlKeepalive, nil)

	case ControlP2POffer:
		return false, h.handleP2POffer(ctx, f.Payload[1:])

	case ControlP2PReady:
		log.Info().Msg("[session] host: client confirmed P2P ready")
		return false, nil

	case ControlP2PFailed:
		log.Info().Msg("[session] host: client reported P2P failed, staying on relay")
		h.connType = ConnectionRelay
		return false, nil

	case ControlResolution:
		if len(f.Payload) >= 5 {
			h.targetW = uint16(f.Payload[1]) | uint16(f.Payload[2])<<8
			h.targetH = uint16(f.Payload[3]) | uint16(f.Payload[4])<<8
		}
		return false, nil

	default:
		return false, nil
	}
}

func (h *Host) handleSessionRequest(ctx context.Context, idBytes []byte) error {
	remoteID := "Unknown"
	if len(idBytes) > 0 {
		remoteID = strings.TrimSpace(string(idBytes))
	}

	if device, ok := h.trusted[remoteID]; ok {
		log.Info().Str("remote_id", device.DeviceID).Msg("[session] host: auto-accepting trusted device")
		h.remoteID = remoteID
		h.sink.Emit(eventsink.ConnectionAccepted, map[string]any{"remote_id": remoteID})
		return h.writeControl(ControlSessionAccept, []byte{0x01})
	}

	respond := make(chan bool, 1)
	pending := &PendingApproval{RemoteID: remoteID, respond: respond}
	h.pending = pending
	h.sink.Emit(eventsink.ConnectionRequest, map[string]any{"remote_id": remoteID})

	var accepted bool
	select {
	case accepted = <-respond:
	case <-time.After(ApprovalTimeout):
		accepted = false
	case <-ctx.Done():
		h.pending = nil
		return ctx.Err()
	}
	h.pending = nil

	if accepted {
		h.remoteID = remoteID
		h.sink.Emit(eventsink.ConnectionAccepted, map[string]any{"remote_id": remoteID})
		return h.writeControl(ControlSessionAccept, []byte{0x01})
	}
	return h.writeControl(ControlSessionEnd, []byte{0x00})
}

// handleInput never returns an error to the caller: per §4.7/§7 Platform
// error handling, an injection failure drops only the single input event,
// it does not end the session (the host CLI wires inject.NewStub, whose
// every call fails with ErrNotImplemented, and a conformant client sends
// input frames from the moment a session is accepted).
func (h *Host) handleInput(f frame.Frame) error {
	if len(f.Payload) == 0 {
		return nil
	}
	var err error
	switch f.Payload[0] {
	case InputMouseMove:
		if x, y, ok := decodeMouseMove(f.Payload); ok {
			err = h.input.MoveMouse(x, y)
		}
	case InputMouseButton:
		if button, pressed, x, y, ok := decodeMouseButton(f.Payload); ok {
			err = h.input.MouseButtonEvent(inject.MouseButton(button), pressed, x, y)
		}
	case InputMouseScroll:
		if dx, dy, ok := decodeMouseScroll(f.Payload); ok {
			err = h.input.MouseScroll(dx, dy)
		}
	case InputKeyDown, InputKeyUp:
		if key, pressed, ok := decodeKeyEvent(f.Payload); ok {
			err = h.input.KeyEvent(key, pressed)
		}
	}
	if err != nil {
		log.Warn().Err(err).Uint8("input_type", f.Payload[0]).Msg("[session] host: dropping input event, injection failed")
	}
	return nil
}

func (h *Host) handlePrivacyMessage(f frame.Frame) error {
	if len(f.Payload) > 0 {
		switch f.Payload[0] {
		case PrivacyBlackScreenOn:
			h.privacy.EnableBlackScreen()
		case PrivacyBlackScreenOff:
			h.privacy.DisableBlackScreen()
		case PrivacyInputBlockOn:
			h.privacy.BlockInput()
		case PrivacyInputBlockOff:
			h.privacy.UnblockInput()
		}
	}
	return h.write(frame.ChannelPrivacy, h.privacy.StatusAck())
}

func (h *Host) sendVideoFrame(ctx context.Context) error {
	f, err := h.capture.Capture(ctx)
	if err != nil {
		return h.write(frame.ChannelVideo, EncodeVideoFrame(0, 0, nil))
	}
	return h.write(frame.ChannelVideo, EncodeVideoFrame(f.Width, f.Height, f.JPEG))
}

func (h *Host) handleClipboard(f frame.Frame) error {
	if len(f.Payload) == 0 {
		return nil
	}
	switch f.Payload[0] {
	case ClipboardRequest:
		data, err := h.board.Get()
		if err != nil {
			log.Warn().Err(err).Msg("[session] host: clipboard backend unavailable for request")
			return nil
		}
		payload := append([]byte{ClipboardDataMsg}, data.Encode()...)
		return h.write(frame.ChannelClipboard, payload)

	case ClipboardDataMsg:
		if len(f.Payload) <= 1 {
			return nil
		}
		data, err := clipboard.Decode(f.Payload[1:])
		if err != nil {
			log.Warn().Err(err).Msg("[session] host: malformed clipboard data")
			return nil
		}
		h.clip.Update(data)
		if err := h.board.Set(data); err != nil {
			log.Warn().Err(err).Msg("[session] host: failed to set local clipboard")
		}
		h.sink.Emit(eventsink.ClipboardReceived, map[string]any{"type": data.TypeName()})
		return nil

	case ClipboardChanged:
		return nil

	default:
		return nil
	}
}

func (h *Host) handleP2POffer(ctx context.Context, payload []byte) error {
	remote, err := p2p.Decode(payload)
	if err != nil {
		log.Warn().Err(err).Msg("[session] host: malformed P2P offer")
		return nil
	}

	port := p2p.ChoosePort(h.id.DeviceIDRaw())
	local := p2p.GatherInfo(ctx, h.p2pEnabled, port)

	if err := h.writeControl(ControlP2PAnswer, local.Encode()); err != nil {
		return err
	}

	if !remote.P2PEnabled && !local.P2PEnabled {
		return nil
	}

	ln, err := p2p.Listen(port)
	if err != nil {
		log.Debug().Err(err).Msg("[session] host: P2P listen failed, staying on relay")
		return nil
	}
	defer ln.Close()

	conn, racedFrame, err := h.raceP2PAccept(ctx, ln, remote)
	if err != nil {
		return err
	}
	if racedFrame != nil {
		return h.dispatchRacedFrame(*racedFrame)
	}
	if conn == nil {
		return nil
	}

	if err := h.channel.Rebind(conn); err != nil {
		conn.Close()
		return nil
	}
	h.connType = ConnectionP2P
	h.sink.Emit(eventsink.ConnectionTypeChanged, map[string]any{"type": "P2P"})
	return nil
}

// raceP2PAccept races a direct P2P accept against the next relay control
// frame arriving (typically P2P_FAILED from the client), each on its own
// goroutine reporting to a shared channel — never a single select mixing a
// blocking relay read with a listener accept on shared state. When the
// accept wins, the relay-read goroutine is forced to give up via a brief
// read deadline so it cannot race the caller's next frame.ReadFrom call on
// the same channel.
func (h *Host) raceP2PAccept(ctx context.Context, ln net.Listener, remote p2p.Info) (net.Conn, *frame.Frame, error) {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	type frameResult struct {
		f   frame.Frame
		err error
	}

	acceptCh := make(chan acceptResult, 1)
	frameCh := make(chan frameResult, 1)

	go func() {
		conn, err := p2p.Accept(ctx, ln, remote.PublicAddr)
		acceptCh <- acceptResult{conn, err}
	}()
	go func() {
		f, err := frame.ReadFrom(h.channel)
		frameCh <- frameResult{f, err}
	}()

	select {
	case r := <-acceptCh:
		h.channel.SetDeadline(time.Now())
		<-frameCh
		h.channel.SetDeadline(time.Time{})
		if r.err != nil {
			return nil, nil, nil
		}
		return r.conn, nil, nil
	case r := <-frameCh:
		if r.err != nil {
			return nil, nil, fmt.Errorf("session: host read during P2P negotiation: %w", r.err)
		}
		return nil, &r.f, nil
	}
}

func (h *Host) dispatchRacedFrame(f frame.Frame) error {
	if f.Channel != frame.ChannelControl || len(f.Payload) == 0 {
		return nil
	}
	switch f.Payload[0] {
	case ControlP2PFailed:
		log.Info().Msg("[session] host: client reported P2P failed during negotiation")
		h.connType = ConnectionRelay
	case ControlP2PReady:
		log.Info().Msg("[session] host: client reported P2P ready during negotiation")
	}
	return nil
}
