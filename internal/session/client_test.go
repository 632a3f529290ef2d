package session

import (
	"context"
	"testing"
	"time"

	"github.com/securedesk/core/internal/clipboard"
	"github.com/securedesk/core/internal/config"
	"github.com/securedesk/core/internal/eventsink"
	"github.com/securedesk/core/internal/frame"
	"github.com/securedesk/core/internal/p2p"
)

func TestClientNegotiateP2PDisabledSendsFailed(t *testing.T) {
	clientID, hostID := newTestIdentities(t)
	clientChannel, hostChannel := handshakeOverPipe(t, clientID, hostID)

	client := NewClient(clientChannel, clientID, eventsink.NewRecording(), hostID.DeviceID(), false)

	// Minimal host-side peer for this negotiation exchange: read the offer,
	// answer with P2P disabled, then expect P2P_FAILED.
	done := make(chan error, 1)
	go func() {
		f, err := frame.ReadFrom(hostChannel)
		if err != nil {
			done <- err
			return
		}
		if f.Channel != frame.ChannelControl || f.Payload[0] != ControlP2POffer {
			done <- errNotAnOffer
			return
		}
		answer := p2p.Info{P2PEnabled: false}.Encode()
		payload := append([]byte{ControlP2PAnswer}, answer...)
		af, err := frame.New(frame.ChannelControl, payload)
		if err != nil {
			done <- err
			return
		}
		if err := frame.WriteTo(hostChannel, af); err != nil {
			done <- err
			return
		}
		f, err = frame.ReadFrom(hostChannel)
		if err != nil {
			done <- err
			return
		}
		if f.Channel != frame.ChannelControl || f.Payload[0] != ControlP2PFailed {
			done <- errExpectedFailed
			return
		}
		done <- nil
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.NegotiateP2P(ctx); err != nil {
		t.Fatalf("NegotiateP2P: %v", err)
	}
	if client.ConnectionType() != ConnectionRelay {
		t.Fatalf("ConnectionType = %v, want Relay", client.ConnectionType())
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("host peer goroutine: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("host peer goroutine did not complete")
	}
}

func TestClientRequestAndReceiveFrameOffChannel(t *testing.T) {
	clientID, hostID := newTestIdentities(t)
	clientChannel, hostChannel := handshakeOverPipe(t, clientID, hostID)

	client := NewClient(clientChannel, clientID, eventsink.NewRecording(), hostID.DeviceID(), false)

	go func() {
		// Drain the request and reply on the wrong channel.
		_, _ = frame.ReadFrom(hostChannel)
		f, _ := frame.New(frame.ChannelControl, []byte{ControlKeepalive})
		_ = frame.WriteTo(hostChannel, f)
	}()

	_, _, _, ok, err := client.RequestAndReceiveFrame()
	if err != nil {
		t.Fatalf("RequestAndReceiveFrame: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an off-channel reply")
	}
}

func TestClientInitialConnectionTypeIsRelay(t *testing.T) {
	clientID, hostID := newTestIdentities(t)
	clientChannel, _ := handshakeOverPipe(t, clientID, hostID)
	client := NewClient(clientChannel, clientID, eventsink.NewRecording(), hostID.DeviceID(), true)
	if client.ConnectionType() != ConnectionRelay {
		t.Fatalf("ConnectionType() = %v, want Relay", client.ConnectionType())
	}
	if client.RemoteDeviceID() != hostID.DeviceID() {
		t.Fatalf("RemoteDeviceID() = %q, want %q", client.RemoteDeviceID(), hostID.DeviceID())
	}
}

func TestClientRequestSessionAcceptedByTrustedHost(t *testing.T) {
	clientID, hostID := newTestIdentities(t)
	clientChannel, hostChannel := handshakeOverPipe(t, clientID, hostID)

	trusted := map[string]config.TrustedDevice{
		clientID.DeviceIDRaw(): {DeviceID: clientID.DeviceIDRaw()},
	}
	host := NewHost(hostChannel, hostID, newFakeCapture(), &fakeInject{}, clipboard.NewStub(), eventsink.NewRecording(), trusted, false)
	client := NewClient(clientChannel, clientID, eventsink.NewRecording(), hostID.DeviceID(), false)

	go host.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.RequestSession(ctx); err != nil {
		t.Fatalf("RequestSession: %v", err)
	}
}

func TestClientRequestSessionDeclined(t *testing.T) {
	clientID, hostID := newTestIdentities(t)
	clientChannel, hostChannel := handshakeOverPipe(t, clientID, hostID)

	client := NewClient(clientChannel, clientID, eventsink.NewRecording(), hostID.DeviceID(), false)

	go func() {
		_, _ = frame.ReadFrom(hostChannel)
		f, _ := frame.New(frame.ChannelControl, []byte{ControlSessionEnd, 0x00})
		_ = frame.WriteTo(hostChannel, f)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.RequestSession(ctx)
	if err != ErrSessionDeclined {
		t.Fatalf("RequestSession error = %v, want ErrSessionDeclined", err)
	}
}

var (
	errNotAnOffer     = errStr("expected P2P_OFFER")
	errExpectedFailed = errStr("expected P2P_FAILED")
)

type errStr string

func (e errStr) Error() string { return string(e) }
