package session

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/securedesk/core/internal/eventsink"
	"github.com/securedesk/core/internal/identity"
	"github.com/securedesk/core/internal/relay"
	"github.com/securedesk/core/internal/securechan"
)

// DialClient registers with relayAddr as a client targeting
// targetDeviceID, completes the Noise XK handshake using the host's
// static key the relay forwarded in the registration reply (§4.3.1), and
// returns a ready-to-use Client. This is the single entry point a
// cmd/securedesk client subcommand (or a multi-session UI command) uses
// to open one new session.
func DialClient(ctx context.Context, relayAddr string, tlsConfig *tls.Config, id *identity.Identity, targetDeviceID string, sink eventsink.Sink, p2pEnabled bool) (*Client, error) {
	conn, hostStatic, err := relay.RegisterClient(ctx, relayAddr, tlsConfig, id.DeviceIDRaw(), targetDeviceID)
	if err != nil {
		return nil, err
	}

	channel, err := securechan.ClientHandshake(ctx, conn, id, hostStatic)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: client handshake: %w", err)
	}

	return NewClient(channel, id, sink, targetDeviceID, p2pEnabled), nil
}
