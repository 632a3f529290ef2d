package session

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/securedesk/core/internal/capture"
	"github.com/securedesk/core/internal/clipboard"
	"github.com/securedesk/core/internal/config"
	"github.com/securedesk/core/internal/eventsink"
	"github.com/securedesk/core/internal/identity"
	"github.com/securedesk/core/internal/inject"
	"github.com/securedesk/core/internal/relay"
	"github.com/securedesk/core/internal/securechan"
)

// HostSupervisor owns the host's outer dial loop: register with a relay,
// complete the Noise XK handshake, then run one Host session to
// completion. On any fatal error it clears session state, sleeps
// ReconnectDelay, and retries the next configured relay in order — it
// never retries more than once per relay within a single run_once, per
// §4.6's reconnection note.
type HostSupervisor struct {
	ID             *identity.Identity
	RelayAddresses []string
	TLSConfig      *tls.Config
	Capture        capture.Source
	Inject         inject.Sink
	Clipboard      clipboard.Backend
	Sink           eventsink.Sink
	Trusted        func() map[string]config.TrustedDevice
	P2PEnabled     bool
}

// Run dials relays in order forever until ctx is canceled, running one
// Host session per successful connection.
func (s *HostSupervisor) Run(ctx context.Context) {
	idx := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if len(s.RelayAddresses) == 0 {
			log.Error().Msg("[session] host supervisor: no relay addresses configured")
			return
		}

		addr := s.RelayAddresses[idx%len(s.RelayAddresses)]
		idx++

		if err := s.runOnce(ctx, addr); err != nil {
			log.Warn().Err(err).Str("relay", addr).Msg("[session] host supervisor: session ended, reconnecting")
		}

		select {
		case <-time.After(ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (s *HostSupervisor) runOnce(ctx context.Context, relayAddr string) error {
	conn, err := relay.RegisterHost(ctx, relayAddr, s.TLSConfig, s.ID)
	if err != nil {
		return err
	}

	channel, err := securechan.HostHandshake(ctx, conn, s.ID)
	if err != nil {
		conn.Close()
		return err
	}

	var trusted map[string]config.TrustedDevice
	if s.Trusted != nil {
		trusted = s.Trusted()
	}

	host := NewHost(channel, s.ID, s.Capture, s.Inject, s.Clipboard, s.Sink, trusted, s.P2PEnabled)
	defer channel.Close()

	return host.Run(ctx)
}
