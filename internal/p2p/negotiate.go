package p2p

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// ConnectTimeout bounds both an outbound P2P dial attempt and an inbound
// accept wait.
const ConnectTimeout = 5 * time.Second

// GatherInfo builds this side's P2PInfo for negotiation: STUN-discovered
// public address (re-pointed at listenPort, since the STUN-visible port is
// an ephemeral UDP port, not where the TCP listener lives) and the LAN
// address, both only when p2pEnabled.
func GatherInfo(ctx context.Context, p2pEnabled bool, listenPort uint16) Info {
	if !p2pEnabled {
		return Info{P2PEnabled: false}
	}

	info := Info{P2PEnabled: true}

	if pub, err := DiscoverPublicAddress(ctx); err == nil {
		info.PublicAddr = &net.TCPAddr{IP: pub.IP, Port: int(listenPort)}
	} else {
		log.Debug().Err(err).Msg("[p2p] public address discovery failed")
	}

	if ip, err := LocalAddress(); err == nil {
		info.LocalAddr = &net.TCPAddr{IP: ip, Port: int(listenPort)}
	} else {
		log.Debug().Err(err).Msg("[p2p] local address discovery failed")
	}

	return info
}

// Listen opens the deterministic P2P listener for this device.
func Listen(port uint16) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("p2p: listen on port %d: %w", port, err)
	}
	return ln, nil
}

// Dial attempts a direct TCP connection to remote, trying the local
// (same-LAN) address before the public address, per the original
// preference order, each bounded by ConnectTimeout. It returns nil, nil if
// both candidates fail or neither is present — callers fall back to relay.
func Dial(ctx context.Context, remote Info) (net.Conn, error) {
	candidates := make([]*net.TCPAddr, 0, 2)
	if remote.LocalAddr != nil {
		candidates = append(candidates, remote.LocalAddr)
	}
	if remote.PublicAddr != nil {
		candidates = append(candidates, remote.PublicAddr)
	}

	for _, addr := range candidates {
		dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
		conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", addr.String())
		cancel()
		if err == nil {
			log.Info().Str("addr", addr.String()).Msg("[p2p] direct connection established")
			return conn, nil
		}
		log.Debug().Err(err).Str("addr", addr.String()).Msg("[p2p] direct dial failed")
	}
	return nil, nil
}

// Accept waits up to ConnectTimeout for an inbound P2P connection on ln.
// A mismatched peer IP against expected is logged but not rejected — NAT
// commonly changes the observed source address.
func Accept(ctx context.Context, ln net.Listener, expected *net.TCPAddr) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if expected != nil {
			if remote, ok := r.conn.RemoteAddr().(*net.TCPAddr); ok && !remote.IP.Equal(expected.IP) {
				log.Warn().Str("got", remote.IP.String()).Str("expected", expected.IP.String()).
					Msg("[p2p] accepted peer IP does not match expected address")
			}
		}
		return r.conn, nil
	case <-timeoutCtx.Done():
		return nil, timeoutCtx.Err()
	}
}
