// Package p2p implements STUN-based public address discovery, deterministic
// P2P port selection, the P2PInfo wire codec, and the negotiation/dial/
// accept logic that upgrades a relayed session to a direct connection.
package p2p

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pion/stun/v3"
	"github.com/rs/zerolog/log"
)

// Servers is the ordered list of public STUN servers tried during
// discovery, matching the original client's server list exactly.
var Servers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
	"stun2.l.google.com:19302",
	"stun.cloudflare.com:3478",
}

const stunTimeout = 3 * time.Second

var ErrNoStunServerResponded = errors.New("p2p: no STUN server responded")

// DiscoverPublicAddress queries the configured STUN servers in order and
// returns the first successfully discovered public address.
func DiscoverPublicAddress(ctx context.Context) (*net.UDPAddr, error) {
	for _, server := range Servers {
		addr, err := queryStunServer(ctx, server)
		if err != nil {
			log.Debug().Err(err).Str("server", server).Msg("[p2p] stun server failed")
			continue
		}
		log.Info().Str("server", server).Str("addr", addr.String()).Msg("[p2p] discovered public address")
		return addr, nil
	}
	return nil, ErrNoStunServerResponded
}

func queryStunServer(ctx context.Context, server string) (*net.UDPAddr, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(stunTimeout))
	}

	request, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteToUDP(request.Raw, serverAddr); err != nil {
		return nil, err
	}

	buf := make([]byte, 1024)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}

	var response stun.Message
	response.Raw = buf[:n]
	if err := response.Decode(); err != nil {
		return nil, err
	}
	if response.Type != stun.BindingSuccess {
		return nil, errors.New("p2p: not a binding success response")
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(&response); err == nil {
		return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
	}

	var mappedAddr stun.MappedAddress
	if err := mappedAddr.GetFrom(&response); err == nil {
		return &net.UDPAddr{IP: mappedAddr.IP, Port: mappedAddr.Port}, nil
	}

	return nil, errors.New("p2p: no mapped address in STUN response")
}

// LocalAddress determines the machine's LAN-facing address using the
// connect-to-a-public-host trick (no packets need actually be delivered for
// a UDP "connect" to populate the local address).
func LocalAddress() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
