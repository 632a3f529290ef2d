// Package relay implements the TLS relay handshake: dialing the relay,
// registering as a host or client, and exchanging the initial
// registration acknowledgement. Once registered, callers exchange
// frame.Frame values directly over the returned connection.
package relay

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/securedesk/core/internal/frame"
	"github.com/securedesk/core/internal/identity"
)

const (
	roleHost   = 0x01
	roleClient = 0x02

	ackSuccess = 0x01
	ackError   = 0xFF
)

var (
	ErrRegistrationFailed = errors.New("relay: registration failed")
	ErrMalformedAck       = errors.New("relay: malformed registration acknowledgement")
)

// Dial opens a TLS connection to the relay. tlsConfig may be nil to use the
// system root store (production); tests pass a config that trusts a
// self-signed certificate served by a local listener.
func Dial(ctx context.Context, address string, tlsConfig *tls.Config) (net.Conn, error) {
	dialer := tls.Dialer{Config: tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", address, err)
	}
	return conn, nil
}

// RegisterHost dials the relay and registers as a host. The registration
// request itself is the byte-exact role+length+ID record (SPEC_FULL.md §8
// invariant 6). Once registration is acknowledged, the host separately
// announces its X25519 static key as its own framed Control message, so
// that clients dialing this device ID can learn the key before the Noise
// XK handshake (see SPEC_FULL.md §4.3.1) without altering the registration
// record itself.
func RegisterHost(ctx context.Context, address string, tlsConfig *tls.Config, id *identity.Identity) (net.Conn, error) {
	conn, err := Dial(ctx, address, tlsConfig)
	if err != nil {
		return nil, err
	}

	myID := []byte(id.DeviceIDRaw())
	req := make([]byte, 0, 1+2+len(myID))
	req = append(req, roleHost)
	req = appendUint16Prefixed(req, myID)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: send host registration: %w", err)
	}

	ack, err := frame.ReadFrom(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: read host ack: %w", err)
	}
	if err := checkAck(ack); err != nil {
		conn.Close()
		return nil, err
	}

	if err := announceStaticKey(conn, id.X25519PublicKey()); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// announceStaticKey sends the host's X25519 static key as a standalone
// framed Control message, distinct from the registration record.
func announceStaticKey(w io.Writer, key []byte) error {
	f, err := frame.New(frame.ChannelControl, key)
	if err != nil {
		return err
	}
	return frame.WriteTo(w, f)
}

// RegisterClient dials the relay and registers as a client wishing to
// connect to targetDeviceID. It returns the connection and the host's
// X25519 static key forwarded in the registration acknowledgement.
func RegisterClient(ctx context.Context, address string, tlsConfig *tls.Config, myDeviceID, targetDeviceID string) (net.Conn, []byte, error) {
	conn, err := Dial(ctx, address, tlsConfig)
	if err != nil {
		return nil, nil, err
	}

	my := []byte(stripSpaces(myDeviceID))
	target := []byte(stripSpaces(targetDeviceID))

	req := make([]byte, 0, 1+2+len(my)+2+len(target))
	req = append(req, roleClient)
	req = appendUint16Prefixed(req, my)
	req = appendUint16Prefixed(req, target)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("relay: send client registration: %w", err)
	}

	ack, err := frame.ReadFrom(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("relay: read client ack: %w", err)
	}
	if err := checkAck(ack); err != nil {
		conn.Close()
		return nil, nil, err
	}
	if len(ack.Payload) != 1+32 {
		conn.Close()
		return nil, nil, ErrMalformedAck
	}

	hostStatic := make([]byte, 32)
	copy(hostStatic, ack.Payload[1:])
	return conn, hostStatic, nil
}

func checkAck(ack frame.Frame) error {
	if ack.Channel != frame.ChannelControl || len(ack.Payload) == 0 {
		return ErrMalformedAck
	}
	if ack.Payload[0] == ackError {
		return fmt.Errorf("%w: %s", ErrRegistrationFailed, string(ack.Payload[1:]))
	}
	if ack.Payload[0] != ackSuccess {
		return ErrMalformedAck
	}
	return nil
}

func appendUint16Prefixed(dst, data []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(data)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, data...)
	return dst
}

func stripSpaces(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// ReadRegistration parses an inbound registration request. A relay server
// is deployment infrastructure outside the session core's scope, but this
// parser lets tests exercise both sides of the wire format without one.
// For a host registration, extra is always empty: the host's static key
// is not part of the registration record (SPEC_FULL.md §4.3.1) and must be
// read separately with ReadHostStaticKey once the ack has been sent.
func ReadRegistration(r io.Reader) (role byte, myID, extra string, err error) {
	var roleBuf [1]byte
	if _, err = io.ReadFull(r, roleBuf[:]); err != nil {
		return 0, "", "", err
	}
	role = roleBuf[0]

	myID, err = readUint16Prefixed(r)
	if err != nil {
		return 0, "", "", err
	}

	switch role {
	case roleHost:
		return role, myID, "", nil
	case roleClient:
		target, err := readUint16Prefixed(r)
		if err != nil {
			return 0, "", "", err
		}
		return role, myID, target, nil
	default:
		return 0, "", "", fmt.Errorf("relay: unknown registration role 0x%02x", role)
	}
}

// ReadHostStaticKey reads the host's post-ack static-key announcement (the
// framed Control message RegisterHost sends right after its registration
// ack). Call this after WriteSuccessAck for a host registration.
func ReadHostStaticKey(r io.Reader) ([]byte, error) {
	f, err := frame.ReadFrom(r)
	if err != nil {
		return nil, err
	}
	if f.Channel != frame.ChannelControl || len(f.Payload) != 32 {
		return nil, ErrMalformedAck
	}
	return f.Payload, nil
}

func readUint16Prefixed(r io.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	data := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return "", err
		}
	}
	return string(data), nil
}

// WriteSuccessAck writes a host registration success acknowledgement.
func WriteSuccessAck(w io.Writer) error {
	f, err := frame.New(frame.ChannelControl, []byte{ackSuccess})
	if err != nil {
		return err
	}
	return frame.WriteTo(w, f)
}

// WriteSuccessAckWithKey writes a client registration success acknowledgement
// carrying the host's X25519 static key.
func WriteSuccessAckWithKey(w io.Writer, hostStaticKey []byte) error {
	payload := make([]byte, 0, 1+32)
	payload = append(payload, ackSuccess)
	payload = append(payload, hostStaticKey...)
	f, err := frame.New(frame.ChannelControl, payload)
	if err != nil {
		return err
	}
	return frame.WriteTo(w, f)
}

// WriteErrorAck writes a registration failure acknowledgement.
func WriteErrorAck(w io.Writer, message string) error {
	payload := append([]byte{ackError}, []byte(message)...)
	f, err := frame.New(frame.ChannelControl, payload)
	if err != nil {
		return err
	}
	return frame.WriteTo(w, f)
}
