package p2p

import (
	"encoding/binary"
	"errors"
	"net"
)

// Info is the P2P connectivity information exchanged over the relay's
// control channel during negotiation.
type Info struct {
	P2PEnabled bool
	PublicAddr *net.TCPAddr // nil if unknown/unavailable
	LocalAddr  *net.TCPAddr
}

var (
	ErrEmptyInfo      = errors.New("p2p: empty P2PInfo payload")
	ErrTruncatedInfo  = errors.New("p2p: truncated P2PInfo payload")
	ErrInvalidFamily  = errors.New("p2p: invalid address family byte")
	ErrInvalidAddress = errors.New("p2p: invalid address encoding")
)

const (
	familyIPv4 = 4
	familyIPv6 = 6

	presenceAbsent  = 0
	presencePresent = 1
)

// Encode serializes Info as:
// [p2p_enabled:1]
// [public: presence:1, if present: family:1, addr bytes, port:2 BE]
// [local:  presence:1, if present: family:1, addr bytes, port:2 BE]
func (info Info) Encode() []byte {
	out := make([]byte, 0, 1+1+19+1+19)
	out = append(out, boolByte(info.P2PEnabled))
	out = appendAddr(out, info.PublicAddr)
	out = appendAddr(out, info.LocalAddr)
	return out
}

func appendAddr(out []byte, addr *net.TCPAddr) []byte {
	if addr == nil {
		return append(out, presenceAbsent)
	}
	out = append(out, presencePresent)
	if v4 := addr.IP.To4(); v4 != nil {
		out = append(out, familyIPv4)
		out = append(out, v4...)
	} else {
		out = append(out, familyIPv6)
		out = append(out, addr.IP.To16()...)
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(addr.Port))
	return append(out, portBuf[:]...)
}

// Decode parses a P2PInfo payload. Unlike the ambiguous lookback the
// original transport used ("was the previous byte a 4?"), this decoder
// always consumes an explicit presence byte and, only when present, an
// explicit family byte before reading address bytes — see SPEC_FULL.md §9
// Open Question 2.
func Decode(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmptyInfo
	}
	pos := 0
	enabled := data[pos] != 0
	pos++

	public, n, err := decodeOptionalAddr(data[pos:])
	if err != nil {
		return Info{}, err
	}
	pos += n

	local, n, err := decodeOptionalAddr(data[pos:])
	if err != nil {
		return Info{}, err
	}
	pos += n

	return Info{P2PEnabled: enabled, PublicAddr: public, LocalAddr: local}, nil
}

// decodeOptionalAddr reads one presence byte and, if present, one address,
// returning the number of bytes consumed.
func decodeOptionalAddr(data []byte) (*net.TCPAddr, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncatedInfo
	}
	if data[0] == presenceAbsent {
		return nil, 1, nil
	}
	if data[0] != presencePresent {
		return nil, 0, ErrInvalidAddress
	}

	addr, consumed, err := decodeAddr(data[1:])
	if err != nil {
		return nil, 0, err
	}
	return addr, 1 + consumed, nil
}

func decodeAddr(data []byte) (*net.TCPAddr, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncatedInfo
	}
	switch data[0] {
	case familyIPv4:
		if len(data) < 1+4+2 {
			return nil, 0, ErrTruncatedInfo
		}
		ip := net.IP(append([]byte(nil), data[1:5]...))
		port := binary.BigEndian.Uint16(data[5:7])
		return &net.TCPAddr{IP: ip, Port: int(port)}, 1 + 4 + 2, nil
	case familyIPv6:
		if len(data) < 1+16+2 {
			return nil, 0, ErrTruncatedInfo
		}
		ip := net.IP(append([]byte(nil), data[1:17]...))
		port := binary.BigEndian.Uint16(data[17:19])
		return &net.TCPAddr{IP: ip, Port: int(port)}, 1 + 16 + 2, nil
	default:
		return nil, 0, ErrInvalidFamily
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
