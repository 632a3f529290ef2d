package p2p

import (
	"net"
	"testing"
)

func TestInfoRoundTripBothAddressesAbsent(t *testing.T) {
	original := Info{P2PEnabled: false}
	decoded, err := Decode(original.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.P2PEnabled != false || decoded.PublicAddr != nil || decoded.LocalAddr != nil {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestInfoRoundTripIPv4Both(t *testing.T) {
	original := Info{
		P2PEnabled: true,
		PublicAddr: &net.TCPAddr{IP: net.ParseIP("203.0.113.5").To4(), Port: 51234},
		LocalAddr:  &net.TCPAddr{IP: net.ParseIP("192.168.1.42").To4(), Port: 51234},
	}
	decoded, err := Decode(original.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.PublicAddr.IP.Equal(original.PublicAddr.IP) || decoded.PublicAddr.Port != original.PublicAddr.Port {
		t.Fatalf("public addr mismatch: got %+v want %+v", decoded.PublicAddr, original.PublicAddr)
	}
	if !decoded.LocalAddr.IP.Equal(original.LocalAddr.IP) || decoded.LocalAddr.Port != original.LocalAddr.Port {
		t.Fatalf("local addr mismatch: got %+v want %+v", decoded.LocalAddr, original.LocalAddr)
	}
}

func TestInfoRoundTripOnlyPublicPresent(t *testing.T) {
	original := Info{
		P2PEnabled: true,
		PublicAddr: &net.TCPAddr{IP: net.ParseIP("203.0.113.5").To4(), Port: 40000},
		LocalAddr:  nil,
	}
	decoded, err := Decode(original.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.LocalAddr != nil {
		t.Fatalf("expected nil local addr, got %+v", decoded.LocalAddr)
	}
	if decoded.PublicAddr == nil || decoded.PublicAddr.Port != 40000 {
		t.Fatalf("public addr not decoded correctly: %+v", decoded.PublicAddr)
	}
}

func TestInfoRoundTripIPv6(t *testing.T) {
	original := Info{
		P2PEnabled: true,
		PublicAddr: &net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 55555},
		LocalAddr:  &net.TCPAddr{IP: net.ParseIP("fe80::1"), Port: 55555},
	}
	decoded, err := Decode(original.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.PublicAddr.IP.Equal(original.PublicAddr.IP) {
		t.Fatalf("IPv6 public addr mismatch: got %v want %v", decoded.PublicAddr.IP, original.PublicAddr.IP)
	}
	if !decoded.LocalAddr.IP.Equal(original.LocalAddr.IP) {
		t.Fatalf("IPv6 local addr mismatch: got %v want %v", decoded.LocalAddr.IP, original.LocalAddr.IP)
	}
}

// TestDecodeMixedFamiliesNoLookback builds a payload where a naive
// decoder that infers address family from "was the previous byte 0x04"
// (instead of reading an explicit family byte) would misparse the second
// address. A mixed IPv6-then-IPv4 payload exercises exactly the byte
// pattern that heuristic gets wrong.
func TestDecodeMixedFamiliesNoLookback(t *testing.T) {
	original := Info{
		P2PEnabled: true,
		PublicAddr: &net.TCPAddr{IP: net.ParseIP("2001:db8::5"), Port: 1111}, // IPv6
		LocalAddr:  &net.TCPAddr{IP: net.ParseIP("10.0.0.5").To4(), Port: 2222},      // IPv4
	}
	decoded, err := Decode(original.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.PublicAddr.Port != 1111 || decoded.LocalAddr.Port != 2222 {
		t.Fatalf("mixed-family decode misaligned: public=%+v local=%+v", decoded.PublicAddr, decoded.LocalAddr)
	}
	if !decoded.LocalAddr.IP.Equal(net.ParseIP("10.0.0.5")) {
		t.Fatalf("local addr decoded incorrectly: %v", decoded.LocalAddr.IP)
	}
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	if _, err := Decode(nil); err != ErrEmptyInfo {
		t.Fatalf("Decode(nil): got %v want ErrEmptyInfo", err)
	}
}

func TestDecodeRejectsTruncatedAddress(t *testing.T) {
	// enabled=1, public present+ipv4 family but only 2 address bytes follow
	payload := []byte{1, 1, familyIPv4, 10, 0}
	if _, err := Decode(payload); err != ErrTruncatedInfo {
		t.Fatalf("Decode truncated: got %v want ErrTruncatedInfo", err)
	}
}
