// Package clipboard implements the clipboard payload codec and change
// tracking used by the clipboard channel's DATA and CHANGED messages.
package clipboard

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MaxSize is the declared upper bound for a single clipboard payload.
// Encode and Decode do not check it.
const MaxSize = 10 * 1024 * 1024

const (
	dataTypeText  = 0x01
	dataTypeImage = 0x02
	dataTypeFiles = 0x03
)

var (
	ErrEmptyPayload     = errors.New("clipboard: empty payload")
	ErrTruncatedPayload = errors.New("clipboard: truncated payload")
	ErrUnknownDataType  = errors.New("clipboard: unknown data type")
)

// Data is the sum type carried by the clipboard DATA message.
type Data struct {
	kind   byte
	Text   string
	Width  uint32
	Height uint32
	Image  []byte
	Files  []string
}

func Text(s string) Data                        { return Data{kind: dataTypeText, Text: s} }
func Image(width, height uint32, png []byte) Data { return Data{kind: dataTypeImage, Width: width, Height: height, Image: png} }
func Files(paths []string) Data                  { return Data{kind: dataTypeFiles, Files: paths} }

// TypeName reports the clipboard content kind for display/logging.
func (d Data) TypeName() string {
	switch d.kind {
	case dataTypeText:
		return "text"
	case dataTypeImage:
		return "image"
	case dataTypeFiles:
		return "files"
	default:
		return "unknown"
	}
}

// Encode serializes d as [type:1][...fields, little-endian], matching the
// wire format every peer's clipboard channel expects.
func (d Data) Encode() []byte {
	switch d.kind {
	case dataTypeText:
		text := []byte(d.Text)
		out := make([]byte, 0, 5+len(text))
		out = append(out, dataTypeText)
		out = appendUint32LE(out, uint32(len(text)))
		return append(out, text...)
	case dataTypeImage:
		out := make([]byte, 0, 13+len(d.Image))
		out = append(out, dataTypeImage)
		out = appendUint32LE(out, d.Width)
		out = appendUint32LE(out, d.Height)
		out = appendUint32LE(out, uint32(len(d.Image)))
		return append(out, d.Image...)
	case dataTypeFiles:
		joined := []byte(strings.Join(d.Files, "\n"))
		out := make([]byte, 0, 5+len(joined))
		out = append(out, dataTypeFiles)
		out = appendUint32LE(out, uint32(len(joined)))
		return append(out, joined...)
	default:
		return nil
	}
}

// Decode parses a clipboard DATA payload.
func Decode(payload []byte) (Data, error) {
	if len(payload) == 0 {
		return Data{}, ErrEmptyPayload
	}
	kind := payload[0]
	body := payload[1:]

	switch kind {
	case dataTypeText:
		n, rest, err := readUint32LE(body)
		if err != nil {
			return Data{}, err
		}
		if len(rest) < int(n) {
			return Data{}, ErrTruncatedPayload
		}
		return Text(string(rest[:n])), nil

	case dataTypeImage:
		if len(body) < 12 {
			return Data{}, ErrTruncatedPayload
		}
		width := binary.LittleEndian.Uint32(body[0:4])
		height := binary.LittleEndian.Uint32(body[4:8])
		n := binary.LittleEndian.Uint32(body[8:12])
		rest := body[12:]
		if uint32(len(rest)) < n {
			return Data{}, ErrTruncatedPayload
		}
		img := append([]byte(nil), rest[:n]...)
		return Image(width, height, img), nil

	case dataTypeFiles:
		n, rest, err := readUint32LE(body)
		if err != nil {
			return Data{}, err
		}
		if len(rest) < int(n) {
			return Data{}, ErrTruncatedPayload
		}
		joined := string(rest[:n])
		var paths []string
		if joined != "" {
			paths = strings.Split(joined, "\n")
		}
		return Files(paths), nil

	default:
		return Data{}, fmt.Errorf("%w: 0x%02x", ErrUnknownDataType, kind)
	}
}

func appendUint32LE(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func readUint32LE(body []byte) (uint32, []byte, error) {
	if len(body) < 4 {
		return 0, nil, ErrTruncatedPayload
	}
	return binary.LittleEndian.Uint32(body[:4]), body[4:], nil
}

// ErrNotImplemented is returned by the stub Backend for any platform that
// has not wired in a real clipboard integration.
var ErrNotImplemented = errors.New("clipboard: no platform backend registered")

// Backend is the narrow OS-clipboard seam the host session drives on
// CLIPBOARD_REQUEST (Get) and CLIPBOARD_DATA (Set), matching
// internal/capture.Source and internal/inject.Sink's narrow-interface
// pattern. Platform clipboard access (the Win32 clipboard API, X11
// selections, etc.) is outside this repository's scope; this package only
// describes the contract and ships a stub for headless operation and
// tests.
type Backend interface {
	Get() (Data, error)
	Set(Data) error
}

// Stub is a no-backend Backend used for headless hosts and tests.
type Stub struct{}

// NewStub returns a Stub backend.
func NewStub() *Stub { return &Stub{} }

func (s *Stub) Get() (Data, error) { return Data{}, ErrNotImplemented }
func (s *Stub) Set(Data) error     { return ErrNotImplemented }

// Manager tracks the last-known clipboard content's fingerprint so a host
// or client can suppress redundant CHANGED notifications. Manager only
// tracks content identity; reading/writing the OS clipboard itself goes
// through Backend.
type Manager struct {
	mu          sync.Mutex
	lastHash    [sha256.Size]byte
	hasLastHash bool
}

// NewManager returns a Manager with no prior content recorded.
func NewManager() *Manager { return &Manager{} }

func fingerprint(d Data) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte{d.kind})
	switch d.kind {
	case dataTypeText:
		h.Write([]byte(d.Text))
	case dataTypeImage:
		var dims [8]byte
		binary.LittleEndian.PutUint32(dims[0:4], d.Width)
		binary.LittleEndian.PutUint32(dims[4:8], d.Height)
		h.Write(dims[:])
		h.Write(d.Image)
	case dataTypeFiles:
		h.Write([]byte(strings.Join(d.Files, "\n")))
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Changed reports whether d differs from the last content recorded via
// Update, treating an empty history as "changed".
func (m *Manager) Changed(d Data) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasLastHash {
		return true
	}
	return fingerprint(d) != m.lastHash
}

// Update records d as the current known clipboard content.
func (m *Manager) Update(d Data) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHash = fingerprint(d)
	m.hasLastHash = true
}
