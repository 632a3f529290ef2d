// Package frame implements the multiplexed frame protocol shared by the
// relay and P2P transports: a one-byte channel tag followed by a
// 3-byte big-endian length and the payload.
package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
)

// Channel identifies which logical stream a frame belongs to.
type Channel uint8

const (
	ChannelControl   Channel = 0
	ChannelVideo     Channel = 1
	ChannelInput     Channel = 2
	ChannelClipboard Channel = 3
	ChannelFile      Channel = 4 // reserved: no payload dispatch is implemented
	ChannelPrivacy   Channel = 5
)

func (c Channel) String() string {
	switch c {
	case ChannelControl:
		return "control"
	case ChannelVideo:
		return "video"
	case ChannelInput:
		return "input"
	case ChannelClipboard:
		return "clipboard"
	case ChannelFile:
		return "file"
	case ChannelPrivacy:
		return "privacy"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Valid reports whether c is one of the defined channels.
func (c Channel) Valid() bool {
	return c <= ChannelPrivacy
}

// MaxPayloadSize is the largest payload a frame may carry — the 3-byte
// length field's natural ceiling, stated explicitly as an invariant.
const MaxPayloadSize = 1<<24 - 1

const headerSize = 4

var (
	ErrInvalidChannel   = errors.New("frame: invalid channel")
	ErrPayloadTooLarge  = errors.New("frame: payload exceeds maximum size")
	ErrTruncatedHeader  = errors.New("frame: truncated header")
	ErrTruncatedPayload = errors.New("frame: truncated payload")
)

// Frame is one unit of the multiplexed protocol.
type Frame struct {
	Channel Channel
	Payload []byte
}

// New constructs a Frame, validating the channel and payload size.
func New(channel Channel, payload []byte) (Frame, error) {
	if !channel.Valid() {
		return Frame{}, ErrInvalidChannel
	}
	if len(payload) > MaxPayloadSize {
		return Frame{}, ErrPayloadTooLarge
	}
	return Frame{Channel: channel, Payload: payload}, nil
}

// WriteTo serializes the frame onto w as [channel:1][length:3 BE][payload],
// using a pooled buffer to stage the header+payload in a single write.
func WriteTo(w io.Writer, f Frame) error {
	if !f.Channel.Valid() {
		return ErrInvalidChannel
	}
	if len(f.Payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var header [headerSize]byte
	header[0] = byte(f.Channel)
	putUint24(header[1:4], len(f.Payload))

	buf.Write(header[:])
	buf.Write(f.Payload)

	_, err := w.Write(buf.B)
	return err
}

// ReadFrom reads and validates one frame from r.
func ReadFrom(r io.Reader) (Frame, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrTruncatedHeader
		}
		return Frame{}, err
	}

	channel := Channel(header[0])
	if !channel.Valid() {
		return Frame{}, ErrInvalidChannel
	}
	length := getUint24(header[1:4])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return Frame{}, ErrTruncatedPayload
			}
			return Frame{}, err
		}
	}

	return Frame{Channel: channel, Payload: payload}, nil
}

func putUint24(b []byte, v int) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getUint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}
