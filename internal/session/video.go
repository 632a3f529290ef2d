package session

import "encoding/binary"

const videoHeaderSize = 1 + 2 + 2 + 8

// EncodeVideoFrame builds a Video-channel payload:
// [keyframe=0x01][width:u16 LE][height:u16 LE][timestamp:u64 LE = 0][jpeg].
func EncodeVideoFrame(width, height uint16, jpeg []byte) []byte {
	out := make([]byte, 0, videoHeaderSize+len(jpeg))
	out = append(out, 0x01)
	var u16buf [2]byte
	binary.LittleEndian.PutUint16(u16buf[:], width)
	out = append(out, u16buf[:]...)
	binary.LittleEndian.PutUint16(u16buf[:], height)
	out = append(out, u16buf[:]...)
	var u64buf [8]byte
	binary.LittleEndian.PutUint64(u64buf[:], 0)
	out = append(out, u64buf[:]...)
	return append(out, jpeg...)
}

// DecodeVideoFrame parses a Video-channel payload, returning ok=false if
// the payload is under-length for the fixed header.
func DecodeVideoFrame(payload []byte) (width, height uint16, jpeg []byte, ok bool) {
	if len(payload) < videoHeaderSize {
		return 0, 0, nil, false
	}
	width = binary.LittleEndian.Uint16(payload[1:3])
	height = binary.LittleEndian.Uint16(payload[3:5])
	jpeg = payload[videoHeaderSize:]
	return width, height, jpeg, true
}

// videoFrameRequest is the single-byte payload a client sends on the Video
// channel to request a fresh frame.
var videoFrameRequest = []byte{0x03}
