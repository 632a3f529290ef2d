package session

import "encoding/binary"

// EncodeMouseMove builds an Input(MOUSE_MOVE) payload: [0x01][x:i32 LE][y:i32 LE].
func EncodeMouseMove(x, y int32) []byte {
	out := make([]byte, 9)
	out[0] = InputMouseMove
	binary.LittleEndian.PutUint32(out[1:5], uint32(x))
	binary.LittleEndian.PutUint32(out[5:9], uint32(y))
	return out
}

// EncodeMouseButton builds an Input(MOUSE_BUTTON) payload:
// [0x02][button:u8][pressed:u8][x:i32 LE][y:i32 LE].
func EncodeMouseButton(button MouseButton, pressed bool, x, y int32) []byte {
	out := make([]byte, 11)
	out[0] = InputMouseButton
	out[1] = button
	out[2] = boolByte(pressed)
	binary.LittleEndian.PutUint32(out[3:7], uint32(x))
	binary.LittleEndian.PutUint32(out[7:11], uint32(y))
	return out
}

// EncodeMouseScroll builds an Input(MOUSE_SCROLL) payload: [0x03][dx:i32 LE][dy:i32 LE].
func EncodeMouseScroll(dx, dy int32) []byte {
	out := make([]byte, 9)
	out[0] = InputMouseScroll
	binary.LittleEndian.PutUint32(out[1:5], uint32(dx))
	binary.LittleEndian.PutUint32(out[5:9], uint32(dy))
	return out
}

// EncodeKeyEvent builds an Input(KEY_DOWN/KEY_UP) payload:
// [0x04 or 0x05][key:u16 LE][0x00].
func EncodeKeyEvent(keyCode uint16, pressed bool) []byte {
	out := make([]byte, 4)
	if pressed {
		out[0] = InputKeyDown
	} else {
		out[0] = InputKeyUp
	}
	binary.LittleEndian.PutUint16(out[1:3], keyCode)
	out[3] = 0
	return out
}

func decodeMouseMove(payload []byte) (x, y int32, ok bool) {
	if len(payload) < 9 {
		return 0, 0, false
	}
	return int32(binary.LittleEndian.Uint32(payload[1:5])), int32(binary.LittleEndian.Uint32(payload[5:9])), true
}

func decodeMouseButton(payload []byte) (button MouseButton, pressed bool, x, y int32, ok bool) {
	if len(payload) < 11 {
		return 0, false, 0, 0, false
	}
	return payload[1], payload[2] != 0,
		int32(binary.LittleEndian.Uint32(payload[3:7])),
		int32(binary.LittleEndian.Uint32(payload[7:11])), true
}

func decodeMouseScroll(payload []byte) (dx, dy int32, ok bool) {
	if len(payload) < 9 {
		return 0, 0, false
	}
	return int32(binary.LittleEndian.Uint32(payload[1:5])), int32(binary.LittleEndian.Uint32(payload[5:9])), true
}

func decodeKeyEvent(payload []byte) (keyCode uint16, pressed bool, ok bool) {
	if len(payload) < 3 {
		return 0, false, false
	}
	return binary.LittleEndian.Uint16(payload[1:3]), payload[0] == InputKeyDown, true
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
