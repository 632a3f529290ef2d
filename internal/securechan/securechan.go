// Package securechan implements the Noise_XK_25519_ChaChaPoly_BLAKE2s
// handshake and the encrypted channel built from it. The client is always
// the Noise initiator; the host is always the responder. XK requires the
// initiator to already know the responder's static public key before the
// handshake starts — internal/relay forwards it during registration (see
// SPEC_FULL.md §4.3.1) precisely so this precondition holds.
package securechan

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/valyala/bytebufferpool"

	"github.com/securedesk/core/internal/identity"
)

var (
	ErrHandshakeFailed  = errors.New("securechan: handshake failed")
	ErrInvalidIdentity  = errors.New("securechan: invalid identity payload")
	ErrInvalidSignature = errors.New("securechan: invalid identity signature")
	ErrDecryptionFailed = errors.New("securechan: decryption failed")
	ErrEncryptionFailed = errors.New("securechan: encryption failed")
)

const (
	noiseTagSize  = 16
	maxPacketSize = 4 + (1<<24 - 1) + noiseTagSize // frame header + frame.MaxPayloadSize + AEAD tag

	noisePrologue = "securedesk/noise/xk/1"

	// identityPayloadSize: [32B Ed25519 public key][64B signature over the
	// sender's X25519 static public key].
	identityPayloadSize = ed25519.PublicKeySize + ed25519.SignatureSize
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

var _lengthBufferPool = sync.Pool{
	New: func() any { return new([4]byte) },
}

var _secureMemoryPool bytebufferpool.Pool

func wipeMemory(b []byte) {
	b = b[:cap(b)]
	for i := range b {
		b[i] = 0
	}
}

func acquireBuffer(n int) *bytebufferpool.ByteBuffer {
	buf := _secureMemoryPool.Get()
	if cap(buf.B) < n {
		wipeMemory(buf.B)
		buf.B = make([]byte, 0, (n+16383)&^16383)
	}
	buf.B = buf.B[:0]
	return buf
}

func releaseBuffer(buf *bytebufferpool.ByteBuffer) {
	wipeMemory(buf.B)
	_secureMemoryPool.Put(buf)
}

// Channel is an authenticated, encrypted connection established over an
// arbitrary io.ReadWriteCloser (a relay or P2P transport's raw socket).
type Channel struct {
	conn io.ReadWriteCloser

	localDeviceID  string
	remoteDeviceID string

	encryptor *noise.CipherState
	decryptor *noise.CipherState

	writeMu    sync.Mutex
	readBuffer *bytebufferpool.ByteBuffer

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// LocalDeviceID returns the local side's device ID.
func (c *Channel) LocalDeviceID() string { return c.localDeviceID }

// RemoteDeviceID returns the device ID the remote side proved during the
// handshake, or "" when the remote side did not send an identity payload
// (the responder/host side, whose identity is authenticated implicitly by
// the XK pattern rather than by an explicit signed payload).
func (c *Channel) RemoteDeviceID() string { return c.remoteDeviceID }

func (c *Channel) SetDeadline(t time.Time) error {
	if nc, ok := c.conn.(interface{ SetDeadline(time.Time) error }); ok {
		return nc.SetDeadline(t)
	}
	return nil
}

// Write encrypts and writes p as a single Noise transport message, prefixed
// with its 4-byte big-endian ciphertext length.
func (c *Channel) Write(p []byte) (int, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return 0, net.ErrClosed
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cipherSize := len(p) + noiseTagSize
	buf := acquireBuffer(4 + cipherSize)
	defer releaseBuffer(buf)

	buf.B = buf.B[:4]
	binary.BigEndian.PutUint32(buf.B[:4], uint32(cipherSize))

	var err error
	buf.B, err = c.encryptor.Encrypt(buf.B, nil, p)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}

	if _, err := c.conn.Write(buf.B); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read decrypts the next Noise transport message into p, buffering any
// excess decrypted bytes for the next call.
func (c *Channel) Read(p []byte) (int, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return 0, net.ErrClosed
	}
	if c.readBuffer != nil && len(c.readBuffer.B) > 0 {
		n := copy(p, c.readBuffer.B)
		remaining := len(c.readBuffer.B) - n
		copy(c.readBuffer.B, c.readBuffer.B[n:])
		c.readBuffer.B = c.readBuffer.B[:remaining]
		c.mu.RUnlock()
		return n, nil
	}
	c.mu.RUnlock()

	lengthBuf := _lengthBufferPool.Get().(*[4]byte)
	_, err := io.ReadFull(c.conn, lengthBuf[:])
	if err != nil {
		_lengthBufferPool.Put(lengthBuf)
		return 0, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	_lengthBufferPool.Put(lengthBuf)

	if length > maxPacketSize || length < noiseTagSize {
		return 0, ErrDecryptionFailed
	}

	msgBuf := acquireBuffer(int(length))
	msgBuf.B = msgBuf.B[:length]
	defer releaseBuffer(msgBuf)
	if _, err := io.ReadFull(c.conn, msgBuf.B); err != nil {
		return 0, err
	}

	decrypted, err := c.decryptor.Decrypt(msgBuf.B[:0], nil, msgBuf.B)
	if err != nil {
		return 0, ErrDecryptionFailed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}

	n := copy(p, decrypted)
	if n < len(decrypted) {
		if c.readBuffer == nil {
			c.readBuffer = acquireBuffer(len(decrypted) - n)
		}
		c.readBuffer.B = append(c.readBuffer.B, decrypted[n:]...)
	}
	return n, nil
}

// Rebind swaps the underlying transport while keeping the established
// cipher states, closing the previous transport. This lets a session
// upgrade from the relay connection to a direct P2P connection (or fall
// back again) without re-running the Noise handshake — the nonce
// sequence continues across the swap since encryptor/decryptor are
// untouched, only the outer io.ReadWriteCloser changes.
func (c *Channel) Rebind(conn io.ReadWriteCloser) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return net.ErrClosed
	}
	old := c.conn
	c.conn = conn
	if c.readBuffer != nil {
		releaseBuffer(c.readBuffer)
		c.readBuffer = nil
	}
	return old.Close()
}

// Close closes the underlying connection; safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.readBuffer != nil {
			releaseBuffer(c.readBuffer)
			c.readBuffer = nil
		}
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func withContextDeadline(ctx context.Context, conn io.ReadWriteCloser) (restore func()) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return func() {}
	}
	nc, ok := conn.(interface{ SetDeadline(time.Time) error })
	if !ok {
		return func() {}
	}
	nc.SetDeadline(deadline)
	return func() { nc.SetDeadline(time.Time{}) }
}

// ClientHandshake performs the initiator side of Noise XK, given the
// responder's (host's) X25519 static public key learned during relay
// registration.
//
//	Message 1 (client → host): e, es
//	Message 2 (host → client): e, ee
//	Message 3 (client → host): s, se + client identity payload
func ClientHandshake(ctx context.Context, conn io.ReadWriteCloser, id *identity.Identity, remoteStatic []byte) (*Channel, error) {
	restore := withContextDeadline(ctx, conn)
	defer restore()

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeXK,
		Initiator:   true,
		StaticKeypair: noise.DHKey{
			Private: id.X25519PrivateKey(),
			Public:  id.X25519PublicKey(),
		},
		PeerStatic: remoteStatic,
		Prologue:   []byte(noisePrologue),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init: %w", ErrHandshakeFailed, err)
	}

	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: write msg1: %w", ErrHandshakeFailed, err)
	}
	if err := writeLengthPrefixed(conn, msg1); err != nil {
		return nil, fmt.Errorf("%w: send msg1: %w", ErrHandshakeFailed, err)
	}

	msg2, err := readLengthPrefixed(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: recv msg2: %w", ErrHandshakeFailed, err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg2); err != nil {
		return nil, fmt.Errorf("%w: read msg2: %w", ErrHandshakeFailed, err)
	}

	payload := makeIdentityPayload(id)
	msg3, cs1, cs2, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: write msg3: %w", ErrHandshakeFailed, err)
	}
	if err := writeLengthPrefixed(conn, msg3); err != nil {
		return nil, fmt.Errorf("%w: send msg3: %w", ErrHandshakeFailed, err)
	}

	return newChannel(conn, id.DeviceID(), "", cs1, cs2), nil
}

// HostHandshake performs the responder side of Noise XK.
func HostHandshake(ctx context.Context, conn io.ReadWriteCloser, id *identity.Identity) (*Channel, error) {
	restore := withContextDeadline(ctx, conn)
	defer restore()

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeXK,
		Initiator:   false,
		StaticKeypair: noise.DHKey{
			Private: id.X25519PrivateKey(),
			Public:  id.X25519PublicKey(),
		},
		Prologue: []byte(noisePrologue),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init: %w", ErrHandshakeFailed, err)
	}

	msg1, err := readLengthPrefixed(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: recv msg1: %w", ErrHandshakeFailed, err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
		return nil, fmt.Errorf("%w: read msg1: %w", ErrHandshakeFailed, err)
	}

	msg2, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: write msg2: %w", ErrHandshakeFailed, err)
	}
	if err := writeLengthPrefixed(conn, msg2); err != nil {
		return nil, fmt.Errorf("%w: send msg2: %w", ErrHandshakeFailed, err)
	}

	msg3, err := readLengthPrefixed(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: recv msg3: %w", ErrHandshakeFailed, err)
	}
	payload, cs1, cs2, err := hs.ReadMessage(nil, msg3)
	if err != nil {
		return nil, fmt.Errorf("%w: read msg3: %w", ErrHandshakeFailed, err)
	}

	remoteDeviceID, err := verifyIdentityPayload(payload, hs.PeerStatic())
	if err != nil {
		conn.Close()
		return nil, err
	}

	// cs1 = initiator(client)->responder(host), cs2 = responder(host)->initiator(client)
	return newChannel(conn, id.DeviceID(), remoteDeviceID, cs2, cs1), nil
}

func newChannel(conn io.ReadWriteCloser, localID, remoteID string, encryptor, decryptor *noise.CipherState) *Channel {
	return &Channel{
		conn:           conn,
		localDeviceID:  localID,
		remoteDeviceID: remoteID,
		encryptor:      encryptor,
		decryptor:      decryptor,
	}
}

func makeIdentityPayload(id *identity.Identity) []byte {
	payload := make([]byte, identityPayloadSize)
	copy(payload[:ed25519.PublicKeySize], id.Ed25519PublicKey())
	sig := id.Sign(id.X25519PublicKey())
	copy(payload[ed25519.PublicKeySize:], sig)
	return payload
}

func verifyIdentityPayload(payload, remoteX25519Pub []byte) (string, error) {
	if len(payload) != identityPayloadSize {
		return "", ErrInvalidIdentity
	}
	edPub := ed25519.PublicKey(payload[:ed25519.PublicKeySize])
	sig := payload[ed25519.PublicKeySize:]
	if !ed25519.Verify(edPub, remoteX25519Pub, sig) {
		return "", ErrInvalidSignature
	}
	return identity.DeriveDeviceID(remoteX25519Pub, edPub), nil
}

func writeLengthPrefixed(conn io.Writer, data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := conn.Write(header[:]); err != nil {
		return err
	}
	_, err := conn.Write(data)
	return err
}

func readLengthPrefixed(conn io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxPacketSize {
		return nil, ErrHandshakeFailed
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(conn, data); err != nil {
		return nil, err
	}
	return data, nil
}
