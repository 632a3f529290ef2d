// Package identity manages the local device's cryptographic identity: a
// long-term Ed25519 signing key, used to sign the X25519 static public key in
// the Noise handshake's identity payload, and an X25519 static key used as
// the Noise static keypair.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/curve25519"
	"lukechampine.com/blake3"
)

const fileSize = ed25519.SeedSize + curve25519.ScalarSize // 32 + 32

var (
	ErrCorruptIdentity = errors.New("identity: corrupt identity file")
)

// Identity is a device's long-term keypair. The private keys are never
// transmitted; only the derived device ID and the public keys are shared
// (the X25519 public key at relay registration, the Ed25519 public key in
// the Noise handshake's identity payload).
type Identity struct {
	edPriv ed25519.PrivateKey
	edPub  ed25519.PublicKey

	x25519Priv [curve25519.ScalarSize]byte
	x25519Pub  [curve25519.PointSize]byte

	deviceID string
}

// Generate creates a fresh random identity.
func Generate() (*Identity, error) {
	var scalar [curve25519.ScalarSize]byte
	if _, err := rand.Read(scalar[:]); err != nil {
		return nil, fmt.Errorf("identity: generate x25519 scalar: %w", err)
	}
	return fromScalarAndSeed(scalar, nil)
}

// LoadOrCreate loads the identity from path, generating and persisting a new
// one if the file does not exist.
func LoadOrCreate(path string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: stat %s: %w", path, err)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	log.Info().Str("device_id", id.DeviceID()).Msg("[identity] generated new identity")
	return id, nil
}

// Load reads the 64-byte identity file: [32B X25519 scalar][32B Ed25519 seed].
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	if len(data) != fileSize {
		return nil, ErrCorruptIdentity
	}

	var scalar [curve25519.ScalarSize]byte
	copy(scalar[:], data[:curve25519.ScalarSize])
	seed := data[curve25519.ScalarSize:]

	return fromScalarAndSeed(scalar, seed)
}

func fromScalarAndSeed(scalar [curve25519.ScalarSize]byte, seed []byte) (*Identity, error) {
	var pub [curve25519.PointSize]byte
	p, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: derive x25519 public key: %w", err)
	}
	copy(pub[:], p)

	var edPriv ed25519.PrivateKey
	if seed == nil {
		edPriv = ed25519.NewKeyFromSeed(edSeed())
	} else {
		edPriv = ed25519.NewKeyFromSeed(seed)
	}
	edPub := edPriv.Public().(ed25519.PublicKey)

	id := &Identity{
		edPriv:     edPriv,
		edPub:      edPub,
		x25519Priv: scalar,
		x25519Pub:  pub,
	}
	id.deviceID = DeriveDeviceID(pub[:], edPub)
	return id, nil
}

func edSeed() []byte {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return seed
}

// Save atomically persists the identity to path.
func (id *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("identity: mkdir %s: %w", filepath.Dir(path), err)
	}

	data := make([]byte, 0, fileSize)
	data = append(data, id.x25519Priv[:]...)
	data = append(data, id.edPriv.Seed()...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("identity: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("identity: rename %s: %w", tmp, err)
	}
	return nil
}

// DefaultPath returns the platform-conventional identity file location.
func DefaultPath() string {
	if appdata := os.Getenv("LOCALAPPDATA"); appdata != "" {
		return filepath.Join(appdata, "SecureDesk", "identity.key")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "SecureDesk", "identity.key")
}

// DeriveDeviceID computes the 9-digit decimal device ID:
// BLAKE3(x25519Pub || ed25519Pub), first 8 bytes interpreted little-endian,
// reduced mod 1e9.
func DeriveDeviceID(x25519Pub, ed25519Pub []byte) string {
	h := blake3.New(32, nil)
	h.Write(x25519Pub)
	h.Write(ed25519Pub)
	sum := h.Sum(nil)

	num := uint64(sum[0]) | uint64(sum[1])<<8 | uint64(sum[2])<<16 | uint64(sum[3])<<24 |
		uint64(sum[4])<<32 | uint64(sum[5])<<40 | uint64(sum[6])<<48 | uint64(sum[7])<<56
	num %= 1_000_000_000

	return fmt.Sprintf("%03d %03d %03d", num/1_000_000, (num/1_000)%1_000, num%1_000)
}

// DeviceID returns the formatted "XXX XXX XXX" device identifier.
func (id *Identity) DeviceID() string { return id.deviceID }

// DeviceIDRaw returns the device identifier without spaces.
func (id *Identity) DeviceIDRaw() string {
	raw := make([]byte, 0, 9)
	for _, c := range id.deviceID {
		if c != ' ' {
			raw = append(raw, byte(c))
		}
	}
	return string(raw)
}

// Ed25519PublicKey returns the public signing key.
func (id *Identity) Ed25519PublicKey() ed25519.PublicKey { return id.edPub }

// Sign signs msg with the Ed25519 private key.
func (id *Identity) Sign(msg []byte) []byte { return ed25519.Sign(id.edPriv, msg) }

// X25519PublicKey returns the 32-byte Noise static public key.
func (id *Identity) X25519PublicKey() []byte {
	out := make([]byte, curve25519.PointSize)
	copy(out, id.x25519Pub[:])
	return out
}

// X25519PrivateKey returns the 32-byte Noise static private scalar.
func (id *Identity) X25519PrivateKey() []byte {
	out := make([]byte, curve25519.ScalarSize)
	copy(out, id.x25519Priv[:])
	return out
}
