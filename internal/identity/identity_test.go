package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateProducesWellFormedDeviceID(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	did := id.DeviceID()
	if len(did) != 11 {
		t.Fatalf("device id %q: want length 11 (XXX XXX XXX), got %d", did, len(did))
	}
	if did[3] != ' ' || did[7] != ' ' {
		t.Fatalf("device id %q: expected spaces at positions 3 and 7", did)
	}

	raw := id.DeviceIDRaw()
	if len(raw) != 9 {
		t.Fatalf("raw device id %q: want length 9, got %d", raw, len(raw))
	}
}

func TestDeviceIDIsDeterministic(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	got := DeriveDeviceID(id.X25519PublicKey(), id.Ed25519PublicKey())
	if got != id.DeviceID() {
		t.Fatalf("deriveDeviceID is not stable across calls: %q vs %q", got, id.DeviceID())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	original, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := original.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.DeviceID() != original.DeviceID() {
		t.Fatalf("device id mismatch after reload: %q vs %q", loaded.DeviceID(), original.DeviceID())
	}
	if !bytes.Equal(loaded.X25519PublicKey(), original.X25519PublicKey()) {
		t.Fatalf("x25519 public key mismatch after reload")
	}
	if !bytes.Equal(loaded.Ed25519PublicKey(), original.Ed25519PublicKey()) {
		t.Fatalf("ed25519 public key mismatch after reload")
	}
}

func TestLoadOrCreateCreatesThenReuses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	first, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate (create): %v", err)
	}

	second, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate (reuse): %v", err)
	}

	if first.DeviceID() != second.DeviceID() {
		t.Fatalf("LoadOrCreate regenerated identity instead of reusing the saved one")
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")
	// deliberately short file
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a truncated identity file")
	}
}
