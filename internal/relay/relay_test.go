package relay

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/securedesk/core/internal/frame"
	"github.com/securedesk/core/internal/identity"
)

// selfSignedTestCert generates a short-lived self-signed development
// certificate for "localhost", scoped down to what these tests need.
func selfSignedTestCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("generate serial: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "securedesk-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	if err != nil {
		t.Fatalf("x509 key pair: %v", err)
	}
	return cert
}

// listenTLS starts a one-shot TLS listener on loopback and returns its
// address plus a channel that yields the single accepted connection.
func listenTLS(t *testing.T, cert tls.Certificate) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			ch <- conn
		}
		ln.Close()
	}()
	return ln.Addr().String(), ch
}

func clientTLSConfig(cert tls.Certificate) *tls.Config {
	pool := x509.NewCertPool()
	x509Cert, _ := x509.ParseCertificate(cert.Certificate[0])
	pool.AddCert(x509Cert)
	return &tls.Config{RootCAs: pool, ServerName: "localhost"}
}

func TestRegisterHostAndAck(t *testing.T) {
	cert := selfSignedTestCert(t)
	addr, accepted := listenTLS(t, cert)
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		conn := <-accepted
		defer conn.Close()
		role, myID, extra, err := ReadRegistration(conn)
		if err != nil {
			serverDone <- err
			return
		}
		if role != roleHost {
			serverDone <- errNotEqual("role", roleHost, role)
			return
		}
		if myID != id.DeviceIDRaw() {
			serverDone <- errNotEqual("myID", id.DeviceIDRaw(), myID)
			return
		}
		if extra != "" {
			serverDone <- errNotEqual("extra", "", extra)
			return
		}
		if err := WriteSuccessAck(conn); err != nil {
			serverDone <- err
			return
		}
		key, err := ReadHostStaticKey(conn)
		if err != nil {
			serverDone <- err
			return
		}
		if len(key) != 32 {
			serverDone <- errNotEqual("static key length", 32, len(key))
			return
		}
		if string(key) != string(id.X25519PublicKey()) {
			serverDone <- errNotEqual("static key", id.X25519PublicKey(), key)
			return
		}
		serverDone <- nil
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := RegisterHost(ctx, addr, clientTLSConfig(cert), id)
	if err != nil {
		t.Fatalf("RegisterHost: %v", err)
	}
	defer conn.Close()

	if err := <-serverDone; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestRegisterClientReceivesHostStaticKey(t *testing.T) {
	cert := selfSignedTestCert(t)
	addr, accepted := listenTLS(t, cert)
	hostID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		conn := <-accepted
		defer conn.Close()
		role, myID, target, err := ReadRegistration(conn)
		if err != nil {
			serverDone <- err
			return
		}
		if role != roleClient {
			serverDone <- errNotEqual("role", roleClient, role)
			return
		}
		_ = myID
		_ = target
		serverDone <- WriteSuccessAckWithKey(conn, hostID.X25519PublicKey())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, staticKey, err := RegisterClient(ctx, addr, clientTLSConfig(cert), "111 222 333", "444 555 666")
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	defer conn.Close()

	if string(staticKey) != string(hostID.X25519PublicKey()) {
		t.Fatal("forwarded static key does not match host's")
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestRegisterClientSurfacesError(t *testing.T) {
	cert := selfSignedTestCert(t)
	addr, accepted := listenTLS(t, cert)

	go func() {
		conn := <-accepted
		defer conn.Close()
		if _, _, _, err := ReadRegistration(conn); err != nil {
			return
		}
		WriteErrorAck(conn, "device not found")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := RegisterClient(ctx, addr, clientTLSConfig(cert), "111 222 333", "000 000 000")
	if err == nil {
		t.Fatal("expected error for unregistered target device")
	}
}

func TestFrameExchangeAfterRegistration(t *testing.T) {
	cert := selfSignedTestCert(t)
	addr, accepted := listenTLS(t, cert)
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	go func() {
		conn := <-accepted
		defer conn.Close()
		if _, _, _, err := ReadRegistration(conn); err != nil {
			return
		}
		WriteSuccessAck(conn)
		if _, err := ReadHostStaticKey(conn); err != nil {
			return
		}
		f, err := frame.ReadFrom(conn)
		if err != nil {
			return
		}
		frame.WriteTo(conn, f) // echo
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := RegisterHost(ctx, addr, clientTLSConfig(cert), id)
	if err != nil {
		t.Fatalf("RegisterHost: %v", err)
	}
	defer conn.Close()

	sent, _ := frame.New(frame.ChannelControl, []byte("ping"))
	if err := frame.WriteTo(conn, sent); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	got, err := frame.ReadFrom(conn)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if string(got.Payload) != "ping" {
		t.Fatalf("echo mismatch: got %q", got.Payload)
	}
}

func errNotEqual(field string, want, got any) error {
	return &fieldMismatchError{field, want, got}
}

type fieldMismatchError struct {
	field     string
	want, got any
}

func (e *fieldMismatchError) Error() string {
	return e.field + " mismatch"
}
