// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package command

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"
)

func startTestServer(t *testing.T, cfg ServerConfig) (*Server, func()) {
	t.Helper()
	reg := NewRegistry()
	RegisterDefaults(reg)
	ctx := &Context{
		Blocklist: &fakeBlocklist{blocked: []string{"9.9.9.9", "1.1.1.1"}},
		Registry:  reg,
		StartedAt: time.Now(),
		Version:   "test",
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	srv := NewServer(cfg, reg, ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(runCtx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never bound a listener")
		}
		time.Sleep(time.Millisecond)
	}

	return srv, func() {
		cancel()
		<-errCh
	}
}

// TestServer_PlaintextLoopbackDispatch exercises the real accept loop over
// TCP. The remote address is loopback, so the server serves plaintext even
// though AllowPlaintextCommands is false.
func TestServer_PlaintextLoopbackDispatch(t *testing.T) {
	srv, stop := startTestServer(t, ServerConfig{AllowPlaintextCommands: false})
	defer stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("list\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)

	var lines []string
	for i := 0; i < 2; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("ReadString: %v", err)
		}
		lines = append(lines, strings.TrimSpace(line))
	}

	if !contains(lines, "1.1.1.1") || !contains(lines, "9.9.9.9") {
		t.Errorf("expected both blocked addresses, got %v", lines)
	}
}

// TestServer_TLSAndAESRoundTrip exercises the encrypted path directly via
// handleConn over an in-memory net.Pipe connection. A pipe endpoint's
// RemoteAddr() doesn't parse as a loopback IP, so the server treats it as
// remote and requires TLS+AES-CBC framing: the client dials TLS, sends
// base64(AES("list")), and the server responds with
// base64(AES(<one address per line>)).
func TestServer_TLSAndAESRoundTrip(t *testing.T) {
	serverTLSConfig, clientTLSConfig := selfSignedTLSConfigPair(t, "warden-test")
	cipher, err := NewCipher([]byte("0123456789abcdef"), []byte("abcdef9876543210"))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	reg := NewRegistry()
	RegisterDefaults(reg)
	ctx := &Context{
		Blocklist: &fakeBlocklist{blocked: []string{"9.9.9.9", "1.1.1.1"}},
		Registry:  reg,
		StartedAt: time.Now(),
		Version:   "test",
	}
	srv := NewServer(ServerConfig{
		AllowPlaintextCommands: false,
		TLSConfig:              serverTLSConfig,
		Cipher:                 cipher,
	}, reg, ctx)

	serverSide, clientSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.handleConn(context.Background(), serverSide)
		close(done)
	}()

	tlsConn := tls.Client(clientSide, clientTLSConfig)
	defer tlsConn.Close()

	plaintext := []byte("list")
	encoded, err := cipher.EncryptToBase64(plaintext)
	if err != nil {
		t.Fatalf("EncryptToBase64: %v", err)
	}
	if _, err := tlsConn.Write([]byte(encoded + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// The whole multi-address response is encrypted and base64-wrapped as
	// a single ciphertext, so it arrives as exactly one line.
	reader := bufio.NewReader(tlsConn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	plain, err := cipher.DecryptFromBase64(strings.TrimSpace(line))
	if err != nil {
		t.Fatalf("DecryptFromBase64(%q): %v", line, err)
	}
	decoded := strings.Fields(string(plain))

	if !contains(decoded, "1.1.1.1") || !contains(decoded, "9.9.9.9") {
		t.Errorf("expected decrypted response to contain both addresses, got %v", decoded)
	}

	tlsConn.Close()
	<-done
}

// TestServer_DispatchRecordsAuditorCommand confirms the server logs every
// dispatched line through ctx.Auditor, since the event bus has no
// remote-address/line context to do this on its own.
func TestServer_DispatchRecordsAuditorCommand(t *testing.T) {
	reg := NewRegistry()
	RegisterDefaults(reg)
	auditor := &fakeAuditor{}
	ctx := &Context{
		Blocklist: &fakeBlocklist{blocked: []string{"9.9.9.9"}},
		Registry:  reg,
		Auditor:   auditor,
		StartedAt: time.Now(),
		Version:   "test",
	}
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, reg, ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(runCtx) }()
	defer func() { cancel(); <-errCh }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never bound a listener")
		}
		time.Sleep(time.Millisecond)
	}

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("list\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := bufio.NewReader(conn).ReadString('\n'); err != nil {
		t.Fatalf("ReadString: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for len(auditor.commands) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected the dispatched line to be recorded via Auditor.LogCommand")
		}
		time.Sleep(time.Millisecond)
	}
	if auditor.commands[0] != "list" {
		t.Errorf("expected the recorded command to be %q, got %q", "list", auditor.commands[0])
	}
}

func contains(items []string, target string) bool {
	for _, v := range items {
		if v == target {
			return true
		}
	}
	return false
}

// selfSignedTLSConfigPair builds a throwaway self-signed certificate for
// host and returns a matching server tls.Config and a client tls.Config
// that trusts it.
func selfSignedTLSConfigPair(t *testing.T, host string) (*tls.Config, *tls.Config) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}

	serverCfg := &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        cert,
		}},
		MinVersion: tls.VersionTLS13,
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	clientCfg := &tls.Config{
		RootCAs:    pool,
		ServerName: host,
		MinVersion: tls.VersionTLS13,
	}

	return serverCfg, clientCfg
}
