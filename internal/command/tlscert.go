// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package command

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	wardenerrors "warden/internal/errors"
)

// EnsureSelfSignedCert generates a self-signed RSA keypair at certFile/
// keyFile if certFile does not already exist, so the command server has a
// usable TLS identity on first run without an operator-supplied
// certificate. An existing certFile is left untouched.
func EnsureSelfSignedCert(certFile, keyFile string) error {
	if _, err := os.Stat(certFile); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "command: stat %s", certFile)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "command: generate RSA key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "command: generate certificate serial number")
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "warden command server",
			Organization: []string{"warden"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "command: create self-signed certificate")
	}

	if err := writePEMFile(certFile, "CERTIFICATE", der, 0o644); err != nil {
		return err
	}
	if err := writePEMFile(keyFile, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
		return err
	}
	return nil
}

func writePEMFile(path, blockType string, der []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "command: mkdir %s", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "command: create %s", path)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}
