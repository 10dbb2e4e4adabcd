// Package mailtest runs in-process IMAP and POP3 servers for tests.
package mailtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	User     = "reader@unittest.local"
	Password = "P@ssw0rd"
)

var messageSeq atomic.Int64

// NewMessage builds a plain-text RFC 5322 message with a unique Message-Id.
func NewMessage(subject string) string {
	n := messageSeq.Add(1)
	return "MIME-Version: 1.0\r\n" +
		"From: Sender <sender@unittest.local>\r\n" +
		"To: " + User + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 10 Feb 2026 08:00:00 +0000\r\n" +
		fmt.Sprintf("Message-Id: <mailtest-%d@unittest.local>\r\n", n) +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Body of " + subject + "\r\n"
}

// TLSConfig returns a server config with a fresh self-signed certificate.
func TLSConfig(t testing.TB) *tls.Config {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
	}
}

func listen(t testing.TB, useTLS bool) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	if useTLS {
		ln = tls.NewListener(ln, TLSConfig(t))
	}
	return ln
}

func splitAddr(t testing.TB, addr net.Addr) (string, int) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}
