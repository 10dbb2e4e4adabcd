package receiver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/tracyhatemice/mailreader/internal/account"
	"github.com/tracyhatemice/mailreader/internal/message"
)

var (
	// ErrCertificateUnavailable is returned by the TLS handshake when the
	// server presents no certificate at all.
	ErrCertificateUnavailable = errors.New("server certificate not available")

	// ErrMessageNotFound is returned when the server has no message for an ID.
	ErrMessageNotFound = errors.New("message not found")
)

// Session is one connected, authenticated mailbox handle. ID is the
// protocol's message identifier: imap.UID for IMAP, a zero-based sequence
// index for POP3.
type Session[ID any] interface {
	// List returns the identifiers of all messages, oldest first.
	List(ctx context.Context) ([]ID, error)

	Fetch(ctx context.Context, id ID) (*message.Message, error)
	Delete(ctx context.Context, id ID) error

	// Close logs out and releases the connection. When ctx is already done
	// the logout is skipped and only the socket is closed.
	Close(ctx context.Context) error
}

// ConnectHost returns host in the form a "host:port" dial address needs:
// IP literals other than plain IPv4 are wrapped in brackets.
func ConnectHost(host string) string {
	ip, err := netip.ParseAddr(host)
	if err != nil || ip.Is4() {
		return host
	}
	return "[" + host + "]"
}

// Address joins the connect host and port.
func Address(host string, port int) string {
	return ConnectHost(host) + ":" + strconv.Itoa(port)
}

// TLSConfig builds the client TLS configuration for host.
//
// Chain and hostname verification are not enforced: the handshake only
// fails when the server sends no certificate.
func TLSConfig(host string) *tls.Config {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS10,
		InsecureSkipVerify: true, //nolint:gosec // checked by VerifyPeerCertificate
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrCertificateUnavailable
			}
			return nil
		},
	}
	if _, err := netip.ParseAddr(host); err != nil {
		cfg.ServerName = host
	}
	return cfg
}

// dialer opens the session socket and keeps hold of it so a cancelled
// context can tear it down while a command is blocked on the network.
type dialer struct {
	ctx       context.Context
	tlsConfig *tls.Config

	mu   sync.Mutex
	conn net.Conn
}

func newDialer(ctx context.Context, acct *account.Account) *dialer {
	d := &dialer{ctx: ctx}
	if acct.UseTLS {
		d.tlsConfig = TLSConfig(acct.Host)
	}
	return d
}

// Dial satisfies the go-pop3 Dialer interface.
func (d *dialer) Dial(network, addr string) (net.Conn, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(d.ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if d.tlsConfig != nil {
		tlsConn := tls.Client(conn, d.tlsConfig)
		if err := tlsConn.HandshakeContext(d.ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	if err := d.ctx.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (d *dialer) abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
	}
}

// watch closes the connection if ctx is cancelled before the returned stop
// function is called.
func (d *dialer) watch(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, d.abort)
}

// ctxErr prefers the context error over err, so a round-trip that failed
// because the socket was torn down reports cancellation.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
