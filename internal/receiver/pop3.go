package receiver

import (
	"context"
	"fmt"
	"log/slog"

	pop3client "github.com/knadh/go-pop3"

	"github.com/tracyhatemice/mailreader/internal/account"
	"github.com/tracyhatemice/mailreader/internal/message"
)

var _ Session[int] = (*POP3Session)(nil)

// POP3Session is an authenticated POP3 connection. Message IDs are
// zero-based indexes; message n on the wire is index n-1.
type POP3Session struct {
	conn   *pop3client.Conn
	dialer *dialer
	addr   string
	logger *slog.Logger
}

// DialPOP3 connects and authenticates with USER/PASS.
func DialPOP3(ctx context.Context, acct *account.Account, logger *slog.Logger) (*POP3Session, error) {
	addr := Address(acct.Host, acct.Port)

	// TLS is done by our dialer so the certificate policy applies.
	d := newDialer(ctx, acct)
	client := pop3client.New(pop3client.Opt{
		Host:   ConnectHost(acct.Host),
		Port:   acct.Port,
		Dialer: d,
	})

	stop := d.watch(ctx)
	defer stop()

	conn, err := client.NewConn()
	if err != nil {
		d.abort()
		return nil, ctxErr(ctx, fmt.Errorf("pop3 connect %s: %w", addr, err))
	}
	if err := conn.Auth(acct.Login(), acct.Password); err != nil {
		d.abort()
		return nil, ctxErr(ctx, fmt.Errorf("pop3 auth %s: %w", acct.Login(), err))
	}

	logger.Debug("pop3 session open", "addr", addr)
	return &POP3Session{conn: conn, dialer: d, addr: addr, logger: logger}, nil
}

// List returns 0..count-1 from STAT, the server's oldest-first order.
func (s *POP3Session) List(ctx context.Context) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.dialer.watch(ctx)()

	count, _, err := s.conn.Stat()
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("pop3 stat: %w", err))
	}
	ids := make([]int, count)
	for i := range ids {
		ids[i] = i
	}
	return ids, nil
}

func (s *POP3Session) Fetch(ctx context.Context, index int) (*message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.dialer.watch(ctx)()

	buf, err := s.conn.RetrRaw(index + 1)
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("pop3 retr %d: %w", index+1, err))
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("pop3 retr %d: empty body", index+1)
	}

	msg, err := message.Parse(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("pop3 parse %d: %w", index+1, err)
	}
	return msg, nil
}

// Delete marks the message with DELE. The server removes it when the
// session ends with QUIT.
func (s *POP3Session) Delete(ctx context.Context, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.dialer.watch(ctx)()

	if err := s.conn.Dele(index + 1); err != nil {
		return ctxErr(ctx, fmt.Errorf("pop3 dele %d: %w", index+1, err))
	}
	return nil
}

// Close sends QUIT, which commits pending deletions. A cancelled ctx drops
// the connection instead, and the server discards them.
func (s *POP3Session) Close(ctx context.Context) error {
	defer s.dialer.abort()

	if err := ctx.Err(); err != nil {
		return err
	}
	stop := s.dialer.watch(ctx)
	defer stop()

	if err := s.conn.Quit(); err != nil {
		return ctxErr(ctx, fmt.Errorf("pop3 quit: %w", err))
	}
	s.logger.Debug("pop3 session closed", "addr", s.addr)
	return nil
}
