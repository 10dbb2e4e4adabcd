package receiver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/tracyhatemice/mailreader/internal/account"
	"github.com/tracyhatemice/mailreader/internal/message"
)

var _ Session[imap.UID] = (*IMAPSession)(nil)

// IMAPSession is an authenticated IMAP connection with one mailbox selected
// read-write.
type IMAPSession struct {
	client  *imapclient.Client
	dialer  *dialer
	mailbox string
	logger  *slog.Logger
}

// DialIMAP connects, authenticates and selects the account's mailbox.
func DialIMAP(ctx context.Context, acct *account.Account, logger *slog.Logger) (*IMAPSession, error) {
	addr := Address(acct.Host, acct.Port)

	d := newDialer(ctx, acct)
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("imap connect %s: %w", addr, err))
	}

	s := &IMAPSession{
		client:  imapclient.New(conn, nil),
		dialer:  d,
		mailbox: acct.MailboxName(),
		logger:  logger,
	}
	if err := s.open(ctx, acct.Login(), acct.Password); err != nil {
		s.client.Close()
		return nil, err
	}

	logger.Debug("imap session open", "addr", addr, "mailbox", s.mailbox)
	return s, nil
}

func (s *IMAPSession) open(ctx context.Context, username, password string) error {
	defer s.dialer.watch(ctx)()

	if err := s.login(username, password); err != nil {
		return ctxErr(ctx, fmt.Errorf("imap login %s: %w", username, err))
	}
	if _, err := s.client.Select(s.mailbox, nil).Wait(); err != nil {
		return ctxErr(ctx, fmt.Errorf("imap select %s: %w", s.mailbox, err))
	}
	return nil
}

func (s *IMAPSession) login(username, password string) error {
	if s.client.Caps().Has(imap.AuthCap(sasl.Plain)) {
		return s.client.Authenticate(sasl.NewPlainClient("", username, password))
	}
	return s.client.Login(username, password).Wait()
}

// List runs UID SEARCH ALL. UIDs come back in ascending order, which is the
// order messages were added to the mailbox.
func (s *IMAPSession) List(ctx context.Context) ([]imap.UID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.dialer.watch(ctx)()

	data, err := s.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("imap search %s: %w", s.mailbox, err))
	}
	return data.AllUIDs(), nil
}

func (s *IMAPSession) Fetch(ctx context.Context, uid imap.UID) (*message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.dialer.watch(ctx)()

	section := &imap.FetchItemBodySection{Peek: true}
	buffers, err := s.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("imap fetch uid %d: %w", uid, err))
	}
	if len(buffers) == 0 {
		return nil, fmt.Errorf("imap fetch uid %d: %w", uid, ErrMessageNotFound)
	}

	raw := buffers[0].FindBodySection(section)
	if len(raw) == 0 {
		return nil, fmt.Errorf("imap fetch uid %d: empty body", uid)
	}

	msg, err := message.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("imap parse uid %d: %w", uid, err)
	}
	return msg, nil
}

// Delete flags the message \Deleted and expunges the mailbox.
func (s *IMAPSession) Delete(ctx context.Context, uid imap.UID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.dialer.watch(ctx)()

	store := s.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := store.Close(); err != nil {
		return ctxErr(ctx, fmt.Errorf("imap store uid %d: %w", uid, err))
	}
	if err := s.client.Expunge().Close(); err != nil {
		return ctxErr(ctx, fmt.Errorf("imap expunge %s: %w", s.mailbox, err))
	}
	return nil
}

func (s *IMAPSession) Close(ctx context.Context) error {
	defer s.client.Close()

	if err := ctx.Err(); err != nil {
		return err
	}
	stop := s.dialer.watch(ctx)
	defer stop()

	if err := s.client.Logout().Wait(); err != nil {
		return ctxErr(ctx, fmt.Errorf("imap logout: %w", err))
	}
	s.logger.Debug("imap session closed", "mailbox", s.mailbox)
	return nil
}
