// Package reader fetches messages from an IMAP mailbox or a POP3 inbox
// through one entry point, Reader.LoadFromServer.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emersion/go-imap/v2"

	"github.com/tracyhatemice/mailreader/internal/account"
	"github.com/tracyhatemice/mailreader/internal/message"
	"github.com/tracyhatemice/mailreader/internal/receiver"
)

var (
	// ErrInvalidRequest wraps every precondition failure. It is returned
	// before any connection is attempted.
	ErrInvalidRequest = errors.New("invalid fetch request")

	ErrNilRequest          = errors.New("request is nil")
	ErrNilAccount          = errors.New("account is nil")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrEmptyUsername       = errors.New("username is empty")
	ErrInvalidLimit        = errors.New("fetch limit is negative")
)

// Request describes one fetch operation.
type Request struct {
	Account *account.Account

	// AutoDelete removes each message from the server after it was
	// fetched successfully.
	AutoDelete bool

	// Limit bounds how many messages are fetched, oldest first. Nil means
	// no bound.
	Limit *int
}

// LimitTo returns n as a Request.Limit value.
func LimitTo(n int) *int {
	return &n
}

func (req *Request) validate() error {
	if req == nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrNilRequest)
	}
	acct := req.Account
	if acct == nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrNilAccount)
	}
	if !acct.Protocol.Remote() {
		return fmt.Errorf("%w: %w: %s", ErrInvalidRequest, ErrUnsupportedProtocol, acct.Protocol)
	}
	if acct.Login() == "" {
		return fmt.Errorf("%w: %w: account %q", ErrInvalidRequest, ErrEmptyUsername, acct.Email)
	}
	if req.Limit != nil && *req.Limit < 0 {
		return fmt.Errorf("%w: %w: %d", ErrInvalidRequest, ErrInvalidLimit, *req.Limit)
	}
	return nil
}

// Handler receives per-message outcomes. Callbacks run inline in the fetch
// loop, in fetch order; nil callbacks are skipped.
type Handler struct {
	OnMessageLoaded func(acct *account.Account, msg *message.Message)
	OnLoadError     func(acct *account.Account, id string, err error)
	OnDeleteError   func(acct *account.Account, id string, err error)
}

func (h Handler) messageLoaded(acct *account.Account, msg *message.Message) {
	if h.OnMessageLoaded != nil {
		h.OnMessageLoaded(acct, msg)
	}
}

func (h Handler) loadError(acct *account.Account, id string, err error) {
	if h.OnLoadError != nil {
		h.OnLoadError(acct, id, err)
	}
}

func (h Handler) deleteError(acct *account.Account, id string, err error) {
	if h.OnDeleteError != nil {
		h.OnDeleteError(acct, id, err)
	}
}

// Dialer opens protocol sessions. The zero value of a field falls back to
// the receiver package implementation.
type Dialer struct {
	IMAP func(ctx context.Context, acct *account.Account) (receiver.Session[imap.UID], error)
	POP3 func(ctx context.Context, acct *account.Account) (receiver.Session[int], error)
}

// Reader runs fetch operations. It holds no per-call state and is safe for
// concurrent use across accounts.
type Reader struct {
	dial   Dialer
	logger *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithDialer replaces how sessions are opened.
func WithDialer(d Dialer) Option {
	return func(r *Reader) {
		if d.IMAP != nil {
			r.dial.IMAP = d.IMAP
		}
		if d.POP3 != nil {
			r.dial.POP3 = d.POP3
		}
	}
}

// New creates a Reader.
func New(logger *slog.Logger, opts ...Option) *Reader {
	r := &Reader{
		logger: logger,
		dial: Dialer{
			IMAP: func(ctx context.Context, acct *account.Account) (receiver.Session[imap.UID], error) {
				s, err := receiver.DialIMAP(ctx, acct, logger)
				if err != nil {
					return nil, err
				}
				return s, nil
			},
			POP3: func(ctx context.Context, acct *account.Account) (receiver.Session[int], error) {
				s, err := receiver.DialPOP3(ctx, acct, logger)
				if err != nil {
					return nil, err
				}
				return s, nil
			},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadFromServer fetches the account's messages oldest first, up to the
// request limit, reporting each outcome to h. A message that fails to load
// or delete is reported and skipped; failures to connect, authenticate,
// open the mailbox or list messages abort the call. When ctx is cancelled
// the call returns ctx.Err() and notifications already sent stand.
func (r *Reader) LoadFromServer(ctx context.Context, req *Request, h Handler) error {
	if err := req.validate(); err != nil {
		return err
	}

	switch req.Account.Protocol {
	case account.IMAP:
		return load(ctx, r.logger, req, h, r.dial.IMAP)
	case account.POP3:
		return load(ctx, r.logger, req, h, r.dial.POP3)
	default:
		return fmt.Errorf("%w: %w: %s", ErrInvalidRequest, ErrUnsupportedProtocol, req.Account.Protocol)
	}
}
