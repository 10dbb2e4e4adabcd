package mailtest

import (
	"crypto/tls"
	"strconv"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailreader/internal/account"
)

// IMAPServer is an in-memory IMAP server with one user and an INBOX.
type IMAPServer struct {
	Host   string
	Port   int
	UseTLS bool
}

// NewIMAPServer starts a server that is closed when the test ends.
func NewIMAPServer(t testing.TB, useTLS bool) *IMAPServer {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(User, Password)
	require.NoError(t, user.Create("INBOX", nil))
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(_ *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
		},
	})

	ln := listen(t, useTLS)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	host, port := splitAddr(t, ln.Addr())
	return &IMAPServer{Host: host, Port: port, UseTLS: useTLS}
}

// Account returns an account that logs in to the server's INBOX.
func (s *IMAPServer) Account() account.Account {
	return account.Account{
		Protocol: account.IMAP,
		Email:    User,
		Username: User,
		Password: Password,
		Host:     s.Host,
		Port:     s.Port,
		UseTLS:   s.UseTLS,
		Mailbox:  "INBOX",
		Alias:    "imap test account",
	}
}

func (s *IMAPServer) client(t testing.TB) *imapclient.Client {
	t.Helper()

	addr := s.Host + ":" + strconv.Itoa(s.Port)
	var (
		c   *imapclient.Client
		err error
	)
	if s.UseTLS {
		c, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed test cert
		})
	} else {
		c, err = imapclient.DialInsecure(addr, nil)
	}
	require.NoError(t, err)
	require.NoError(t, c.Login(User, Password).Wait())
	return c
}

// Append adds raw messages to the mailbox in order, so the first one gets
// the lowest UID.
func (s *IMAPServer) Append(t testing.TB, mailbox string, raws ...string) {
	t.Helper()

	c := s.client(t)
	defer c.Close()

	for _, raw := range raws {
		cmd := c.Append(mailbox, int64(len(raw)), nil)
		_, err := cmd.Write([]byte(raw))
		require.NoError(t, err)
		require.NoError(t, cmd.Close())
		_, err = cmd.Wait()
		require.NoError(t, err)
	}
}

// Subjects returns the subjects currently in mailbox, in sequence order.
func (s *IMAPServer) Subjects(t testing.TB, mailbox string) []string {
	t.Helper()

	c := s.client(t)
	defer c.Close()

	data, err := c.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	require.NoError(t, err)
	if data.NumMessages == 0 {
		return nil
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(1, data.NumMessages)
	msgs, err := c.Fetch(seqSet, &imap.FetchOptions{Envelope: true}).Collect()
	require.NoError(t, err)

	subjects := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Envelope != nil {
			subjects = append(subjects, m.Envelope.Subject)
		}
	}
	return subjects
}
