package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProtocol(t *testing.T) {
	cases := []struct {
		in      string
		want    Protocol
		wantErr bool
	}{
		{in: "imap", want: IMAP},
		{in: "POP3", want: POP3},
		{in: " dropfolder ", want: DropFolder},
		{in: "smtp", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseProtocol(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestProtocolTextRoundTrip(t *testing.T) {
	var p Protocol
	require.NoError(t, p.UnmarshalText([]byte("pop3")))
	assert.Equal(t, POP3, p)

	b, err := IMAP.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "imap", string(b))
	assert.Error(t, p.UnmarshalText([]byte("maildir")))
}

func TestProtocolRemote(t *testing.T) {
	assert.True(t, IMAP.Remote())
	assert.True(t, POP3.Remote())
	assert.False(t, DropFolder.Remote())
	assert.False(t, Protocol(7).Remote())
}

func TestAccountDefaults(t *testing.T) {
	a := Account{Email: "me@example.com"}
	assert.Equal(t, "INBOX", a.MailboxName())
	assert.Equal(t, "me@example.com", a.Login())
	assert.Equal(t, "me@example.com", a.Label())

	a.Username = "  me  "
	a.Mailbox = "Archive"
	a.Alias = "Personal"
	assert.Equal(t, "Archive", a.MailboxName())
	assert.Equal(t, "me", a.Login())
	assert.Equal(t, "Personal", a.Label())

	assert.Empty(t, (&Account{Username: "   "}).Login())
}
