package account

import (
	"fmt"
	"strings"
)

// Protocol identifies how an account's mailbox is reached.
type Protocol int

const (
	DropFolder Protocol = iota
	POP3
	IMAP
)

func (p Protocol) String() string {
	switch p {
	case DropFolder:
		return "dropfolder"
	case POP3:
		return "pop3"
	case IMAP:
		return "imap"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// Remote reports whether p is fetched from a mail server.
func (p Protocol) Remote() bool {
	return p == POP3 || p == IMAP
}

// ParseProtocol converts a config value ("pop3", "imap", "dropfolder").
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pop3":
		return POP3, nil
	case "imap":
		return IMAP, nil
	case "dropfolder", "drop_folder":
		return DropFolder, nil
	default:
		return DropFolder, fmt.Errorf("unknown protocol %q", s)
	}
}

func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Protocol) UnmarshalText(text []byte) error {
	v, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Account describes how to reach and authenticate to one mailbox.
type Account struct {
	Protocol Protocol
	Email    string
	Username string
	Password string
	Host     string
	Port     int
	UseTLS   bool
	// Mailbox is only used by IMAP.
	Mailbox string
	Alias   string
}

// MailboxName returns the IMAP mailbox to open, defaulting to "INBOX".
func (a *Account) MailboxName() string {
	if strings.TrimSpace(a.Mailbox) == "" {
		return "INBOX"
	}
	return a.Mailbox
}

// Login returns the name used to authenticate, falling back to the email
// address when no username is set.
func (a *Account) Login() string {
	if u := strings.TrimSpace(a.Username); u != "" {
		return u
	}
	return strings.TrimSpace(a.Email)
}

// Label is a human readable name for logs.
func (a *Account) Label() string {
	switch {
	case a.Alias != "":
		return a.Alias
	case a.Email != "":
		return a.Email
	default:
		return a.Login()
	}
}
