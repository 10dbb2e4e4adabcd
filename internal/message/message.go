package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Address is one mailbox from an address header.
type Address struct {
	Name    string
	Address string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

// Attachment is a non-inline body part.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// Message is a fetched and parsed email.
type Message struct {
	MessageID   string
	Subject     string
	Date        time.Time
	From        []Address
	To          []Address
	Cc          []Address
	TextBody    string
	HTMLBody    string
	Attachments []Attachment

	// Raw holds the RFC 5322 bytes as received.
	Raw []byte
}

// Sender returns the first From address, or "" when there is none.
func (m *Message) Sender() string {
	if len(m.From) == 0 {
		return ""
	}
	return m.From[0].Address
}

// Parse reads raw RFC 5322 bytes into a Message. Unknown charsets are
// tolerated; the affected parts keep their undecoded bytes.
func Parse(raw []byte) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message header: %w", err)
	}
	defer mr.Close()

	msg := &Message{Raw: raw}
	h := mr.Header

	msg.Subject, _ = h.Subject()
	msg.Date, _ = h.Date()
	if id, err := h.MessageID(); err == nil {
		msg.MessageID = id
	}
	msg.From = addressList(h, "From")
	msg.To = addressList(h, "To")
	msg.Cc = addressList(h, "Cc")

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !gomessage.IsUnknownCharset(err) {
			return nil, fmt.Errorf("read message part: %w", err)
		}
		if p == nil {
			continue
		}

		body, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("read message body: %w", err)
		}

		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			switch {
			case strings.HasPrefix(ct, "text/html") && msg.HTMLBody == "":
				msg.HTMLBody = string(body)
			case (ct == "" || strings.HasPrefix(ct, "text/plain")) && msg.TextBody == "":
				msg.TextBody = string(body)
			}
		case *mail.AttachmentHeader:
			ct, _, _ := ph.ContentType()
			filename, _ := ph.Filename()
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    filename,
				ContentType: ct,
				Size:        int64(len(body)),
				Data:        body,
			})
		}
	}

	return msg, nil
}

func addressList(h mail.Header, key string) []Address {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{Name: a.Name, Address: a.Address})
	}
	return out
}
