package mailtest

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/tracyhatemice/mailreader/internal/account"
	"github.com/tracyhatemice/mailreader/internal/message"
)

// POP3Server is a minimal RFC 1939 maildrop. Deletions are committed when a
// client ends its session with QUIT and discarded when the connection drops.
type POP3Server struct {
	Host   string
	Port   int
	UseTLS bool

	mu       sync.Mutex
	messages []string
	failRetr map[string]bool
	open     int
}

// NewPOP3Server starts a server that is closed when the test ends.
func NewPOP3Server(t testing.TB, useTLS bool) *POP3Server {
	t.Helper()

	ln := listen(t, useTLS)
	t.Cleanup(func() { ln.Close() })

	host, port := splitAddr(t, ln.Addr())
	s := &POP3Server{Host: host, Port: port, UseTLS: useTLS, failRetr: map[string]bool{}}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

// Account returns an account that logs in to the server.
func (s *POP3Server) Account() account.Account {
	return account.Account{
		Protocol: account.POP3,
		Email:    User,
		Username: User,
		Password: Password,
		Host:     s.Host,
		Port:     s.Port,
		UseTLS:   s.UseTLS,
		Alias:    "pop3 test account",
	}
}

// Add appends raw messages to the maildrop in order.
func (s *POP3Server) Add(raws ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, raws...)
}

// FailRetrieve makes RETR answer -ERR for the message with this subject.
func (s *POP3Server) FailRetrieve(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRetr[subject] = true
}

// Subjects returns the subjects currently in the maildrop, in order.
func (s *POP3Server) Subjects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, raw := range s.messages {
		out = append(out, subjectOf(raw))
	}
	return out
}

// OpenConns reports how many client connections are still open.
func (s *POP3Server) OpenConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func subjectOf(raw string) string {
	msg, err := message.Parse([]byte(raw))
	if err != nil {
		return ""
	}
	return msg.Subject
}

func (s *POP3Server) serve(conn net.Conn) {
	s.mu.Lock()
	s.open++
	s.mu.Unlock()
	defer func() {
		conn.Close()
		s.mu.Lock()
		s.open--
		s.mu.Unlock()
	}()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	writeLine := func(line string) {
		fmt.Fprintf(rw, "%s\r\n", line)
		rw.Flush()
	}

	writeLine("+OK POP3 server ready")

	var (
		user     string
		authed   bool
		snapshot []string
		deleted  = map[int]bool{}
	)

	// msg resolves a one-based message number from the command arguments.
	msg := func(fields []string) (int, bool) {
		if len(fields) < 2 {
			return 0, false
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > len(snapshot) || deleted[n] {
			return 0, false
		}
		return n, true
	}

	for {
		line, err := rw.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimRight(line, "\r\n"))
		if len(fields) == 0 {
			continue
		}
		cmd := strings.ToUpper(fields[0])

		if !authed && cmd != "USER" && cmd != "PASS" && cmd != "QUIT" && cmd != "CAPA" {
			writeLine("-ERR not authenticated")
			continue
		}

		switch cmd {
		case "CAPA":
			writeLine("+OK")
			writeLine("USER")
			writeLine("UIDL")
			writeLine(".")

		case "USER":
			if len(fields) > 1 {
				user = fields[1]
			}
			writeLine("+OK")

		case "PASS":
			if user != User || len(fields) < 2 || fields[1] != Password {
				writeLine("-ERR invalid credentials")
				continue
			}
			authed = true
			s.mu.Lock()
			snapshot = append([]string(nil), s.messages...)
			s.mu.Unlock()
			writeLine("+OK Logged in")

		case "NOOP":
			writeLine("+OK")

		case "STAT":
			count, size := 0, 0
			for i, raw := range snapshot {
				if !deleted[i+1] {
					count++
					size += len(raw)
				}
			}
			writeLine(fmt.Sprintf("+OK %d %d", count, size))

		case "LIST":
			writeLine("+OK")
			for i, raw := range snapshot {
				if !deleted[i+1] {
					writeLine(fmt.Sprintf("%d %d", i+1, len(raw)))
				}
			}
			writeLine(".")

		case "RETR":
			n, ok := msg(fields)
			if !ok {
				writeLine("-ERR no such message")
				continue
			}
			raw := snapshot[n-1]
			s.mu.Lock()
			fail := s.failRetr[subjectOf(raw)]
			s.mu.Unlock()
			if fail {
				writeLine("-ERR retrieval failed")
				continue
			}
			writeLine("+OK")
			for _, dataLine := range strings.Split(strings.TrimSuffix(raw, "\r\n"), "\r\n") {
				if strings.HasPrefix(dataLine, ".") {
					dataLine = "." + dataLine
				}
				writeLine(dataLine)
			}
			writeLine(".")

		case "DELE":
			n, ok := msg(fields)
			if !ok {
				writeLine("-ERR no such message")
				continue
			}
			deleted[n] = true
			writeLine("+OK")

		case "RSET":
			deleted = map[int]bool{}
			writeLine("+OK")

		case "QUIT":
			if authed {
				s.commit(snapshot, deleted)
			}
			writeLine("+OK Bye")
			return

		default:
			writeLine("-ERR unknown command")
		}
	}
}

func (s *POP3Server) commit(snapshot []string, deleted map[int]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]string, 0, len(s.messages))
	for i, raw := range snapshot {
		if !deleted[i+1] {
			kept = append(kept, raw)
		}
	}
	s.messages = append(kept, s.messages[len(snapshot):]...)
}
