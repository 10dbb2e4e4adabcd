package store

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/emersion/go-mbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailreader/internal/mailtest"
	"github.com/tracyhatemice/mailreader/internal/message"
)

func readSubjects(t *testing.T, path string) []string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var subjects []string
	r := mbox.NewReader(f)
	for {
		mr, err := r.NextMessage()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		raw, err := io.ReadAll(mr)
		require.NoError(t, err)
		msg, err := message.Parse(raw)
		require.NoError(t, err)
		subjects = append(subjects, msg.Subject)
	}
	return subjects
}

func TestMboxAppend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s, err := NewMbox(dir)
	require.NoError(t, err)

	for _, subject := range []string{"first", "From the start", "third"} {
		msg, err := message.Parse([]byte(mailtest.NewMessage(subject)))
		require.NoError(t, err)
		require.NoError(t, s.Append("work", msg))
	}

	assert.Equal(t, filepath.Join(dir, "work.mbox"), s.Path("work"))
	assert.Equal(t, []string{"first", "From the start", "third"}, readSubjects(t, s.Path("work")))

	_, err = os.Stat(s.Path("home"))
	assert.True(t, os.IsNotExist(err))
}

func TestMboxAppendWithoutRaw(t *testing.T) {
	s, err := NewMbox(t.TempDir())
	require.NoError(t, err)

	err = s.Append("work", &message.Message{MessageID: "x@example.com"})
	assert.ErrorContains(t, err, "no raw content")
}
