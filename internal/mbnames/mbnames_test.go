package mbnames

import (
	"os"
	"path/filepath"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmirror/mailmirror/config"
)

func TestCollector_ResetAndAdd(t *testing.T) {
	c := NewCollector()
	c.Add("acct", "INBOX")
	c.Add("acct", "Sent")
	require.Len(t, c.Entries(), 2)

	c.Reset()
	assert.Empty(t, c.Entries())
}

func TestCollector_ConcurrentWriters(t *testing.T) {
	c := NewCollector()
	var wg gosync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add("acct", "INBOX")
		}()
	}
	wg.Wait()
	assert.Len(t, c.Entries(), 16)
}

func TestWrite_RendersSortedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mbnames")
	cfg := config.MBNamesConfig{
		Enabled:  true,
		Filename: path,
		Header:   "mailboxes ",
		PerItem:  `"{{.AccountName}}/{{.FolderName}}"`,
		Sep:      " ",
		Footer:   "\n",
	}

	entries := []Entry{
		{AccountName: "work", FolderName: "Sent"},
		{AccountName: "home", FolderName: "INBOX"},
		{AccountName: "work", FolderName: "INBOX"},
	}
	require.NoError(t, Write(cfg, entries))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mailboxes \"home/INBOX\" \"work/INBOX\" \"work/Sent\"\n", string(data))
}

func TestWrite_DisabledWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mbnames")
	cfg := config.MBNamesConfig{Enabled: false, Filename: path}

	require.NoError(t, Write(cfg, []Entry{{AccountName: "a", FolderName: "b"}}))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWrite_BadTemplate(t *testing.T) {
	cfg := config.MBNamesConfig{
		Enabled:  true,
		Filename: filepath.Join(t.TempDir(), "mbnames"),
		PerItem:  "{{.Nope",
	}
	require.Error(t, Write(cfg, nil))
}
