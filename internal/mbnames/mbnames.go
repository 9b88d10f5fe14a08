package mbnames

import (
	"bytes"
	"sort"
	"sync"
	"text/template"

	"github.com/pkg/errors"

	"github.com/mailmirror/mailmirror/config"
	"github.com/mailmirror/mailmirror/internal/utils"
)

// Entry is one synchronized mailbox, as published by a folder worker.
type Entry struct {
	AccountName string
	FolderName  string
}

// Collector gathers the mailboxes visited during one sync pass. It is
// run-scoped: the controller resets it at the start of each pass,
// folder workers append to it, and it is read only after all folder
// workers have joined.
type Collector struct {
	mu      sync.Mutex
	entries []Entry
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

func (c *Collector) Add(account, folder string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{AccountName: account, FolderName: folder})
}

func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Write renders the mailbox list file from the collected entries. The
// peritem option is a Go template over an Entry. Disabled or unset
// configurations write nothing.
func Write(cfg config.MBNamesConfig, entries []Entry) error {
	if !cfg.Enabled || cfg.Filename == "" {
		return nil
	}

	tmpl, err := template.New("peritem").Parse(cfg.PerItem)
	if err != nil {
		return errors.Wrap(err, "parsing mbnames peritem template")
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].AccountName != sorted[j].AccountName {
			return sorted[i].AccountName < sorted[j].AccountName
		}
		return sorted[i].FolderName < sorted[j].FolderName
	})

	var buf bytes.Buffer
	buf.WriteString(cfg.Header)
	for i, entry := range sorted {
		if i > 0 {
			buf.WriteString(cfg.Sep)
		}
		if err := tmpl.Execute(&buf, entry); err != nil {
			return errors.Wrap(err, "rendering mbnames entry")
		}
	}
	buf.WriteString(cfg.Footer)

	return utils.WriteFileAtomic(cfg.Filename, buf.Bytes(), 0o644)
}
