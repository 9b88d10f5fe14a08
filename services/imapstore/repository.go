package imapstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/mailmirror/mailmirror/interfaces"
	"github.com/mailmirror/mailmirror/internal/logger"
)

// Repository is the remote IMAP store of one account.
type Repository struct {
	account string
	server  *Server
	log     logger.Logger

	mu       sync.Mutex
	sep      rune
	sepKnown bool
}

func NewRepository(account string, server *Server, log logger.Logger) *Repository {
	return &Repository{
		account: account,
		server:  server,
		log:     log,
	}
}

func (r *Repository) Name() string {
	return "IMAP"
}

// Separator reports the hierarchy delimiter learned from LIST. Before
// the first listing it falls back to "/".
func (r *Repository) Separator() rune {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sepKnown {
		return '/'
	}
	return r.sep
}

func (r *Repository) setSeparator(delim string) {
	if delim == "" {
		return
	}
	r.mu.Lock()
	r.sep = rune(delim[0])
	r.sepKnown = true
	r.mu.Unlock()
}

func (r *Repository) GetFolder(ctx context.Context, name string) (interfaces.Folder, error) {
	return newFolder(r, name, r.log), nil
}

func (r *Repository) GetFolders(ctx context.Context) ([]interfaces.Folder, error) {
	c, err := r.server.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var names []string
	for mbox := range mailboxes {
		r.setSeparator(mbox.Delimiter)
		noselect := false
		for _, attr := range mbox.Attributes {
			if strings.EqualFold(attr, imap.NoSelectAttr) {
				noselect = true
				break
			}
		}
		if noselect {
			continue
		}
		names = append(names, mbox.Name)
	}
	if err := <-done; err != nil {
		r.server.Discard(c)
		return nil, errors.Wrapf(err, "listing mailboxes for account %s", r.account)
	}
	r.server.Release(c)

	sort.Strings(names)
	folders := make([]interfaces.Folder, 0, len(names))
	for _, name := range names {
		folders = append(folders, newFolder(r, name, r.log))
	}
	return folders, nil
}

func (r *Repository) MakeFolder(ctx context.Context, name string) error {
	c, err := r.server.Acquire(ctx)
	if err != nil {
		return err
	}
	err = c.Create(name)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "exist") {
		err = nil
	}
	if err != nil {
		r.server.Discard(c)
		return errors.Wrapf(err, "creating mailbox %s", name)
	}
	r.server.Release(c)
	return nil
}

// SyncFoldersTo ensures every selectable remote mailbox exists on dst,
// mapping names by separator substitution.
func (r *Repository) SyncFoldersTo(ctx context.Context, dst interfaces.Repository) error {
	folders, err := r.GetFolders(ctx)
	if err != nil {
		return err
	}
	for _, folder := range folders {
		name := strings.ReplaceAll(folder.Name(), string(r.Separator()), string(dst.Separator()))
		if err := dst.MakeFolder(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
