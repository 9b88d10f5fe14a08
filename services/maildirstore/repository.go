package maildirstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-maildir"
	"github.com/pkg/errors"

	"github.com/mailmirror/mailmirror/interfaces"
	"github.com/mailmirror/mailmirror/internal/logger"
)

// Separator used in local folder names. Folders are laid out flat under
// the root, nesting encoded in the name ("INBOX.Sent").
const Separator = '.'

// Repository is the local Maildir tree of one account.
type Repository struct {
	root string
	log  logger.Logger
}

func NewRepository(root string, log logger.Logger) *Repository {
	return &Repository{root: root, log: log}
}

func (r *Repository) Name() string {
	return "LocalMaildir"
}

func (r *Repository) Separator() rune {
	return Separator
}

func (r *Repository) GetFolder(ctx context.Context, name string) (interfaces.Folder, error) {
	return newFolder(r.root, name, r.log), nil
}

// GetFolders lists every directory under the root that looks like a
// maildir (has cur/, new/ and tmp/).
func (r *Repository) GetFolders(ctx context.Context) ([]interfaces.Folder, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "listing maildir root %s", r.root)
	}

	var folders []interfaces.Folder
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if !isMaildir(filepath.Join(r.root, entry.Name())) {
			continue
		}
		folders = append(folders, newFolder(r.root, entry.Name(), r.log))
	}
	return folders, nil
}

func (r *Repository) MakeFolder(ctx context.Context, name string) error {
	path := filepath.Join(r.root, name)
	if isMaildir(path) {
		return nil
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return errors.Wrapf(err, "creating maildir %s", path)
	}
	if err := maildir.Dir(path).Init(); err != nil {
		return errors.Wrapf(err, "initializing maildir %s", path)
	}
	return nil
}

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

func isMaildir(path string) bool {
	for _, sub := range []string{"cur", "new", "tmp"} {
		info, err := os.Stat(filepath.Join(path, sub))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}
