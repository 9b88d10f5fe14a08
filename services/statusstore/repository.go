package statusstore

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/mailmirror/mailmirror/interfaces"
	"github.com/mailmirror/mailmirror/internal/logger"
)

// Separator used in status folder names. Chosen so that the per-folder
// file names are filesystem-safe regardless of the remote separator.
const Separator = '.'

// Repository is the durable per-account status store: one flat file per
// folder under the account's metadata directory.
type Repository struct {
	root string
	log  logger.Logger
}

func NewRepository(root string, log logger.Logger) *Repository {
	return &Repository{root: root, log: log}
}

func (r *Repository) Name() string {
	return "LocalStatus"
}

func (r *Repository) Separator() rune {
	return Separator
}

func (r *Repository) GetFolder(ctx context.Context, name string) (interfaces.Folder, error) {
	return newFolder(r.root, name, r.log), nil
}

func (r *Repository) GetFolders(ctx context.Context) ([]interfaces.Folder, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "listing status store %s", r.root)
	}

	var folders []interfaces.Folder
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		folders = append(folders, newFolder(r.root, entry.Name(), r.log))
	}
	return folders, nil
}

func (r *Repository) MakeFolder(ctx context.Context, name string) error {
	folder := newFolder(r.root, name, r.log)
	if !folder.IsNewFolder() {
		return nil
	}
	return folder.Save(ctx)
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
