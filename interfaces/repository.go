package interfaces

import "context"

// Repository is a collection of folders sharing one path separator:
// the remote IMAP store, the local Maildir tree, or the status cache.
type Repository interface {
	Name() string
	Separator() rune

	// GetFolders enumerates the repository's folders.
	GetFolders(ctx context.Context) ([]Folder, error)

	// GetFolder returns a handle for the named folder. The folder does not
	// need to exist yet for the local and status backends.
	GetFolder(ctx context.Context, name string) (Folder, error)

	// MakeFolder creates the named folder if it is missing.
	MakeFolder(ctx context.Context, name string) error

	// SyncFoldersTo creates in dst any folder present here but missing
	// there, substituting this repository's separator with dst's.
	SyncFoldersTo(ctx context.Context, dst Repository) error
}
