package interfaces

import (
	"context"

	"github.com/mailmirror/mailmirror/internal/models"
)

// Folder is the capability every backend folder offers, regardless of
// whether the backing store is an IMAP server, a Maildir on disk, or the
// per-account status cache. The reconciler works exclusively through it.
type Folder interface {
	// Name returns the visible folder name in this repository's naming.
	Name() string

	// Separator returns the path separator of the owning repository.
	Separator() rune

	// CacheMessageList materializes the UID to flag-set map from the
	// backing store. It must be called before MessageList.
	CacheMessageList(ctx context.Context) error

	// MessageList returns the cached mapping. Callers must not retain it
	// across mutations.
	MessageList() map[models.UID]models.FlagSet

	// UIDValidity returns the stored epoch, with ok=false when the folder
	// has none recorded.
	UIDValidity(ctx context.Context) (int64, bool, error)

	// SaveUIDValidity records the epoch durably.
	SaveUIDValidity(ctx context.Context, validity int64) error

	// IsUIDValidityOK reports true iff this folder has no stored validity
	// or it equals the other folder's.
	IsUIDValidityOK(ctx context.Context, other Folder) (bool, error)

	// IsNewFolder reports whether no prior state exists. Only the status
	// backend ever returns true.
	IsNewFolder() bool

	// DeleteMessageList drops all persisted records for this folder. Used
	// when a UID-validity reset voids prior state.
	DeleteMessageList(ctx context.Context) error

	// ReadMessage returns the full message payload for uid.
	ReadMessage(ctx context.Context, uid models.UID) ([]byte, error)

	// AppendMessage stores a new message and returns the UID it ended up
	// with. The IMAP backend returns the server-assigned UID, which may
	// differ from the provisional one passed in; other backends echo uid.
	AppendMessage(ctx context.Context, uid models.UID, flags models.FlagSet, body []byte) (models.UID, error)

	// DeleteMessages removes the given UIDs. UIDs absent from the folder
	// are ignored.
	DeleteMessages(ctx context.Context, uids []models.UID) error

	// AddMessageFlags adds flags to uid without touching unrelated flags.
	AddMessageFlags(ctx context.Context, uid models.UID, flags models.FlagSet) error

	// RemoveMessageFlags removes flags from uid without touching unrelated
	// flags.
	RemoveMessageFlags(ctx context.Context, uid models.UID, flags models.FlagSet) error

	// ChangeMessageUID rewrites a provisional UID to the server-assigned
	// one after an upload.
	ChangeMessageUID(ctx context.Context, oldUID, newUID models.UID) error

	// Save flushes any pending folder state to the backing store.
	Save(ctx context.Context) error
}
