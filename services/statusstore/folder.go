package statusstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mailmirror/mailmirror/interfaces"
	apperrors "github.com/mailmirror/mailmirror/internal/errors"
	"github.com/mailmirror/mailmirror/internal/logger"
	"github.com/mailmirror/mailmirror/internal/models"
	"github.com/mailmirror/mailmirror/internal/utils"
)

const magicHeader = "mailmirror status cache 1"

// Folder is the persisted record of what was last reconciled for one
// folder. It is the arbiter of whether a UID missing from the remote
// means "delete locally" or "upload to remote".
type Folder struct {
	root string
	name string
	log  logger.Logger

	cached      bool
	validity    int64
	hasValidity bool
	messages    map[models.UID]models.FlagSet
}

func newFolder(root, name string, log logger.Logger) *Folder {
	return &Folder{
		root:     root,
		name:     name,
		log:      log,
		messages: make(map[models.UID]models.FlagSet),
	}
}

func (f *Folder) path() string {
	return filepath.Join(f.root, f.name)
}

func (f *Folder) Name() string {
	return f.name
}

func (f *Folder) Separator() rune {
	return Separator
}

func (f *Folder) IsNewFolder() bool {
	_, err := os.Stat(f.path())
	return os.IsNotExist(err)
}

func (f *Folder) CacheMessageList(ctx context.Context) error {
	f.messages = make(map[models.UID]models.FlagSet)
	f.cached = true
	f.hasValidity = false

	file, err := os.Open(f.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "opening status file %s", f.path())
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return errors.Errorf("status file %s is empty", f.path())
	}
	if scanner.Text() != magicHeader {
		return errors.Errorf("status file %s has unrecognized header %q", f.path(), scanner.Text())
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "uidvalidity "); ok {
			validity, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "status file %s: bad uidvalidity", f.path())
			}
			f.validity = validity
			f.hasValidity = true
			continue
		}

		fields := strings.SplitN(line, " ", 2)
		uid, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return errors.Wrapf(err, "status file %s: bad uid %q", f.path(), fields[0])
		}
		flags := models.NewFlagSet()
		if len(fields) == 2 {
			flags = models.ParseFlagSet(fields[1])
		}
		f.messages[models.UID(uid)] = flags
	}
	return errors.Wrapf(scanner.Err(), "reading status file %s", f.path())
}

func (f *Folder) MessageList() map[models.UID]models.FlagSet {
	return f.messages
}

func (f *Folder) UIDValidity(ctx context.Context) (int64, bool, error) {
	if !f.cached {
		if err := f.CacheMessageList(ctx); err != nil {
			return 0, false, err
		}
	}
	return f.validity, f.hasValidity, nil
}

func (f *Folder) SaveUIDValidity(ctx context.Context, validity int64) error {
	f.validity = validity
	f.hasValidity = true
	return nil
}

func (f *Folder) IsUIDValidityOK(ctx context.Context, other interfaces.Folder) (bool, error) {
	mine, ok, err := f.UIDValidity(ctx)
	if err != nil || !ok {
		return err == nil, err
	}
	theirs, ok, err := other.UIDValidity(ctx)
	if err != nil {
		return false, err
	}
	return ok && mine == theirs, nil
}

// DeleteMessageList drops the persisted file entirely. The next cache
// pass will report a new folder.
func (f *Folder) DeleteMessageList(ctx context.Context) error {
	f.messages = make(map[models.UID]models.FlagSet)
	f.hasValidity = false
	if err := os.Remove(f.path()); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing status file %s", f.path())
	}
	return nil
}

func (f *Folder) ReadMessage(ctx context.Context, uid models.UID) ([]byte, error) {
	return nil, errors.New("status store does not keep message payloads")
}

// AppendMessage records uid with its flags; the payload is not kept.
// Provisional local UIDs are never recorded: the status file must only
// ever hold server-assigned UIDs.
func (f *Folder) AppendMessage(ctx context.Context, uid models.UID, flags models.FlagSet, body []byte) (models.UID, error) {
	if uid.IsLocal() {
		return uid, nil
	}
	f.messages[uid] = flags.Clone()
	return uid, nil
}

func (f *Folder) DeleteMessages(ctx context.Context, uids []models.UID) error {
	for _, uid := range uids {
		delete(f.messages, uid)
	}
	return nil
}

func (f *Folder) AddMessageFlags(ctx context.Context, uid models.UID, flags models.FlagSet) error {
	existing, ok := f.messages[uid]
	if !ok {
		return errors.Wrapf(apperrors.ErrUnknownUID, "status %s uid %d", f.name, uid)
	}
	for flag := range flags {
		existing.Add(flag)
	}
	return nil
}

func (f *Folder) RemoveMessageFlags(ctx context.Context, uid models.UID, flags models.FlagSet) error {
	existing, ok := f.messages[uid]
	if !ok {
		return errors.Wrapf(apperrors.ErrUnknownUID, "status %s uid %d", f.name, uid)
	}
	for flag := range flags {
		existing.Remove(flag)
	}
	return nil
}

func (f *Folder) ChangeMessageUID(ctx context.Context, oldUID, newUID models.UID) error {
	flags, ok := f.messages[oldUID]
	if !ok {
		return nil
	}
	delete(f.messages, oldUID)
	f.messages[newUID] = flags
	return nil
}

// Save writes the status file crash-safely: temp file, fsync, rename.
func (f *Folder) Save(ctx context.Context) error {
	var buf bytes.Buffer
	buf.WriteString(magicHeader)
	buf.WriteByte('\n')
	if f.hasValidity {
		fmt.Fprintf(&buf, "uidvalidity %d\n", f.validity)
	}

	uids := make([]models.UID, 0, len(f.messages))
	for uid := range f.messages {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	for _, uid := range uids {
		flags := f.messages[uid]
		if len(flags) == 0 {
			fmt.Fprintf(&buf, "%d\n", uint64(uid))
		} else {
			fmt.Fprintf(&buf, "%d %s\n", uint64(uid), flags.String())
		}
	}

	if err := utils.EnsureDir(f.root, 0o700); err != nil {
		return errors.Wrapf(err, "creating status dir %s", f.root)
	}
	if err := utils.WriteFileAtomic(f.path(), buf.Bytes(), 0o600); err != nil {
		return errors.Wrapf(err, "saving status file %s", f.path())
	}
	return nil
}
