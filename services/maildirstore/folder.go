package maildirstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-maildir"
	"github.com/pkg/errors"

	"github.com/mailmirror/mailmirror/interfaces"
	"github.com/mailmirror/mailmirror/internal/enum"
	apperrors "github.com/mailmirror/mailmirror/internal/errors"
	"github.com/mailmirror/mailmirror/internal/logger"
	"github.com/mailmirror/mailmirror/internal/models"
	"github.com/mailmirror/mailmirror/internal/utils"
)

const (
	uidMapFile      = ".mailmirror-uidmap"
	uidValidityFile = ".uidvalidity"
)

// Folder is one maildir on disk. Maildir has no native UID concept, so
// the folder keeps a sidecar map from IMAP UID to maildir key; messages
// on disk with no map entry are treated as new local mail and carry a
// provisional UID until they have been uploaded.
type Folder struct {
	root string
	name string
	log  logger.Logger

	dir      maildir.Dir
	messages map[models.UID]models.FlagSet
	byUID    map[models.UID]*maildir.Message
	uidToKey map[models.UID]string

	validity     int64
	hasValidity  bool
	validityRead bool

	nextLocalSeq uint64
}

func newFolder(root, name string, log logger.Logger) *Folder {
	path := filepath.Join(root, name)
	return &Folder{
		root:     root,
		name:     name,
		log:      log,
		dir:      maildir.Dir(path),
		messages: make(map[models.UID]models.FlagSet),
		byUID:    make(map[models.UID]*maildir.Message),
		uidToKey: make(map[models.UID]string),
	}
}

func (f *Folder) path() string {
	return string(f.dir)
}

func (f *Folder) Name() string {
	return f.name
}

func (f *Folder) Separator() rune {
	return Separator
}

func (f *Folder) IsNewFolder() bool {
	return false
}

func (f *Folder) ensureDir() error {
	if isMaildir(f.path()) {
		return nil
	}
	if err := os.MkdirAll(f.path(), 0o700); err != nil {
		return errors.Wrapf(err, "creating maildir %s", f.path())
	}
	return errors.Wrapf(f.dir.Init(), "initializing maildir %s", f.path())
}

// CacheMessageList scans the maildir and pairs each message with its
// UID from the sidecar map. Messages in new/ are moved to cur/ first;
// unmapped messages get provisional local UIDs. Map entries whose
// message vanished from disk are dropped.
func (f *Folder) CacheMessageList(ctx context.Context) error {
	if err := f.ensureDir(); err != nil {
		return err
	}

	keyToUID, err := f.readUIDMap()
	if err != nil {
		return err
	}

	// Unseen moves everything from new/ into cur/.
	if _, err := f.dir.Unseen(); err != nil {
		return errors.Wrapf(err, "scanning %s/new", f.path())
	}
	msgs, err := f.dir.Messages()
	if err != nil {
		return errors.Wrapf(err, "scanning %s", f.path())
	}

	f.messages = make(map[models.UID]models.FlagSet, len(msgs))
	f.byUID = make(map[models.UID]*maildir.Message, len(msgs))
	f.uidToKey = make(map[models.UID]string, len(msgs))

	for _, msg := range msgs {
		key := msg.Key()
		uid, ok := keyToUID[key]
		if !ok {
			f.nextLocalSeq++
			uid = models.NewLocalUID(f.nextLocalSeq)
		}
		f.messages[uid] = flagsFromMaildir(msg.Flags())
		f.byUID[uid] = msg
		f.uidToKey[uid] = key
	}

	return f.writeUIDMap()
}

func (f *Folder) MessageList() map[models.UID]models.FlagSet {
	return f.messages
}

func (f *Folder) UIDValidity(ctx context.Context) (int64, bool, error) {
	if f.validityRead {
		return f.validity, f.hasValidity, nil
	}
	data, err := os.ReadFile(filepath.Join(f.path(), uidValidityFile))
	if err != nil {
		if os.IsNotExist(err) {
			f.validityRead = true
			return 0, false, nil
		}
		return 0, false, errors.Wrapf(err, "reading uidvalidity for %s", f.name)
	}
	validity, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "parsing uidvalidity for %s", f.name)
	}
	f.validity = validity
	f.hasValidity = true
	f.validityRead = true
	return validity, true, nil
}

func (f *Folder) SaveUIDValidity(ctx context.Context, validity int64) error {
	if err := f.ensureDir(); err != nil {
		return err
	}
	data := []byte(fmt.Sprintf("%d\n", validity))
	if err := utils.WriteFileAtomic(filepath.Join(f.path(), uidValidityFile), data, 0o600); err != nil {
		return errors.Wrapf(err, "saving uidvalidity for %s", f.name)
	}
	f.validity = validity
	f.hasValidity = true
	f.validityRead = true
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

func (f *Folder) DeleteMessageList(ctx context.Context) error {
	return errors.New("maildir folders do not support dropping all records")
}

func (f *Folder) ReadMessage(ctx context.Context, uid models.UID) ([]byte, error) {
	msg, ok := f.byUID[uid]
	if !ok {
		return nil, errors.Wrapf(apperrors.ErrUnknownUID, "maildir %s uid %d", f.name, uid)
	}
	rc, err := msg.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "opening message %d in %s", uid, f.name)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	return body, errors.Wrapf(err, "reading message %d in %s", uid, f.name)
}

// AppendMessage delivers body into the maildir and records it under uid.
// The key of the delivered file is found by diffing new/ around the
// delivery, then the message is moved to cur/ with its flags set.
func (f *Folder) AppendMessage(ctx context.Context, uid models.UID, flags models.FlagSet, body []byte) (models.UID, error) {
	if err := f.ensureDir(); err != nil {
		return 0, err
	}

	before, err := f.newKeys()
	if err != nil {
		return 0, err
	}

	delivery, err := maildir.NewDelivery(f.path())
	if err != nil {
		return 0, errors.Wrapf(err, "starting delivery into %s", f.name)
	}
	if _, err := io.Copy(delivery, bytes.NewReader(body)); err != nil {
		_ = delivery.Abort()
		return 0, errors.Wrapf(err, "writing delivery into %s", f.name)
	}
	if err := delivery.Close(); err != nil {
		return 0, errors.Wrapf(err, "finishing delivery into %s", f.name)
	}

	after, err := f.newKeys()
	if err != nil {
		return 0, err
	}
	var key string
	for k := range after {
		if !before[k] {
			key = k
			break
		}
	}
	if key == "" {
		return 0, errors.Errorf("delivered message not found in %s/new", f.path())
	}

	if _, err := f.dir.Unseen(); err != nil {
		return 0, errors.Wrapf(err, "moving delivery to %s/cur", f.path())
	}
	msg, err := f.findMessage(key)
	if err != nil {
		return 0, err
	}
	if len(flags) > 0 {
		if err := msg.SetFlags(flagsToMaildir(flags)); err != nil {
			return 0, errors.Wrapf(err, "setting flags on %s in %s", key, f.name)
		}
	}

	f.messages[uid] = flags.Clone()
	f.byUID[uid] = msg
	f.uidToKey[uid] = key
	return uid, f.writeUIDMap()
}

func (f *Folder) DeleteMessages(ctx context.Context, uids []models.UID) error {
	for _, uid := range uids {
		msg, ok := f.byUID[uid]
		if !ok {
			continue
		}
		if err := msg.Remove(); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "removing message %d from %s", uid, f.name)
		}
		delete(f.messages, uid)
		delete(f.byUID, uid)
		delete(f.uidToKey, uid)
	}
	return f.writeUIDMap()
}

func (f *Folder) AddMessageFlags(ctx context.Context, uid models.UID, flags models.FlagSet) error {
	existing, ok := f.messages[uid]
	if !ok {
		return errors.Wrapf(apperrors.ErrUnknownUID, "maildir %s uid %d", f.name, uid)
	}
	merged := existing.Clone()
	for flag := range flags {
		merged.Add(flag)
	}
	return f.applyFlags(uid, merged)
}

func (f *Folder) RemoveMessageFlags(ctx context.Context, uid models.UID, flags models.FlagSet) error {
	existing, ok := f.messages[uid]
	if !ok {
		return errors.Wrapf(apperrors.ErrUnknownUID, "maildir %s uid %d", f.name, uid)
	}
	merged := existing.Clone()
	for flag := range flags {
		merged.Remove(flag)
	}
	return f.applyFlags(uid, merged)
}

func (f *Folder) applyFlags(uid models.UID, flags models.FlagSet) error {
	msg := f.byUID[uid]
	if err := msg.SetFlags(flagsToMaildir(flags)); err != nil {
		return errors.Wrapf(err, "setting flags on %d in %s", uid, f.name)
	}
	f.messages[uid] = flags
	return nil
}

// ChangeMessageUID rewrites a provisional UID to the server-assigned one
// after an upload. Only then does the sidecar map learn about the file.
func (f *Folder) ChangeMessageUID(ctx context.Context, oldUID, newUID models.UID) error {
	key, ok := f.uidToKey[oldUID]
	if !ok {
		return nil
	}
	f.uidToKey[newUID] = key
	f.byUID[newUID] = f.byUID[oldUID]
	f.messages[newUID] = f.messages[oldUID]
	delete(f.uidToKey, oldUID)
	delete(f.byUID, oldUID)
	delete(f.messages, oldUID)
	return f.writeUIDMap()
}

func (f *Folder) Save(ctx context.Context) error {
	return f.writeUIDMap()
}

func (f *Folder) newKeys() (map[string]bool, error) {
	entries, err := os.ReadDir(filepath.Join(f.path(), "new"))
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s/new", f.path())
	}
	keys := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if idx := strings.Index(name, maildirInfoSep); idx >= 0 {
			name = name[:idx]
		}
		keys[name] = true
	}
	return keys, nil
}

func (f *Folder) findMessage(key string) (*maildir.Message, error) {
	msgs, err := f.dir.Messages()
	if err != nil {
		return nil, errors.Wrapf(err, "scanning %s", f.path())
	}
	for _, msg := range msgs {
		if msg.Key() == key {
			return msg, nil
		}
	}
	return nil, errors.Errorf("message %s not found in %s", key, f.path())
}

const maildirInfoSep = ":2,"

func (f *Folder) readUIDMap() (map[string]models.UID, error) {
	keyToUID := make(map[string]models.UID)

	file, err := os.Open(filepath.Join(f.path(), uidMapFile))
	if err != nil {
		if os.IsNotExist(err) {
			return keyToUID, nil
		}
		return nil, errors.Wrapf(err, "opening uid map for %s", f.name)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		uid, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		keyToUID[fields[1]] = models.UID(uid)
	}
	return keyToUID, errors.Wrapf(scanner.Err(), "reading uid map for %s", f.name)
}

// writeUIDMap persists the UID to key mapping. Provisional local UIDs
// are per-run and never written out.
func (f *Folder) writeUIDMap() error {
	uids := make([]models.UID, 0, len(f.uidToKey))
	for uid := range f.uidToKey {
		if uid.IsLocal() {
			continue
		}
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	var buf bytes.Buffer
	for _, uid := range uids {
		fmt.Fprintf(&buf, "%d %s\n", uint64(uid), f.uidToKey[uid])
	}
	path := filepath.Join(f.path(), uidMapFile)
	return errors.Wrapf(utils.WriteFileAtomic(path, buf.Bytes(), 0o600), "saving uid map for %s", f.name)
}

func flagsFromMaildir(flags []maildir.Flag) models.FlagSet {
	fs := models.NewFlagSet()
	for _, flag := range flags {
		switch flag {
		case maildir.FlagSeen:
			fs.Add(enum.FlagSeen)
		case maildir.FlagReplied:
			fs.Add(enum.FlagAnswered)
		case maildir.FlagFlagged:
			fs.Add(enum.FlagFlagged)
		case maildir.FlagTrashed:
			fs.Add(enum.FlagDeleted)
		case maildir.FlagDraft:
			fs.Add(enum.FlagDraft)
		}
	}
	return fs
}

func flagsToMaildir(flags models.FlagSet) []maildir.Flag {
	var out []maildir.Flag
	if flags.Has(enum.FlagDraft) {
		out = append(out, maildir.FlagDraft)
	}
	if flags.Has(enum.FlagFlagged) {
		out = append(out, maildir.FlagFlagged)
	}
	if flags.Has(enum.FlagAnswered) {
		out = append(out, maildir.FlagReplied)
	}
	if flags.Has(enum.FlagSeen) {
		out = append(out, maildir.FlagSeen)
	}
	if flags.Has(enum.FlagDeleted) {
		out = append(out, maildir.FlagTrashed)
	}
	return out
}
