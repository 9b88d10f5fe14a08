package imapstore

import (
	"bytes"
	"context"
	"io"
	"net/mail"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/pkg/errors"

	"github.com/mailmirror/mailmirror/interfaces"
	"github.com/mailmirror/mailmirror/internal/enum"
	apperrors "github.com/mailmirror/mailmirror/internal/errors"
	"github.com/mailmirror/mailmirror/internal/logger"
	"github.com/mailmirror/mailmirror/internal/models"
)

// Folder is one remote mailbox. Connections are borrowed from the
// account's pool per operation and re-selected, since a pooled
// connection may have served another folder in between.
type Folder struct {
	repo *Repository
	name string
	log  logger.Logger

	messages    map[models.UID]models.FlagSet
	validity    int64
	hasValidity bool
}

func newFolder(repo *Repository, name string, log logger.Logger) *Folder {
	return &Folder{
		repo:     repo,
		name:     name,
		log:      log,
		messages: make(map[models.UID]models.FlagSet),
	}
}

func (f *Folder) Name() string {
	return f.name
}

func (f *Folder) Separator() rune {
	return f.repo.Separator()
}

func (f *Folder) IsNewFolder() bool {
	return false
}

// withSelected borrows a connection, selects the mailbox and runs fn.
// Connections that saw a protocol error are discarded rather than
// returned to the pool.
func (f *Folder) withSelected(ctx context.Context, readOnly bool, fn func(c *client.Client, mbox *imap.MailboxStatus) error) error {
	c, err := f.repo.server.Acquire(ctx)
	if err != nil {
		return err
	}
	mbox, err := c.Select(f.name, readOnly)
	if err != nil {
		f.repo.server.Discard(c)
		return errors.Wrapf(err, "selecting mailbox %s", f.name)
	}
	f.validity = int64(mbox.UidValidity)
	f.hasValidity = true

	if err := fn(c, mbox); err != nil {
		f.repo.server.Discard(c)
		return err
	}
	f.repo.server.Release(c)
	return nil
}

func (f *Folder) CacheMessageList(ctx context.Context) error {
	return f.withSelected(ctx, true, func(c *client.Client, mbox *imap.MailboxStatus) error {
		f.messages = make(map[models.UID]models.FlagSet)
		if mbox.Messages == 0 {
			return nil
		}

		seqset := new(imap.SeqSet)
		seqset.AddRange(1, mbox.Messages)
		items := []imap.FetchItem{imap.FetchFlags, imap.FetchUid}

		ch := make(chan *imap.Message, 64)
		done := make(chan error, 1)
		go func() {
			done <- c.Fetch(seqset, items, ch)
		}()
		for msg := range ch {
			f.messages[models.UID(msg.Uid)] = flagsFromIMAP(msg.Flags)
		}
		return errors.Wrapf(<-done, "fetching flags for mailbox %s", f.name)
	})
}

func (f *Folder) MessageList() map[models.UID]models.FlagSet {
	return f.messages
}

func (f *Folder) UIDValidity(ctx context.Context) (int64, bool, error) {
	if f.hasValidity {
		return f.validity, true, nil
	}
	err := f.withSelected(ctx, true, func(c *client.Client, mbox *imap.MailboxStatus) error {
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return f.validity, f.hasValidity, nil
}

func (f *Folder) SaveUIDValidity(ctx context.Context, validity int64) error {
	return errors.New("UID validity is owned by the IMAP server")
}

func (f *Folder) IsUIDValidityOK(ctx context.Context, other interfaces.Folder) (bool, error) {
	theirs, ok, err := other.UIDValidity(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	mine, _, err := f.UIDValidity(ctx)
	if err != nil {
		return false, err
	}
	if mine != theirs {
		return false, errors.Wrapf(apperrors.ErrUIDValidity, "mailbox %s: have %d, recorded %d", f.name, mine, theirs)
	}
	return true, nil
}

func (f *Folder) DeleteMessageList(ctx context.Context) error {
	return errors.New("refusing to drop a remote mailbox's message list")
}

func (f *Folder) ReadMessage(ctx context.Context, uid models.UID) ([]byte, error) {
	var body []byte
	err := f.withSelected(ctx, true, func(c *client.Client, mbox *imap.MailboxStatus) error {
		seqset := new(imap.SeqSet)
		seqset.AddNum(uint32(uid))
		section := &imap.BodySectionName{Peek: true}
		items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

		ch := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqset, items, ch)
		}()
		for msg := range ch {
			r := msg.GetBody(section)
			if r == nil {
				continue
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return errors.Wrapf(err, "reading uid %d from mailbox %s", uid, f.name)
			}
			body = data
		}
		if err := <-done; err != nil {
			return errors.Wrapf(err, "fetching uid %d from mailbox %s", uid, f.name)
		}
		if body == nil {
			return errors.Wrapf(apperrors.ErrUnknownUID, "mailbox %s uid %d", f.name, uid)
		}
		return nil
	})
	return body, err
}

// AppendMessage uploads the message and reports the UID the server
// assigned. The provisional uid passed in is discarded. The assigned
// UID is recovered by bracketing the append with UIDNEXT and searching
// that range, narrowed by Message-Id when the message carries one.
func (f *Folder) AppendMessage(ctx context.Context, uid models.UID, flags models.FlagSet, body []byte) (models.UID, error) {
	var assigned models.UID
	err := f.withSelected(ctx, false, func(c *client.Client, mbox *imap.MailboxStatus) error {
		uidNext := mbox.UidNext

		err := c.Append(f.name, flagsToIMAP(flags), time.Now(), bytes.NewBuffer(body))
		if err != nil {
			return errors.Wrapf(err, "appending to mailbox %s", f.name)
		}

		criteria := imap.NewSearchCriteria()
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(uidNext, 0)
		if mid := messageID(body); mid != "" {
			criteria.Header.Add("Message-Id", mid)
		}

		uids, err := c.UidSearch(criteria)
		if err != nil {
			return errors.Wrapf(err, "locating appended message in mailbox %s", f.name)
		}
		if len(uids) == 0 {
			return errors.Errorf("mailbox %s: appended message not found at or above uid %d", f.name, uidNext)
		}
		// Take the highest match; earlier ones are duplicates that were
		// already present.
		max := uids[0]
		for _, u := range uids[1:] {
			if u > max {
				max = u
			}
		}
		assigned = models.UID(max)
		f.messages[assigned] = flags.Clone()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return assigned, nil
}

// DeleteMessages flags the UIDs \Deleted and expunges.
func (f *Folder) DeleteMessages(ctx context.Context, uids []models.UID) error {
	if len(uids) == 0 {
		return nil
	}
	return f.withSelected(ctx, false, func(c *client.Client, mbox *imap.MailboxStatus) error {
		seqset := new(imap.SeqSet)
		for _, uid := range uids {
			seqset.AddNum(uint32(uid))
		}
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return errors.Wrapf(err, "marking messages deleted in mailbox %s", f.name)
		}
		if err := c.Expunge(nil); err != nil {
			return errors.Wrapf(err, "expunging mailbox %s", f.name)
		}
		for _, uid := range uids {
			delete(f.messages, uid)
		}
		return nil
	})
}

func (f *Folder) AddMessageFlags(ctx context.Context, uid models.UID, flags models.FlagSet) error {
	return f.storeFlags(ctx, uid, flags, imap.AddFlags)
}

func (f *Folder) RemoveMessageFlags(ctx context.Context, uid models.UID, flags models.FlagSet) error {
	return f.storeFlags(ctx, uid, flags, imap.RemoveFlags)
}

func (f *Folder) storeFlags(ctx context.Context, uid models.UID, flags models.FlagSet, op imap.FlagsOp) error {
	if len(flags) == 0 {
		return nil
	}
	return f.withSelected(ctx, false, func(c *client.Client, mbox *imap.MailboxStatus) error {
		seqset := new(imap.SeqSet)
		seqset.AddNum(uint32(uid))
		item := imap.FormatFlagsOp(op, true)
		args := make([]interface{}, 0, len(flags))
		for _, s := range flagsToIMAP(flags) {
			args = append(args, s)
		}
		if err := c.UidStore(seqset, item, args, nil); err != nil {
			return errors.Wrapf(err, "storing flags on uid %d in mailbox %s", uid, f.name)
		}

		existing, ok := f.messages[uid]
		if !ok {
			return nil
		}
		for flag := range flags {
			if op == imap.AddFlags {
				existing.Add(flag)
			} else {
				existing.Remove(flag)
			}
		}
		return nil
	})
}

// ChangeMessageUID only adjusts the cached list. Server-side UIDs are
// immutable.
func (f *Folder) ChangeMessageUID(ctx context.Context, oldUID, newUID models.UID) error {
	flags, ok := f.messages[oldUID]
	if !ok {
		return nil
	}
	delete(f.messages, oldUID)
	f.messages[newUID] = flags
	return nil
}

// Save is a no-op: every mutation above was already pushed to the
// server.
func (f *Folder) Save(ctx context.Context) error {
	return nil
}

func messageID(body []byte) string {
	msg, err := mail.ReadMessage(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return msg.Header.Get("Message-Id")
}

func flagsFromIMAP(raw []string) models.FlagSet {
	flags := models.NewFlagSet()
	for _, s := range raw {
		switch s {
		case imap.SeenFlag:
			flags.Add(enum.FlagSeen)
		case imap.AnsweredFlag:
			flags.Add(enum.FlagAnswered)
		case imap.FlaggedFlag:
			flags.Add(enum.FlagFlagged)
		case imap.DeletedFlag:
			flags.Add(enum.FlagDeleted)
		case imap.DraftFlag:
			flags.Add(enum.FlagDraft)
		}
	}
	return flags
}

func flagsToIMAP(flags models.FlagSet) []string {
	out := make([]string, 0, len(flags))
	if flags.Has(enum.FlagSeen) {
		out = append(out, imap.SeenFlag)
	}
	if flags.Has(enum.FlagAnswered) {
		out = append(out, imap.AnsweredFlag)
	}
	if flags.Has(enum.FlagFlagged) {
		out = append(out, imap.FlaggedFlag)
	}
	if flags.Has(enum.FlagDeleted) {
		out = append(out, imap.DeletedFlag)
	}
	if flags.Has(enum.FlagDraft) {
		out = append(out, imap.DraftFlag)
	}
	return out
}
