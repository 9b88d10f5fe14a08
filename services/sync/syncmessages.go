package sync

import (
	"context"
	"sort"

	"github.com/mailmirror/mailmirror/interfaces"
	"github.com/mailmirror/mailmirror/internal/logger"
	"github.com/mailmirror/mailmirror/internal/models"
)

// SyncMessagesTo propagates src's message presence and flags toward dst.
// The comparison is src versus dst, but the writes land on the targets:
// every folder in alsoUpdate, or dst itself when alsoUpdate is empty.
//
// Messages known to src but not to dst are copied. When a target hands
// back a different UID than the one offered (the server assigning a real
// UID to a provisional local one), src and the targets written so far are
// rewritten to the new UID before the remaining targets see the message.
//
// Messages known to both get their flag difference applied as separate
// add and remove sets, never as a whole-flagset overwrite. Messages known
// only to dst are left alone; deletions travel exclusively through
// SyncMessagesToDelete.
func SyncMessagesTo(ctx context.Context, log logger.Logger, src, dst interfaces.Folder, alsoUpdate []interfaces.Folder) error {
	targets := alsoUpdate
	if len(targets) == 0 {
		targets = []interfaces.Folder{dst}
	}

	srcList := src.MessageList()
	dstList := dst.MessageList()

	uids := make([]models.UID, 0, len(srcList))
	for uid := range srcList {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	for _, uid := range uids {
		if _, ok := dstList[uid]; ok {
			continue
		}
		if err := copyMessage(ctx, log, src, uid, targets); err != nil {
			return err
		}
	}

	for _, uid := range uids {
		dstFlags, ok := dstList[uid]
		if !ok {
			continue
		}
		srcFlags := srcList[uid]
		added, removed := srcFlags.Diff(dstFlags)
		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		for _, target := range targets {
			if len(added) > 0 {
				if err := target.AddMessageFlags(ctx, uid, added); err != nil {
					return err
				}
			}
			if len(removed) > 0 {
				if err := target.RemoveMessageFlags(ctx, uid, removed); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// copyMessage reads one message out of src and appends it to every
// target in order, tracking the UID rewrite a server-side append causes.
func copyMessage(ctx context.Context, log logger.Logger, src interfaces.Folder, uid models.UID, targets []interfaces.Folder) error {
	flags := src.MessageList()[uid].Clone()
	body, err := src.ReadMessage(ctx, uid)
	if err != nil {
		return err
	}

	effective := uid
	for i, target := range targets {
		newUID, err := target.AppendMessage(ctx, effective, flags, body)
		if err != nil {
			return err
		}
		if newUID == effective {
			continue
		}
		log.Debugf("folder %s: uid %d assigned %d by %s", src.Name(), uint64(effective), uint64(newUID), target.Name())
		if err := src.ChangeMessageUID(ctx, effective, newUID); err != nil {
			return err
		}
		for _, earlier := range targets[:i] {
			if err := earlier.ChangeMessageUID(ctx, effective, newUID); err != nil {
				return err
			}
		}
		effective = newUID
	}
	return nil
}

// SyncMessagesToDelete propagates deletions from src: a UID that src no
// longer holds but every target still does is removed from all targets.
// Requiring the UID in every target keeps never-uploaded local mail safe,
// since a message absent from the status target was never reconciled and
// must be treated as new, not as remotely deleted.
func SyncMessagesToDelete(ctx context.Context, log logger.Logger, src, dst interfaces.Folder, alsoUpdate []interfaces.Folder) error {
	targets := alsoUpdate
	if len(targets) == 0 {
		targets = []interfaces.Folder{dst}
	}

	srcList := src.MessageList()
	var deletelist []models.UID
	for uid := range targets[0].MessageList() {
		if _, ok := srcList[uid]; ok {
			continue
		}
		everywhere := true
		for _, target := range targets[1:] {
			if _, ok := target.MessageList()[uid]; !ok {
				everywhere = false
				break
			}
		}
		if everywhere {
			deletelist = append(deletelist, uid)
		}
	}
	if len(deletelist) == 0 {
		return nil
	}
	sort.Slice(deletelist, func(i, j int) bool { return deletelist[i] < deletelist[j] })

	log.Debugf("folder %s: deleting %d messages gone from source", dst.Name(), len(deletelist))
	for _, target := range targets {
		if err := target.DeleteMessages(ctx, deletelist); err != nil {
			return err
		}
	}
	return nil
}
