package sync

import (
	"context"
	"strings"

	"github.com/mailmirror/mailmirror/interfaces"
	"github.com/mailmirror/mailmirror/internal/logger"
	"github.com/mailmirror/mailmirror/internal/mbnames"
	"github.com/mailmirror/mailmirror/internal/tracing"
)

// SyncFolder reconciles one remote folder against its local mirror and
// the durable status record. A UID-validity mismatch on non-empty state
// skips the folder; every other failure propagates to the worker.
func SyncFolder(
	ctx context.Context,
	log logger.Logger,
	ui interfaces.UI,
	mailboxes *mbnames.Collector,
	account string,
	remoteRepo, localRepo, statusRepo interfaces.Repository,
	remoteFolder interfaces.Folder,
) error {
	span, ctx := tracing.StartSpanFromContext(ctx, "sync.SyncFolder")
	defer span.Finish()
	tracing.SetDefaultSyncSpanTags(ctx, span)
	tracing.TagAccount(span, account)
	tracing.TagFolder(span, remoteFolder.Name())

	// Folder names map between stores by separator substitution.
	localName := mapFolderName(remoteFolder.Name(), remoteFolder.Separator(), localRepo.Separator())
	statusName := mapFolderName(remoteFolder.Name(), remoteFolder.Separator(), statusRepo.Separator())

	mailboxes.Add(account, localName)

	localFolder, err := localRepo.GetFolder(ctx, localName)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	statusFolder, err := statusRepo.GetFolder(ctx, statusName)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	ui.SyncingFolder(remoteRepo.Name(), remoteFolder.Name(), localRepo.Name(), localName)

	ui.LoadMessageList(localRepo.Name(), localName)
	if err := localFolder.CacheMessageList(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	ui.MessageListLoaded(localRepo.Name(), localName, len(localFolder.MessageList()))

	// A local folder without a recorded validity has never been synced;
	// any status left behind under its name is stale and must not be
	// mistaken for reconciliation history.
	_, hasLocalValidity, err := localFolder.UIDValidity(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !hasLocalValidity {
		if err := statusFolder.DeleteMessageList(ctx); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	if err := statusFolder.CacheMessageList(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	// Some servers lose UID validity on empty folders; adopting the new
	// epoch is safe only while there is nothing at risk on our side.
	if len(localFolder.MessageList()) > 0 || len(statusFolder.MessageList()) > 0 {
		ok, err := localFolder.IsUIDValidityOK(ctx, remoteFolder)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if !ok {
			localValidity, _, _ := localFolder.UIDValidity(ctx)
			remoteValidity, _, _ := remoteFolder.UIDValidity(ctx)
			ui.ValidityProblem(remoteFolder.Name(), localValidity, remoteValidity)
			return nil
		}
	}
	remoteValidity, ok, err := remoteFolder.UIDValidity(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if ok {
		if err := localFolder.SaveUIDValidity(ctx, remoteValidity); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if err := statusFolder.SaveUIDValidity(ctx, remoteValidity); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}

	ui.LoadMessageList(remoteRepo.Name(), remoteFolder.Name())
	if err := remoteFolder.CacheMessageList(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	ui.MessageListLoaded(remoteRepo.Name(), remoteFolder.Name(), len(remoteFolder.MessageList()))

	// With prior status, deletions must run before any flag propagation:
	// a message flag-edited locally but deleted remotely would otherwise
	// be treated as new local mail and re-uploaded.
	if !statusFolder.IsNewFolder() {
		ui.SyncingMessages(remoteRepo.Name(), remoteFolder.Name(), localRepo.Name(), localName)
		alsoLocalStatus := []interfaces.Folder{localFolder, statusFolder}
		if err := SyncMessagesToDelete(ctx, log, remoteFolder, localFolder, alsoLocalStatus); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		alsoRemoteStatus := []interfaces.Folder{remoteFolder, statusFolder}
		if err := SyncMessagesTo(ctx, log, localFolder, statusFolder, alsoRemoteStatus); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}

	ui.SyncingMessages(localRepo.Name(), localName, remoteRepo.Name(), remoteFolder.Name())
	if err := SyncMessagesTo(ctx, log, remoteFolder, localFolder, nil); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	// Rebuild the status record from the reconciled local view, then make
	// everything durable.
	if err := SyncMessagesTo(ctx, log, localFolder, statusFolder, nil); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := localFolder.Save(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := statusFolder.Save(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func mapFolderName(name string, from, to rune) string {
	if from == to {
		return name
	}
	return strings.ReplaceAll(name, string(from), string(to))
}
