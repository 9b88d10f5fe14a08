package maildirstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmirror/mailmirror/internal/enum"
	"github.com/mailmirror/mailmirror/internal/logger"
	"github.com/mailmirror/mailmirror/internal/models"
)

const sampleMail = "From: a@example.org\r\nSubject: hi\r\n\r\nbody\r\n"

func testLogger() logger.Logger {
	log := logger.NewAppLogger(&logger.Config{LogLevel: "debug", DevMode: true})
	log.InitLogger()
	return log
}

func newTestRepo(t *testing.T) (*Repository, string) {
	t.Helper()
	root := t.TempDir()
	return NewRepository(root, testLogger()), root
}

func TestRepository_MakeAndListFolders(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	require.NoError(t, repo.MakeFolder(ctx, "INBOX"))
	require.NoError(t, repo.MakeFolder(ctx, "INBOX.Sent"))
	// Creating an existing folder is a no-op.
	require.NoError(t, repo.MakeFolder(ctx, "INBOX"))

	folders, err := repo.GetFolders(ctx)
	require.NoError(t, err)

	var names []string
	for _, f := range folders {
		names = append(names, f.Name())
	}
	assert.ElementsMatch(t, []string{"INBOX", "INBOX.Sent"}, names)
}

func TestFolder_AppendAndReadBack(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRepo(t)
	f := newFolder(root, "INBOX", testLogger())
	require.NoError(t, f.CacheMessageList(ctx))

	uid, err := f.AppendMessage(ctx, 12, models.NewFlagSet(enum.FlagSeen), []byte(sampleMail))
	require.NoError(t, err)
	assert.Equal(t, models.UID(12), uid)

	body, err := f.ReadMessage(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, sampleMail, string(body))
	assert.True(t, f.MessageList()[12].Has(enum.FlagSeen))

	// A fresh handle finds the message under the same UID via the
	// sidecar map.
	reread := newFolder(root, "INBOX", testLogger())
	require.NoError(t, reread.CacheMessageList(ctx))
	list := reread.MessageList()
	require.Contains(t, list, models.UID(12))
	assert.True(t, list[12].Has(enum.FlagSeen))
}

func TestFolder_UnmappedMessagesGetProvisionalUIDs(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRepo(t)

	writer := newFolder(root, "INBOX", testLogger())
	require.NoError(t, writer.CacheMessageList(ctx))
	_, err := writer.AppendMessage(ctx, 3, models.NewFlagSet(), []byte(sampleMail))
	require.NoError(t, err)

	// Drop the sidecar map: the message is still on disk but now unknown.
	require.NoError(t, os.Remove(filepath.Join(root, "INBOX", uidMapFile)))

	reread := newFolder(root, "INBOX", testLogger())
	require.NoError(t, reread.CacheMessageList(ctx))

	list := reread.MessageList()
	require.Len(t, list, 1)
	for uid := range list {
		assert.True(t, uid.IsLocal(), "uid %d should be provisional", uint64(uid))
	}
}

func TestFolder_ChangeMessageUIDPersists(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRepo(t)
	f := newFolder(root, "INBOX", testLogger())
	require.NoError(t, f.CacheMessageList(ctx))

	provisional := models.NewLocalUID(1)
	_, err := f.AppendMessage(ctx, provisional, models.NewFlagSet(), []byte(sampleMail))
	require.NoError(t, err)
	require.NoError(t, f.ChangeMessageUID(ctx, provisional, 7))

	reread := newFolder(root, "INBOX", testLogger())
	require.NoError(t, reread.CacheMessageList(ctx))
	assert.Contains(t, reread.MessageList(), models.UID(7))
}

func TestFolder_FlagOperations(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRepo(t)
	f := newFolder(root, "INBOX", testLogger())
	require.NoError(t, f.CacheMessageList(ctx))

	_, err := f.AppendMessage(ctx, 1, models.NewFlagSet(enum.FlagSeen), []byte(sampleMail))
	require.NoError(t, err)

	require.NoError(t, f.AddMessageFlags(ctx, 1, models.NewFlagSet(enum.FlagFlagged)))
	require.NoError(t, f.RemoveMessageFlags(ctx, 1, models.NewFlagSet(enum.FlagSeen)))

	flags := f.MessageList()[1]
	assert.True(t, flags.Has(enum.FlagFlagged))
	assert.False(t, flags.Has(enum.FlagSeen))

	// Flags live in the maildir filename, not just in memory.
	reread := newFolder(root, "INBOX", testLogger())
	require.NoError(t, reread.CacheMessageList(ctx))
	flags = reread.MessageList()[1]
	assert.True(t, flags.Has(enum.FlagFlagged))
	assert.False(t, flags.Has(enum.FlagSeen))
}

func TestFolder_DeleteMessages(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRepo(t)
	f := newFolder(root, "INBOX", testLogger())
	require.NoError(t, f.CacheMessageList(ctx))

	_, err := f.AppendMessage(ctx, 1, models.NewFlagSet(), []byte(sampleMail))
	require.NoError(t, err)
	_, err = f.AppendMessage(ctx, 2, models.NewFlagSet(), []byte(sampleMail))
	require.NoError(t, err)

	require.NoError(t, f.DeleteMessages(ctx, []models.UID{1}))

	reread := newFolder(root, "INBOX", testLogger())
	require.NoError(t, reread.CacheMessageList(ctx))
	list := reread.MessageList()
	assert.NotContains(t, list, models.UID(1))
	assert.Contains(t, list, models.UID(2))
}

func TestFolder_UIDValidityPersists(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRepo(t)
	f := newFolder(root, "INBOX", testLogger())

	_, ok, err := f.UIDValidity(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.SaveUIDValidity(ctx, 99))

	reread := newFolder(root, "INBOX", testLogger())
	validity, ok, err := reread.UIDValidity(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(99), validity)
}
