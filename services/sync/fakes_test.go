package sync

import (
	"context"
	"strings"
	gosync "sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mailmirror/mailmirror/interfaces"
	apperrors "github.com/mailmirror/mailmirror/internal/errors"
	"github.com/mailmirror/mailmirror/internal/logger"
	"github.com/mailmirror/mailmirror/internal/models"
)

func testLogger() logger.Logger {
	log := logger.NewAppLogger(&logger.Config{LogLevel: "debug", DevMode: true})
	log.InitLogger()
	return log
}

type memMsg struct {
	flags models.FlagSet
	body  []byte
}

// memFolder is an in-memory folder. With assignUIDs set it behaves like
// a server-backed folder: appends ignore the offered UID and hand out
// the next free one.
type memFolder struct {
	name string
	sep  rune

	msgs map[models.UID]*memMsg

	validity    int64
	hasValidity bool

	isNew      bool
	assignUIDs bool
	nextUID    uint64

	saved int
}

func newMemFolder(name string) *memFolder {
	return &memFolder{
		name: name,
		sep:  '/',
		msgs: make(map[models.UID]*memMsg),
	}
}

func (f *memFolder) put(uid models.UID, body string, flags ...string) *memFolder {
	fs := models.NewFlagSet()
	for _, name := range flags {
		fs = mergeFlag(fs, name)
	}
	f.msgs[uid] = &memMsg{flags: fs, body: []byte(body)}
	return f
}

func (f *memFolder) withValidity(v int64) *memFolder {
	f.validity = v
	f.hasValidity = true
	return f
}

func (f *memFolder) serverAt(next uint64) *memFolder {
	f.assignUIDs = true
	f.nextUID = next
	return f
}

func (f *memFolder) Name() string    { return f.name }
func (f *memFolder) Separator() rune { return f.sep }

func (f *memFolder) CacheMessageList(ctx context.Context) error { return nil }

func (f *memFolder) MessageList() map[models.UID]models.FlagSet {
	out := make(map[models.UID]models.FlagSet, len(f.msgs))
	for uid, msg := range f.msgs {
		out[uid] = msg.flags
	}
	return out
}

func (f *memFolder) UIDValidity(ctx context.Context) (int64, bool, error) {
	return f.validity, f.hasValidity, nil
}

func (f *memFolder) SaveUIDValidity(ctx context.Context, v int64) error {
	f.validity = v
	f.hasValidity = true
	return nil
}

func (f *memFolder) IsUIDValidityOK(ctx context.Context, other interfaces.Folder) (bool, error) {
	if !f.hasValidity {
		return true, nil
	}
	theirs, ok, err := other.UIDValidity(ctx)
	if err != nil {
		return false, err
	}
	return ok && theirs == f.validity, nil
}

func (f *memFolder) IsNewFolder() bool { return f.isNew }

func (f *memFolder) DeleteMessageList(ctx context.Context) error {
	f.msgs = make(map[models.UID]*memMsg)
	f.hasValidity = false
	return nil
}

func (f *memFolder) ReadMessage(ctx context.Context, uid models.UID) ([]byte, error) {
	msg, ok := f.msgs[uid]
	if !ok {
		return nil, errors.Wrapf(apperrors.ErrUnknownUID, "%s uid %d", f.name, uid)
	}
	return msg.body, nil
}

func (f *memFolder) AppendMessage(ctx context.Context, uid models.UID, flags models.FlagSet, body []byte) (models.UID, error) {
	if f.assignUIDs {
		uid = models.UID(f.nextUID)
		f.nextUID++
	}
	f.msgs[uid] = &memMsg{flags: flags.Clone(), body: body}
	return uid, nil
}

func (f *memFolder) DeleteMessages(ctx context.Context, uids []models.UID) error {
	for _, uid := range uids {
		delete(f.msgs, uid)
	}
	return nil
}

func (f *memFolder) AddMessageFlags(ctx context.Context, uid models.UID, flags models.FlagSet) error {
	msg, ok := f.msgs[uid]
	if !ok {
		return errors.Wrapf(apperrors.ErrUnknownUID, "%s uid %d", f.name, uid)
	}
	for flag := range flags {
		msg.flags.Add(flag)
	}
	return nil
}

func (f *memFolder) RemoveMessageFlags(ctx context.Context, uid models.UID, flags models.FlagSet) error {
	msg, ok := f.msgs[uid]
	if !ok {
		return errors.Wrapf(apperrors.ErrUnknownUID, "%s uid %d", f.name, uid)
	}
	for flag := range flags {
		msg.flags.Remove(flag)
	}
	return nil
}

func (f *memFolder) ChangeMessageUID(ctx context.Context, oldUID, newUID models.UID) error {
	msg, ok := f.msgs[oldUID]
	if !ok {
		return nil
	}
	delete(f.msgs, oldUID)
	f.msgs[newUID] = msg
	return nil
}

func (f *memFolder) Save(ctx context.Context) error {
	f.saved++
	f.isNew = false
	return nil
}

// memRepo hands out memFolders by name, creating missing ones on demand.
type memRepo struct {
	name    string
	sep     rune
	newBorn bool // folders created on demand start as new (status repo)

	folders map[string]*memFolder
}

func newMemRepo(name string, sep rune) *memRepo {
	return &memRepo{
		name:    name,
		sep:     sep,
		folders: make(map[string]*memFolder),
	}
}

func (r *memRepo) add(f *memFolder) *memRepo {
	f.sep = r.sep
	r.folders[f.name] = f
	return r
}

func (r *memRepo) Name() string    { return r.name }
func (r *memRepo) Separator() rune { return r.sep }

func (r *memRepo) GetFolder(ctx context.Context, name string) (interfaces.Folder, error) {
	if f, ok := r.folders[name]; ok {
		return f, nil
	}
	f := newMemFolder(name)
	f.sep = r.sep
	f.isNew = r.newBorn
	r.folders[name] = f
	return f, nil
}

func (r *memRepo) GetFolders(ctx context.Context) ([]interfaces.Folder, error) {
	out := make([]interfaces.Folder, 0, len(r.folders))
	for _, f := range r.folders {
		out = append(out, f)
	}
	return out, nil
}

func (r *memRepo) MakeFolder(ctx context.Context, name string) error {
	_, err := r.GetFolder(ctx, name)
	return err
}

func (r *memRepo) SyncFoldersTo(ctx context.Context, dst interfaces.Repository) error {
	for name := range r.folders {
		mapped := strings.ReplaceAll(name, string(r.sep), string(dst.Separator()))
		if err := dst.MakeFolder(ctx, mapped); err != nil {
			return err
		}
	}
	return nil
}

// recordingUI captures the events the engine emits.
type recordingUI struct {
	mu gosync.Mutex

	accounts         []string
	validityProblems []string
	exceptions       []error
	terminated       bool
	sleepSeq         []int
	sleeps           int
}

func (u *recordingUI) Banner()                                        {}
func (u *recordingUI) AddDebug(string)                                {}
func (u *recordingUI) SyncFolders(string, string)                     {}
func (u *recordingUI) SyncingFolder(string, string, string, string)   {}
func (u *recordingUI) LoadMessageList(string, string)                 {}
func (u *recordingUI) MessageListLoaded(string, string, int)          {}
func (u *recordingUI) SyncingMessages(string, string, string, string) {}
func (u *recordingUI) WorkerExited(string)                            {}
func (u *recordingUI) MainException(error)                            {}

func (u *recordingUI) Acct(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.accounts = append(u.accounts, name)
}

func (u *recordingUI) ValidityProblem(folder string, localValidity, remoteValidity int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.validityProblems = append(u.validityProblems, folder)
}

func (u *recordingUI) WorkerException(worker string, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.exceptions = append(u.exceptions, err)
}

func (u *recordingUI) Terminate() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.terminated = true
}

// Sleep pops the next scripted return code. An exhausted script asks
// for termination so a test can never loop forever.
func (u *recordingUI) Sleep(d time.Duration) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sleeps++
	if len(u.sleepSeq) == 0 {
		return interfaces.SleepTerminate
	}
	code := u.sleepSeq[0]
	u.sleepSeq = u.sleepSeq[1:]
	return code
}

func (u *recordingUI) sleepCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sleeps
}

func (u *recordingUI) GetPass(account string) (string, error) {
	return "", errors.New("no interactive prompt in tests")
}

func mergeFlag(fs models.FlagSet, name string) models.FlagSet {
	parsed := models.ParseFlagSet(name)
	for flag := range parsed {
		fs.Add(flag)
	}
	return fs
}
