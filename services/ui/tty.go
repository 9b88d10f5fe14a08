package ui

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/mailmirror/mailmirror/interfaces"
	"github.com/mailmirror/mailmirror/internal/logger"
)

const banner = "mailmirror: IMAP/Maildir synchronizer"

// New selects a UI sink by name. An empty name means the default TTY
// sink.
func New(name string, log logger.Logger) (interfaces.UI, error) {
	switch name {
	case "", "tty", "basic":
		return NewTTY(log), nil
	case "quiet":
		return NewQuiet(log), nil
	default:
		return nil, errors.Errorf("unknown ui %q", name)
	}
}

// TTY is the interactive sink: progress through the logger, passwords
// from the terminal, sleep interruptible by Ctrl-C.
type TTY struct {
	log  logger.Logger
	sigs chan os.Signal
}

func NewTTY(log logger.Logger) *TTY {
	t := &TTY{
		log:  log,
		sigs: make(chan os.Signal, 1),
	}
	signal.Notify(t.sigs, os.Interrupt)
	return t
}

func (t *TTY) Banner() {
	t.log.Info(banner)
}

func (t *TTY) AddDebug(tag string) {
	t.log.Infof("now debugging what I do: %s", tag)
}

func (t *TTY) Acct(name string) {
	t.log.Infof("***** Processing account %s", name)
}

func (t *TTY) SyncFolders(remoteRepo, localRepo string) {
	t.log.Infof("Copying folder structure from %s to %s", remoteRepo, localRepo)
}

func (t *TTY) SyncingFolder(remoteRepo, remoteFolder, localRepo, localFolder string) {
	t.log.Infof("Syncing %s[%s] -> %s[%s]", remoteRepo, remoteFolder, localRepo, localFolder)
}

func (t *TTY) LoadMessageList(repo, folder string) {
	t.log.Infof("Loading message list for %s[%s]", repo, folder)
}

func (t *TTY) MessageListLoaded(repo, folder string, count int) {
	t.log.Infof("Message list for %s[%s] contains %d messages", repo, folder, count)
}

func (t *TTY) SyncingMessages(srcRepo, srcFolder, dstRepo, dstFolder string) {
	t.log.Infof("Syncing messages %s[%s] -> %s[%s]", srcRepo, srcFolder, dstRepo, dstFolder)
}

func (t *TTY) ValidityProblem(folder string, localValidity, remoteValidity int64) {
	t.log.Warnf("UID validity problem for folder %s (local %d, remote %d); skipped", folder, localValidity, remoteValidity)
}

func (t *TTY) WorkerException(worker string, err error) {
	t.log.Errorf("worker %s raised: %+v", worker, err)
}

func (t *TTY) WorkerExited(worker string) {
	t.log.Debugf("worker %s finished", worker)
}

func (t *TTY) MainException(err error) {
	t.log.Errorf("main: %+v", err)
}

// Terminate ends the session on the user-visible side and exits 0. The
// termination handler behind it never runs to completion on this path.
func (t *TTY) Terminate() {
	t.log.Info("Terminating")
	os.Exit(0)
}

// Sleep waits for the next pass, waking early on Ctrl-C.
func (t *TTY) Sleep(d time.Duration) int {
	t.log.Infof("Next refresh in %.1f minutes", d.Minutes())
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return interfaces.SleepWake
	case <-t.sigs:
		return interfaces.SleepTerminate
	}
}

// GetPass prompts on the terminal without echoing.
func (t *TTY) GetPass(account string) (string, error) {
	fmt.Fprintf(os.Stderr, "Enter password for account %s: ", account)
	defer fmt.Fprintln(os.Stderr)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", errors.Wrapf(err, "reading password for account %s", account)
	}
	return string(pass), nil
}

// Quiet is the TTY sink with progress suppressed; only problems reach
// the user.
type Quiet struct {
	*TTY
}

func NewQuiet(log logger.Logger) *Quiet {
	return &Quiet{TTY: NewTTY(log)}
}

func (q *Quiet) Banner()                                        {}
func (q *Quiet) Acct(string)                                    {}
func (q *Quiet) SyncFolders(string, string)                     {}
func (q *Quiet) SyncingFolder(string, string, string, string)   {}
func (q *Quiet) LoadMessageList(string, string)                 {}
func (q *Quiet) MessageListLoaded(string, string, int)          {}
func (q *Quiet) SyncingMessages(string, string, string, string) {}
