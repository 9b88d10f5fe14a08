package interfaces

import "time"

// Sleep return codes for UI.Sleep.
const (
	SleepWake      = 0 // timer elapsed, start the next pass
	SleepTerminate = 2 // user asked to stop, no further pass
)

// UI is the sink every worker reports progress and errors to. The core
// never prints directly; a UI implementation decides how events reach
// the user.
type UI interface {
	Banner()
	AddDebug(tag string)

	// Acct announces that the named account is being synced.
	Acct(name string)

	// SyncFolders announces folder-structure replication between stores.
	SyncFolders(remoteRepo, localRepo string)

	// SyncingFolder announces the start of one folder reconciliation.
	SyncingFolder(remoteRepo, remoteFolder, localRepo, localFolder string)

	LoadMessageList(repo, folder string)
	MessageListLoaded(repo, folder string, count int)
	SyncingMessages(srcRepo, srcFolder, dstRepo, dstFolder string)

	// ValidityProblem reports a UID-validity mismatch that caused the
	// folder to be skipped.
	ValidityProblem(folder string, localValidity, remoteValidity int64)

	// WorkerException reports an unexpected failure inside a pool worker.
	WorkerException(worker string, err error)

	// WorkerExited reports a normal worker exit.
	WorkerExited(worker string)

	// MainException reports a failure on the main goroutine.
	MainException(err error)

	// Terminate ends the session on the user-visible side. Implementations
	// exit the process with code 0.
	Terminate()

	// Sleep blocks for d or until the user requests termination, and
	// returns SleepWake or SleepTerminate.
	Sleep(d time.Duration) int

	// GetPass interactively asks for the account's password.
	GetPass(account string) (string, error)
}
