package errors

import "github.com/pkg/errors"

var (
	// sync errors
	ErrUIDValidity     = errors.New("uid validity changed on non-empty folder")
	ErrFolderNotCached = errors.New("message list not cached")
	ErrUnknownUID      = errors.New("unknown uid")

	// config errors
	ErrConfigMissing  = errors.New("config file does not exist")
	ErrAccountMissing = errors.New("account section missing from config")
)

// ExitError carries a process exit code through the governor's exit-notify
// path to the main goroutine. A worker that needs the process to stop
// returns one; nothing else calls os.Exit from a worker.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "process exit requested"
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError wraps err with the exit code the process should finish with.
func NewExitError(code int, err error) *ExitError {
	return &ExitError{Code: code, Err: err}
}

// ExitCode extracts the requested exit code from err, defaulting to 100
// for any other worker failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 100
}
