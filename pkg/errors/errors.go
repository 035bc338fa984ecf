package errors

import (
	"errors"
	"fmt"
)

var (
	ErrCorruptIndex           = errors.New("corrupt index")
	ErrIncompatibleCheckpoint = errors.New("incompatible checkpoint")
	ErrMissingShard           = errors.New("checkpoint references missing shard")
	ErrCheckpointNotFound     = errors.New("checkpoint not found")
	ErrInvalidPattern         = errors.New("invalid pattern")
	ErrDocumentSkipped        = errors.New("document skipped")
	ErrInvalidInput           = errors.New("invalid input")
	ErrIndexNotFound          = errors.New("index not found")
)

// Exit codes returned by the command-line tools.
const (
	ExitOK       = 0
	ExitNoMatch  = 1
	ExitFailure  = 2
	ExitUsage    = 3
	ExitCorrupt  = 4
	ExitRestart  = 5
	ExitNotFound = 6
)

type AppError struct {
	Err      error
	Message  string
	ExitCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, exitCode int, message string) *AppError {
	return &AppError{
		Err:      sentinel,
		Message:  message,
		ExitCode: exitCode,
	}
}

func Newf(sentinel error, exitCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:      sentinel,
		Message:  fmt.Sprintf(format, args...),
		ExitCode: exitCode,
	}
}

// ExitCode maps an error to the process exit status used by the CLIs.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.ExitCode
	}

	switch {
	case errors.Is(err, ErrInvalidPattern), errors.Is(err, ErrInvalidInput):
		return ExitUsage
	case errors.Is(err, ErrCorruptIndex):
		return ExitCorrupt
	case errors.Is(err, ErrIncompatibleCheckpoint), errors.Is(err, ErrMissingShard):
		return ExitRestart
	case errors.Is(err, ErrIndexNotFound), errors.Is(err, ErrCheckpointNotFound):
		return ExitNotFound
	default:
		return ExitFailure
	}
}

// RequiresCleanRestart reports whether a build must discard its scratch state
// and start over instead of resuming.
func RequiresCleanRestart(err error) bool {
	return errors.Is(err, ErrIncompatibleCheckpoint) || errors.Is(err, ErrMissingShard)
}
