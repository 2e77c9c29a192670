package gateway

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gridops/ferryd/pkg/types"
)

// Result codes with special meaning to the adapter.
const (
	// CodeExists is returned by a copy when the destination file
	// already exists.
	CodeExists = 17

	// CodeMissing is returned by an unlink when the target does not
	// exist.
	CodeMissing = 2

	// CodeComm signals a communication error: a failed port bind on
	// transfers, or a missing target on deletions.
	CodeComm = 70
)

// Error is a storage-library failure carrying the library's result code
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage error %d: %s", e.Code, e.Msg)
}

// CodeOf extracts the library result code from err, or -1 for errors
// that did not come from the storage library
func CodeOf(err error) int {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Code
	}
	return -1
}

// StatInfo describes a remote file
type StatInfo struct {
	Size    int64
	ModTime time.Time
}

// CopyParams are the per-call copy options
type CopyParams struct {
	CreateParents bool
	Overwrite     bool
	Checksum      *types.ChecksumSpec
	Timeout       time.Duration
}

// Context is one storage-library session. Contexts are not safe for
// concurrent use; every invocation holds its own.
type Context interface {
	Copy(src, dest string, params CopyParams) error
	Unlink(target string) error
	Stat(url string) (StatInfo, error)
	Close() error
}

// ContextOptions configure a new storage context
type ContextOptions struct {
	// Verbosity is handed to the library untouched.
	Verbosity string

	// LogSink receives the library's verbose log for this context.
	LogSink io.Writer
}

// Gateway creates storage contexts. The concrete implementation binds
// the external library; tests substitute a mock.
type Gateway interface {
	NewContext(opts ContextOptions) (Context, error)
}
