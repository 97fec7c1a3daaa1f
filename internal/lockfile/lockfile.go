// Package lockfile guards a database directory against being opened by
// more than one process at once ("Opening the same path
// twice in one process is an error; the file layer assumes a single
// writer"). Grounded on platform/internal/services' session
// idiom of stamping a uuid.New() token to identify an owner, applied here
// to a sidecar lock file instead of a session record.
package lockfile

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/petitan/ironbase/internal/ironerr"
)

// Lock represents an acquired advisory lock on a database directory. It
// is not a kernel-level flock: the guarantee is cooperative, matching the
// embedded, single-process deployment model this store assumes.
type Lock struct {
	path  string
	token string
}

// Acquire creates path exclusively, stamping it with a fresh token, and
// fails if it already exists (another open database, or a stale lock
// left by an unclean shutdown that the caller should investigate before
// forcing past it).
func Acquire(path string) (*Lock, error) {
	token := uuid.New().String()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ironerr.Wrap(ironerr.CodeInvalidHandle,
				fmt.Errorf("lockfile: %s is already held (database already open, or a stale lock from an unclean shutdown)", path))
		}
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	defer f.Close()

	if _, err := f.WriteString(token); err != nil {
		os.Remove(path)
		return nil, ironerr.Wrap(ironerr.CodeIoError, err)
	}
	return &Lock{path: path, token: token}, nil
}

// Release removes the lock file, but only if it still carries this
// Lock's token — guarding against releasing a lock that was force-removed
// and re-acquired by another process in the meantime.
func (l *Lock) Release() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ironerr.Wrap(ironerr.CodeIoError, err)
	}
	if string(data) != l.token {
		return ironerr.Wrap(ironerr.CodeInvalidHandle,
			fmt.Errorf("lockfile: %s is no longer owned by this handle", l.path))
	}
	return os.Remove(l.path)
}
