package state

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// lockStaleAfter is how old a lock file may be before it is broken.
	lockStaleAfter = 5 * time.Second
	// lockAcquireTimeout bounds the total wait for a lock.
	lockAcquireTimeout = 5 * time.Second
	// lockRetryInterval is the sleep between acquisition attempts.
	lockRetryInterval = 50 * time.Millisecond
)

// ErrNotAcquired reports that the file lock could not be taken within the
// acquisition timeout. Callers retry or fail soft; unlocked writes are never
// permitted.
var ErrNotAcquired = errors.New("file lock not acquired")

// FileLock is a cross-process advisory lock backed by an O_EXCL lock file
// containing "<pid>:<ms-timestamp>". Locks held by dead processes, or older
// than the staleness window, are broken and retaken.
type FileLock struct {
	path string
}

// NewFileLock returns a lock for <path>. By convention the path ends in
// ".lock" and sits next to the document it guards.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire takes the lock, breaking stale holders. Returns ErrNotAcquired on
// timeout.
func (l *FileLock) Acquire() error {
	deadline := time.Now().Add(lockAcquireTimeout)
	for {
		if err := l.tryCreate(); err == nil {
			return nil
		}
		if l.breakIfStale() {
			continue
		}
		if time.Now().After(deadline) {
			return ErrNotAcquired
		}
		time.Sleep(lockRetryInterval)
	}
}

// Release unlinks the lock file. Best effort; failures are ignored.
func (l *FileLock) Release() {
	_ = os.Remove(l.path)
}

func (l *FileLock) tryCreate() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintf(f, "%d:%d", os.Getpid(), time.Now().UnixMilli())
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(l.path)
		if werr != nil {
			return werr
		}
		return cerr
	}
	return nil
}

// breakIfStale removes the lock file when its contents are unparseable, its
// timestamp is older than the staleness window, or its holder is no longer
// alive. Reports whether the lock was broken and a retry should happen
// immediately.
func (l *FileLock) breakIfStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		// Holder released between our create attempt and this read.
		return os.IsNotExist(err)
	}

	pid, stamp, ok := parseLockContents(string(data))
	if !ok {
		_ = os.Remove(l.path)
		return true
	}
	if time.Since(time.UnixMilli(stamp)) > lockStaleAfter {
		_ = os.Remove(l.path)
		return true
	}
	if !processAlive(pid) {
		_ = os.Remove(l.path)
		return true
	}
	return false
}

func parseLockContents(s string) (pid int, stamp int64, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil || pid <= 0 {
		return 0, 0, false
	}
	stamp, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return pid, stamp, true
}

// WithFileLock serializes fn across processes using the lock file at path.
// fn runs only when the lock is held; its error passes through.
func WithFileLock(path string, fn func() error) error {
	lock := NewFileLock(path)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}
