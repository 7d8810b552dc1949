package runstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrazzld/scry-batch/internal/domain"
)

const (
	runLockDirName   = ".run.lock"
	runLockOwnerFile = "owner.json"
)

// RunLock is held for the lifetime of a run. The zero value is an unheld lock.
type RunLock struct {
	lockDir string
}

// LockOwner identifies the process holding a run lock.
type LockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// LockOption configures AcquireRunLock.
type LockOption func(*lockOptions)

type lockOptions struct {
	breakLock bool
	logger    *slog.Logger
}

// WithBreakLock removes an existing lock regardless of its owner.
func WithBreakLock(enabled bool) LockOption {
	return func(o *lockOptions) {
		o.breakLock = enabled
	}
}

// WithLockLogger sets the logger used to report reclaimed locks.
func WithLockLogger(logger *slog.Logger) LockOption {
	return func(o *lockOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// AcquireRunLock takes the exclusive lock on stateDir. It fails with an error
// wrapping domain.ErrRunLocked when another live process already holds it.
//
// A lock left behind by a process on this host that no longer exists is
// reclaimed. WithBreakLock reclaims any lock.
func AcquireRunLock(stateDir string, opts ...LockOption) (RunLock, error) {
	options := lockOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}

	target := strings.TrimSpace(stateDir)
	if target == "" {
		return RunLock{}, errors.New("state directory is required")
	}
	if err := Mkdir(target); err != nil {
		return RunLock{}, err
	}

	lockDir := filepath.Join(target, runLockDirName)
	err := os.Mkdir(lockDir, dirPerm)
	if err != nil && os.IsExist(err) {
		owner, readErr := ReadLockOwner(target)
		reason := staleReason(owner, readErr, options.breakLock)
		if reason == "" {
			if readErr == nil && owner.PID > 0 {
				return RunLock{}, fmt.Errorf("%w: %s (pid=%d created_at=%s host=%s)",
					domain.ErrRunLocked, target, owner.PID, owner.CreatedAt, owner.Hostname)
			}
			return RunLock{}, fmt.Errorf("%w: %s", domain.ErrRunLocked, target)
		}

		options.logger.Warn("reclaiming run lock",
			"state_dir", target,
			"reason", reason,
			"pid", owner.PID,
			"created_at", owner.CreatedAt,
			"host", owner.Hostname)
		if rmErr := os.RemoveAll(lockDir); rmErr != nil {
			return RunLock{}, fmt.Errorf("remove stale run lock for %s: %w", target, rmErr)
		}
		err = os.Mkdir(lockDir, dirPerm)
		if err != nil && os.IsExist(err) {
			// Another process reclaimed it first.
			return RunLock{}, fmt.Errorf("%w: %s", domain.ErrRunLocked, target)
		}
	}
	if err != nil {
		return RunLock{}, fmt.Errorf("acquire run lock for %s: %w", target, err)
	}

	owner := LockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(lockDir, runLockOwnerFile), owner); err != nil {
		_ = os.Remove(lockDir)
		return RunLock{}, fmt.Errorf("write run lock owner for %s: %w", target, err)
	}

	return RunLock{lockDir: lockDir}, nil
}

// staleReason returns why an existing lock may be reclaimed, or "" when it
// must be honoured. Locks owned by another host are never judged stale.
func staleReason(owner LockOwner, readErr error, breakLock bool) string {
	if breakLock {
		return "lock break requested"
	}
	if readErr != nil || owner.PID <= 0 {
		return ""
	}
	if owner.Hostname != hostnameOrUnknown() {
		return ""
	}
	if owner.PID == os.Getpid() || processAlive(owner.PID) {
		return ""
	}
	return "owner process is gone"
}

// ReadLockOwner returns the owner record of the lock on stateDir, if any.
func ReadLockOwner(stateDir string) (LockOwner, error) {
	var owner LockOwner
	err := ReadJSON(filepath.Join(stateDir, runLockDirName, runLockOwnerFile), &owner)
	return owner, err
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l RunLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, runLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release run lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
