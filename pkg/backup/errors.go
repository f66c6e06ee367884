package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrTenantNotFound - the named tenant does not exist under the tenants root.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrRunNotFound - the named run does not exist or carries no backup for
	// the tenant.
	ErrRunNotFound = errors.New("backup run not found")
	// ErrArtifactCorrupt - an artifact failed read-back verification.
	ErrArtifactCorrupt = errors.New("artifact corrupt")
	// ErrSourceUnavailable - a tenant source tree that must exist is missing.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrTimeout - a tenant unit or pipeline step outlived its deadline.
	ErrTimeout = errors.New("operation timed out")
	// ErrPermissionDenied - a source or storage path is not accessible.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrStorageRoot - the run directory could not be created. Fatal for the
	// whole run.
	ErrStorageRoot = errors.New("can't create run directory")
)

// classify maps context and OS failures onto the package sentinels so
// summaries and callers name the condition, not the syscall.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}
