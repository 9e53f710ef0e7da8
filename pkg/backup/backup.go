// Package backup defines interfaces for exporting and restoring the
// submission store.
package backup

import (
	"context"
	"io"
)

// BackupManager handles backup and restore of the encrypted submissions.
type BackupManager interface {
	// BackupData writes every submission to writer.
	BackupData(ctx context.Context, writer io.Writer) error

	// RestoreData loads submissions from a backup into an empty store.
	RestoreData(ctx context.Context, reader io.Reader) error

	// GetBackupStatus returns the current backup status.
	GetBackupStatus(ctx context.Context) (BackupStatus, error)
}

// BackupStatus represents the status of backup operations.
type BackupStatus struct {
	// LastBackup is the Unix timestamp of the last successful backup.
	LastBackup int64

	// LastBackupSize is the size of the last backup in bytes.
	LastBackupSize int64

	// LastBackupRecords is the number of submissions in the last backup.
	LastBackupRecords int

	// BackupInProgress indicates if a backup is currently running.
	BackupInProgress bool

	// LastRestore is the Unix timestamp of the last successful restore.
	LastRestore int64

	// LastRestoreRecords is the number of submissions restored.
	LastRestoreRecords int
}
