// Package backup exports the ciphertext store as an xz compressed stream of
// JSON lines and restores it again.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/i5heu/cipher-tally/internal/store"
	"github.com/i5heu/cipher-tally/pkg/backup"
	"github.com/i5heu/cipher-tally/pkg/paillier"
	"github.com/ulikunitz/xz"
)

const (
	formatName    = "cipher-tally-submissions"
	formatVersion = 1
)

var (
	ErrBackupInProgress = errors.New("backup: already in progress")
	ErrCorruptBackup    = errors.New("backup: corrupt backup")
)

type header struct {
	Format  string `json:"format"`
	Version int    `json:"version"`
	Count   int    `json:"count"`
}

type record struct {
	ID         string     `json:"id"`
	Seq        uint64     `json:"seq"`
	Ciphertext string     `json:"ciphertext"`
	KeyID      string     `json:"keyId"`
	Digest     string     `json:"digest"`
	Meta       store.Meta `json:"meta"`
}

// DefaultBackupManager implements the BackupManager interface.
type DefaultBackupManager struct {
	mu     sync.Mutex
	store  *store.Store
	status backup.BackupStatus
}

var _ backup.BackupManager = (*DefaultBackupManager)(nil)

// NewBackupManager creates a new DefaultBackupManager instance.
func NewBackupManager(s *store.Store) *DefaultBackupManager {
	return &DefaultBackupManager{store: s}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// BackupData writes a header line followed by one line per submission.
func (m *DefaultBackupManager) BackupData(
	ctx context.Context,
	writer io.Writer,
) error {
	m.mu.Lock()
	if m.status.BackupInProgress {
		m.mu.Unlock()
		return ErrBackupInProgress
	}
	m.status.BackupInProgress = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.status.BackupInProgress = false
		m.mu.Unlock()
	}()

	subs := m.store.All()

	counter := &countingWriter{w: writer}
	xw, err := xz.NewWriter(counter)
	if err != nil {
		return fmt.Errorf("backup: creating xz writer: %w", err)
	}

	enc := json.NewEncoder(xw)
	if err := enc.Encode(header{Format: formatName, Version: formatVersion, Count: len(subs)}); err != nil {
		return err
	}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(record{
			ID:         sub.ID,
			Seq:        sub.Seq,
			Ciphertext: paillier.EncodeCiphertext(sub.Ciphertext),
			KeyID:      sub.KeyID,
			Digest:     sub.Digest,
			Meta:       sub.Meta,
		}); err != nil {
			return fmt.Errorf("backup: writing %s: %w", sub.ID, err)
		}
	}
	if err := xw.Close(); err != nil {
		return fmt.Errorf("backup: flushing xz stream: %w", err)
	}

	m.mu.Lock()
	m.status.LastBackup = time.Now().Unix()
	m.status.LastBackupSize = counter.n
	m.status.LastBackupRecords = len(subs)
	m.mu.Unlock()
	return nil
}

// RestoreData verifies every record's digest before anything is written.
func (m *DefaultBackupManager) RestoreData(
	ctx context.Context,
	reader io.Reader,
) error {
	xr, err := xz.NewReader(reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptBackup, err)
	}

	dec := json.NewDecoder(xr)
	var h header
	if err := dec.Decode(&h); err != nil {
		return fmt.Errorf("%w: reading header: %v", ErrCorruptBackup, err)
	}
	if h.Format != formatName || h.Version != formatVersion {
		return fmt.Errorf("%w: unexpected format %q version %d", ErrCorruptBackup, h.Format, h.Version)
	}
	if h.Count < 0 {
		return fmt.Errorf("%w: negative record count %d", ErrCorruptBackup, h.Count)
	}

	// the header count is untrusted, so the slice grows with what is read
	var subs []store.Submission
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var rec record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptBackup, err)
		}

		c, err := paillier.ParseCiphertext(rec.Ciphertext)
		if err != nil {
			return fmt.Errorf("%w: record %s: %v", ErrCorruptBackup, rec.ID, err)
		}
		if rec.Digest != "" && store.Digest(c) != rec.Digest {
			return fmt.Errorf("%w: record %s digest mismatch", ErrCorruptBackup, rec.ID)
		}

		subs = append(subs, store.Submission{
			ID:         rec.ID,
			Seq:        rec.Seq,
			Ciphertext: c,
			KeyID:      rec.KeyID,
			Digest:     rec.Digest,
			Meta:       rec.Meta,
		})
	}
	if len(subs) != h.Count {
		return fmt.Errorf("%w: header announces %d records, found %d", ErrCorruptBackup, h.Count, len(subs))
	}

	if err := m.store.Import(subs); err != nil {
		return err
	}

	m.mu.Lock()
	m.status.LastRestore = time.Now().Unix()
	m.status.LastRestoreRecords = len(subs)
	m.mu.Unlock()
	return nil
}

// GetBackupStatus returns the current backup status.
func (m *DefaultBackupManager) GetBackupStatus(
	ctx context.Context,
) (backup.BackupStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}
