package tally

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/i5heu/cipher-tally/internal/aggregate"
	"github.com/i5heu/cipher-tally/internal/audit"
	"github.com/i5heu/cipher-tally/internal/decrypt"
	"github.com/i5heu/cipher-tally/internal/store"
	"github.com/i5heu/cipher-tally/pkg/backup"
	"github.com/i5heu/cipher-tally/pkg/paillier"
)

// PublicKey returns a copy of the active public key.
func (t *Tally) PublicKey(ctx context.Context) (*paillier.PublicKey, error) { // A
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := t.handle()
	if err != nil {
		return nil, err
	}
	defer c.ops.Done()
	return c.key.Public(), nil
}

// Submit stores a ciphertext produced by a client. keyID, if set, must name
// the active key.
func (t *Tally) Submit(ctx context.Context, ciphertext *big.Int, keyID string, meta store.Meta) (store.Submission, error) { // PA
	if err := ctx.Err(); err != nil {
		return store.Submission{}, err
	}
	c, err := t.handle()
	if err != nil {
		return store.Submission{}, err
	}
	defer c.ops.Done()

	if keyID != "" && keyID != c.key.ID() {
		return store.Submission{}, fmt.Errorf("%w: ciphertext names key %s, active key is %s", aggregate.ErrKeyMismatch, keyID, c.key.ID())
	}

	sub, err := c.store.Submit(&c.key.PublicKey, ciphertext, meta)
	if err != nil {
		return store.Submission{}, err
	}
	t.log.Info("submission accepted", "id", sub.ID, "filename", sub.Meta.Filename, "scale", sub.Meta.Scale)
	return sub, nil
}

// Submissions returns every stored submission in arrival order.
func (t *Tally) Submissions(ctx context.Context) ([]store.Submission, error) { // A
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := t.handle()
	if err != nil {
		return nil, err
	}
	defer c.ops.Done()
	return c.store.All(), nil
}

// Aggregate combines every stored submission. With nothing stored the result
// is an empty artifact, not an error.
func (t *Tally) Aggregate(ctx context.Context) (aggregate.Artifact, error) { // A
	return t.AggregateFirst(ctx, -1)
}

// AggregateFirst combines the first n submissions; n < 0 means all.
func (t *Tally) AggregateFirst(ctx context.Context, n int) (aggregate.Artifact, error) { // A
	if err := ctx.Err(); err != nil {
		return aggregate.Artifact{}, err
	}
	c, err := t.handle()
	if err != nil {
		return aggregate.Artifact{}, err
	}
	defer c.ops.Done()

	art, err := c.aggregator.Aggregate(&c.key.PublicKey, c.store.First(n))
	if err != nil {
		return aggregate.Artifact{}, err
	}
	t.log.Debug("aggregate computed", "count", art.Count, "scale", art.Scale, "aggregateId", art.ID)
	return art, nil
}

// DecryptAggregate aggregates every submission and decrypts the total on
// behalf of actor. The release is audited.
func (t *Tally) DecryptAggregate(ctx context.Context, actor string) (decrypt.Result, error) { // PA
	art, err := t.Aggregate(ctx)
	if err != nil {
		return decrypt.Result{}, err
	}
	c, err := t.handle()
	if err != nil {
		return decrypt.Result{}, err
	}
	defer c.ops.Done()
	return c.decryptor.DecryptAggregate(ctx, art, actor)
}

// Clear removes every submission. The audit record is written first so a
// clear is never unaccounted for.
func (t *Tally) Clear(ctx context.Context, actor string) error { // PA
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := t.handle()
	if err != nil {
		return err
	}
	defer c.ops.Done()

	count := c.store.Len()
	if _, err := c.audit.Record(audit.Event{
		Actor:  actor,
		Action: audit.ActionClear,
		Count:  count,
		KeyID:  c.key.ID(),
	}); err != nil {
		return err
	}
	if err := c.store.Clear(); err != nil {
		t.log.Error("clear failed after audit record was written", "error", err, "actor", actor)
		return err
	}
	t.log.Info("submissions cleared", "actor", actor, "count", count)
	return nil
}

// Audit returns the audit trail, oldest first.
func (t *Tally) Audit(ctx context.Context) ([]audit.Event, error) { // A
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := t.handle()
	if err != nil {
		return nil, err
	}
	defer c.ops.Done()
	return c.audit.Events()
}

// Backup writes an xz compressed export of all submissions.
func (t *Tally) Backup(ctx context.Context, w io.Writer) (backup.BackupStatus, error) { // A
	c, err := t.handle()
	if err != nil {
		return backup.BackupStatus{}, err
	}
	defer c.ops.Done()
	if err := c.backup.BackupData(ctx, w); err != nil {
		return backup.BackupStatus{}, err
	}
	return c.backup.GetBackupStatus(ctx)
}

// Restore loads an export into an empty store. Restored submissions keep the
// key id they were made under, so they only aggregate under that key.
func (t *Tally) Restore(ctx context.Context, r io.Reader) (backup.BackupStatus, error) { // A
	c, err := t.handle()
	if err != nil {
		return backup.BackupStatus{}, err
	}
	defer c.ops.Done()
	if err := c.backup.RestoreData(ctx, r); err != nil {
		return backup.BackupStatus{}, err
	}
	if foreign := c.store.CountForeign(c.key.ID()); foreign > 0 {
		t.log.Warn("restored submissions belong to another key", "count", foreign)
	}
	return c.backup.GetBackupStatus(ctx)
}
