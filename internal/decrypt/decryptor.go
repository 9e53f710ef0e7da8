// Package decrypt is the only holder of the private key. It turns an
// aggregate artifact back into a plaintext total and audits every release.
package decrypt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/i5heu/cipher-tally/internal/aggregate"
	"github.com/i5heu/cipher-tally/internal/audit"
	"github.com/i5heu/cipher-tally/internal/metric"
	"github.com/i5heu/cipher-tally/pkg/paillier"
)

var ErrNoSubmissions = errors.New("decrypt: no submissions")

type Result struct {
	Plaintext   *big.Int
	Scale       int64
	Count       int
	Value       *big.Rat
	KeyID       string
	AggregateID string
}

// ValueString renders Value with as many decimals as the scale implies.
func (r Result) ValueString() string {
	return metric.FormatScaled(r.Plaintext, r.Scale)
}

type Decryptor struct {
	mu    sync.Mutex
	sk    *paillier.PrivateKey
	audit *audit.Log
	log   *slog.Logger
}

func New(sk *paillier.PrivateKey, auditLog *audit.Log, logger *slog.Logger) *Decryptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decryptor{sk: sk, audit: auditLog, log: logger}
}

// DecryptAggregate decrypts an artifact and divides by its scale. The
// result is released only after the audit record has been written.
func (d *Decryptor) DecryptAggregate(ctx context.Context, art aggregate.Artifact, actor string) (Result, error) {
	if art.Empty() {
		return Result{}, ErrNoSubmissions
	}
	if art.KeyID != d.sk.ID() {
		return Result{}, fmt.Errorf("%w: artifact key %s does not match active key %s", paillier.ErrDecryption, art.KeyID, d.sk.ID())
	}
	if art.Scale <= 0 {
		return Result{}, fmt.Errorf("%w: scale %d", aggregate.ErrInvalidScale, art.Scale)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.sk.Decrypt(art.Ciphertext)
	if err != nil {
		d.log.Error("aggregate decryption failed", "error", err, "aggregateId", art.ID)
		return Result{}, err
	}

	res := Result{
		Plaintext:   m,
		Scale:       art.Scale,
		Count:       art.Count,
		Value:       metric.Unscale(m, art.Scale),
		KeyID:       art.KeyID,
		AggregateID: art.ID,
	}

	if d.audit != nil {
		if _, err := d.audit.Record(audit.Event{
			Actor:       actor,
			Action:      audit.ActionDecrypt,
			Count:       art.Count,
			Scale:       art.Scale,
			KeyID:       art.KeyID,
			AggregateID: art.ID,
		}); err != nil {
			return Result{}, fmt.Errorf("refusing to release plaintext: %w", err)
		}
	}

	d.log.Info("aggregate decrypted", "actor", actor, "count", art.Count, "scale", art.Scale, "keyId", art.KeyID)
	return res, nil
}
