// Package aggregate folds stored ciphertexts into one encrypted total without
// ever seeing a plaintext.
package aggregate

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/i5heu/cipher-tally/internal/store"
	"github.com/i5heu/cipher-tally/pkg/paillier"
	workerpool "github.com/i5heu/cipher-tally/pkg/workerPool"
	"github.com/zeebo/blake3"
)

// chunkSize is the number of ciphertexts a single worker multiplies before
// the partial products are combined.
const chunkSize = 64

var (
	ErrKeyMismatch  = errors.New("aggregate: submissions encrypted under a different key")
	ErrInvalidScale = errors.New("aggregate: invalid scale")
)

type Artifact struct {
	Ciphertext *big.Int
	Count      int
	Scale      int64
	KeyID      string
	// ID is a content id of the aggregate ciphertext.
	ID         string
	ProducedAt time.Time
}

// Empty reports the "no data" artifact.
func (a Artifact) Empty() bool {
	return a.Count == 0
}

type Aggregator struct {
	pool *workerpool.WorkerPool
	now  func() time.Time
}

// New returns an Aggregator. pool may be nil, in which case everything is
// multiplied on the calling goroutine.
func New(pool *workerpool.WorkerPool) *Aggregator {
	return &Aggregator{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Aggregate multiplies every ciphertext modulo N². Submissions at different
// scales are lifted to the least common multiple of their scales first.
func (a *Aggregator) Aggregate(pk *paillier.PublicKey, subs []store.Submission) (Artifact, error) {
	keyID := pk.ID()
	if len(subs) == 0 {
		return Artifact{KeyID: keyID, ProducedAt: a.now()}, nil
	}

	stale := 0
	for _, sub := range subs {
		if sub.KeyID != keyID {
			stale++
		}
	}
	if stale > 0 {
		return Artifact{}, fmt.Errorf("%w: %d of %d submissions were produced under another key", ErrKeyMismatch, stale, len(subs))
	}

	scale, err := commonScale(subs)
	if err != nil {
		return Artifact{}, err
	}

	terms := make([]*big.Int, len(subs))
	for i, sub := range subs {
		if err := pk.Validate(sub.Ciphertext); err != nil {
			return Artifact{}, fmt.Errorf("submission %s: %w", sub.ID, err)
		}
		if factor := scale / sub.Meta.Scale; factor != 1 {
			terms[i] = pk.MulConst(sub.Ciphertext, big.NewInt(factor))
		} else {
			terms[i] = sub.Ciphertext
		}
	}

	product, err := a.multiply(pk, terms)
	if err != nil {
		return Artifact{}, err
	}

	sum := blake3.Sum256(product.Bytes())
	return Artifact{
		Ciphertext: product,
		Count:      len(subs),
		Scale:      scale,
		KeyID:      keyID,
		ID:         hex.EncodeToString(sum[:]),
		ProducedAt: a.now(),
	}, nil
}

func (a *Aggregator) multiply(pk *paillier.PublicKey, terms []*big.Int) (*big.Int, error) {
	if a.pool == nil || len(terms) <= chunkSize {
		return pk.Add(terms...), nil
	}

	chunks := (len(terms) + chunkSize - 1) / chunkSize
	room := workerpool.CreateRoom[*big.Int](a.pool, chunks)
	for start := 0; start < len(terms); start += chunkSize {
		end := start + chunkSize
		if end > len(terms) {
			end = len(terms)
		}
		part := terms[start:end]
		if err := room.NewTaskWaitForFreeSlot(func() *big.Int { return pk.Add(part...) }); err != nil {
			return nil, fmt.Errorf("scheduling partial product: %w", err)
		}
	}

	// multiplication is commutative, so completion order does not matter
	return pk.Add(room.Collect()...), nil
}

func commonScale(subs []store.Submission) (int64, error) {
	lcm := big.NewInt(1)
	for _, sub := range subs {
		if sub.Meta.Scale <= 0 {
			return 0, fmt.Errorf("%w: submission %s has scale %d", ErrInvalidScale, sub.ID, sub.Meta.Scale)
		}
		s := big.NewInt(sub.Meta.Scale)
		gcd := new(big.Int).GCD(nil, nil, lcm, s)
		lcm.Mul(lcm, s.Div(s, gcd))
		if lcm.Cmp(big.NewInt(math.MaxInt64)) > 0 {
			return 0, fmt.Errorf("%w: common scale overflows", ErrInvalidScale)
		}
	}
	return lcm.Int64(), nil
}
