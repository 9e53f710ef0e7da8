package aggregate

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/i5heu/cipher-tally/internal/store"
	"github.com/i5heu/cipher-tally/internal/testutil"
	"github.com/i5heu/cipher-tally/pkg/paillier"
	workerpool "github.com/i5heu/cipher-tally/pkg/workerPool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyOnce sync.Once
	key     *paillier.PrivateKey
	keyErr  error
)

func testKey(t *testing.T) *paillier.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		key, keyErr = paillier.GenerateKey(rand.Reader, testutil.KeyBits())
	})
	require.NoError(t, keyErr)
	return key
}

func submission(t *testing.T, pk *paillier.PublicKey, m, scale int64) store.Submission {
	t.Helper()
	c, err := pk.Encrypt(rand.Reader, big.NewInt(m))
	require.NoError(t, err)
	return store.Submission{
		ID:         fmt.Sprintf("sub-%d-%d", m, scale),
		Ciphertext: c,
		KeyID:      pk.ID(),
		Meta:       store.Meta{Scale: scale},
	}
}

func decrypt(t *testing.T, sk *paillier.PrivateKey, a Artifact) int64 {
	t.Helper()
	m, err := sk.Decrypt(a.Ciphertext)
	require.NoError(t, err)
	return m.Int64()
}

func TestAggregateEmpty(t *testing.T) {
	sk := testKey(t)

	a, err := New(nil).Aggregate(sk.Public(), nil)
	require.NoError(t, err)
	assert.True(t, a.Empty())
	assert.Equal(t, 0, a.Count)
	assert.Nil(t, a.Ciphertext)
	assert.Equal(t, sk.ID(), a.KeyID)
}

func TestAggregateSums(t *testing.T) {
	sk := testKey(t)
	pk := sk.Public()

	subs := []store.Submission{
		submission(t, pk, 250, 100),
		submission(t, pk, 480, 100),
		submission(t, pk, 0, 100),
	}

	a, err := New(nil).Aggregate(pk, subs)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Count)
	assert.Equal(t, int64(100), a.Scale)
	assert.Len(t, a.ID, 64)
	assert.Equal(t, int64(730), decrypt(t, sk, a))
}

func TestAggregateHarmonizesScales(t *testing.T) {
	sk := testKey(t)
	pk := sk.Public()

	subs := []store.Submission{
		submission(t, pk, 730, 100),   // 7.30
		submission(t, pk, 1500, 1000), // 1.500
		submission(t, pk, 2, 1),       // 2
	}

	a, err := New(nil).Aggregate(pk, subs)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), a.Scale)
	assert.Equal(t, int64(7300+1500+2000), decrypt(t, sk, a))
}

func TestAggregateRejectsForeignKey(t *testing.T) {
	sk := testKey(t)
	pk := sk.Public()

	stale := submission(t, pk, 1, 100)
	stale.KeyID = "previous-key"

	_, err := New(nil).Aggregate(pk, []store.Submission{submission(t, pk, 1, 100), stale})
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestAggregateRejectsInvalidScale(t *testing.T) {
	sk := testKey(t)
	pk := sk.Public()

	bad := submission(t, pk, 1, 0)
	_, err := New(nil).Aggregate(pk, []store.Submission{bad})
	assert.ErrorIs(t, err, ErrInvalidScale)
}

func TestAggregateParallelMatchesSequential(t *testing.T) {
	sk := testKey(t)
	pk := sk.Public()

	pool := workerpool.NewWorkerPool(workerpool.Config{WorkerCount: 4})
	defer pool.Close()

	var subs []store.Submission
	want := int64(0)
	for i := int64(0); i < 3*chunkSize+5; i++ {
		subs = append(subs, submission(t, pk, i, 100))
		want += i
	}

	parallel, err := New(pool).Aggregate(pk, subs)
	require.NoError(t, err)
	sequential, err := New(nil).Aggregate(pk, subs)
	require.NoError(t, err)

	assert.Equal(t, 0, parallel.Ciphertext.Cmp(sequential.Ciphertext))
	assert.Equal(t, parallel.ID, sequential.ID)
	assert.Equal(t, want, decrypt(t, sk, parallel))
}
