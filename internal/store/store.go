// Package store keeps the append-only list of encrypted submissions. Every
// accepted submission is written through to the key/value store before it
// becomes visible, so a restart reproduces the exact same sequence.
package store

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/i5heu/cipher-tally/internal/keyValStore"
	"github.com/i5heu/cipher-tally/pkg/paillier"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

const DefaultScale = 100

var (
	ErrPersistence       = errors.New("store: persistence failed")
	ErrInvalidCiphertext = errors.New("store: invalid ciphertext")
	ErrInvalidMeta       = errors.New("store: invalid metadata")
	ErrNotEmpty          = errors.New("store: not empty")
)

var submissionPrefix = []byte("sub:")

type Meta struct {
	Filename  string    `json:"filename"`
	Scale     int64     `json:"scale"`
	MetricInt string    `json:"metricInt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// LedgerRef is an opaque reference supplied by an external publisher.
	LedgerRef string `json:"ledgerRef,omitempty"`
}

type Submission struct {
	ID         string
	Seq        uint64
	Ciphertext *big.Int
	KeyID      string
	Digest     string
	Meta       Meta
}

func (s Submission) clone() Submission {
	if s.Ciphertext != nil {
		s.Ciphertext = new(big.Int).Set(s.Ciphertext)
	}
	return s
}

type Store struct {
	mu      sync.RWMutex
	kv      keyValStore.Store
	subs    []Submission
	nextSeq uint64
	log     *logrus.Logger
	now     func() time.Time
}

// Open loads every persisted submission in sequence order.
func Open(kv keyValStore.Store, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	s := &Store{
		kv:      kv,
		log:     logger,
		nextSeq: 1,
		now:     func() time.Time { return time.Now().UTC().Round(0) },
	}

	items, err := kv.GetItemsWithPrefix(submissionPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: loading submissions: %v", ErrPersistence, err)
	}

	for _, item := range items {
		sub, err := unmarshalSubmission(item[1])
		if err != nil {
			return nil, fmt.Errorf("corrupt submission record %x: %w", item[0], err)
		}
		s.subs = append(s.subs, sub)
		if sub.Seq >= s.nextSeq {
			s.nextSeq = sub.Seq + 1
		}
	}

	s.log.WithField("submissions", len(s.subs)).Info("ciphertext store loaded")
	return s, nil
}

func submissionKey(seq uint64) []byte {
	key := make([]byte, len(submissionPrefix)+8)
	copy(key, submissionPrefix)
	binary.BigEndian.PutUint64(key[len(submissionPrefix):], seq)
	return key
}

// Digest is the hex blake3 hash of a ciphertext's big-endian bytes.
func Digest(c *big.Int) string {
	sum := blake3.Sum256(c.Bytes())
	return hex.EncodeToString(sum[:])
}

// Submit validates c against the key it claims to be encrypted under and
// appends it. The append is visible only after the durable write succeeded.
func (s *Store) Submit(pk *paillier.PublicKey, c *big.Int, meta Meta) (Submission, error) {
	if err := pk.Validate(c); err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if meta.Scale == 0 {
		meta.Scale = DefaultScale
	}
	if meta.Scale < 0 {
		return Submission{}, fmt.Errorf("%w: scale must be positive, got %d", ErrInvalidMeta, meta.Scale)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Submission{}, fmt.Errorf("generating submission id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta.Timestamp = s.now()
	sub := Submission{
		ID:         id.String(),
		Seq:        s.nextSeq,
		Ciphertext: new(big.Int).Set(c),
		KeyID:      pk.ID(),
		Digest:     Digest(c),
		Meta:       meta,
	}

	if err := s.kv.Write(submissionKey(sub.Seq), marshalSubmission(sub)); err != nil {
		s.log.WithFields(logrus.Fields{"id": sub.ID, "seq": sub.Seq}).Errorf("persisting submission: %v", err)
		return Submission{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.subs = append(s.subs, sub)
	s.nextSeq++

	s.log.WithFields(logrus.Fields{
		"id":     sub.ID,
		"seq":    sub.Seq,
		"digest": sub.Digest[:16],
		"scale":  sub.Meta.Scale,
	}).Debug("submission stored")

	return sub.clone(), nil
}

// All returns a copy of every submission in arrival order.
func (s *Store) All() []Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Submission, len(s.subs))
	for i, sub := range s.subs {
		out[i] = sub.clone()
	}
	return out
}

// First returns the first n submissions, or all of them if fewer exist.
func (s *Store) First(n int) []Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n < 0 || n > len(s.subs) {
		n = len(s.subs)
	}
	out := make([]Submission, n)
	for i := 0; i < n; i++ {
		out[i] = s.subs[i].clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// CountForeign returns how many submissions were not validated against keyID.
func (s *Store) CountForeign(keyID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sub := range s.subs {
		if sub.KeyID != keyID {
			n++
		}
	}
	return n
}

// Clear removes every submission. Memory is only reset once the persisted
// records are gone.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.DropPrefix(submissionPrefix); err != nil {
		return fmt.Errorf("%w: clearing submissions: %v", ErrPersistence, err)
	}

	cleared := len(s.subs)
	s.subs = nil
	s.nextSeq = 1
	s.log.WithField("cleared", cleared).Info("ciphertext store cleared")
	return nil
}

// Import restores previously exported submissions into an empty store,
// keeping their ids, sequence numbers and key ids.
func (s *Store) Import(subs []Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.subs) > 0 {
		return ErrNotEmpty
	}

	sorted := make([]Submission, 0, len(subs))
	for _, sub := range subs {
		if sub.Ciphertext == nil || sub.Ciphertext.Sign() < 0 || sub.ID == "" {
			return fmt.Errorf("%w: submission %q", ErrInvalidCiphertext, sub.ID)
		}
		sorted = append(sorted, sub.clone())
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	next := uint64(1)
	for i := range sorted {
		if sorted[i].Seq < next {
			sorted[i].Seq = next
		}
		next = sorted[i].Seq + 1
		if sorted[i].Digest == "" {
			sorted[i].Digest = Digest(sorted[i].Ciphertext)
		}

		if err := s.kv.Write(submissionKey(sorted[i].Seq), marshalSubmission(sorted[i])); err != nil {
			if dropErr := s.kv.DropPrefix(submissionPrefix); dropErr != nil {
				s.log.Errorf("rolling back partial import: %v", dropErr)
			}
			return fmt.Errorf("%w: importing submission %s: %v", ErrPersistence, sorted[i].ID, err)
		}
	}

	s.subs = sorted
	s.nextSeq = next
	s.log.WithField("imported", len(sorted)).Info("ciphertext store restored")
	return nil
}
