// Package tally is a privacy-preserving aggregation service. Parties submit
// Paillier-encrypted metrics; the service multiplies the ciphertexts into an
// encrypted total and only the key holder can decrypt that total.
package tally

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i5heu/cipher-tally/internal/aggregate"
	"github.com/i5heu/cipher-tally/internal/audit"
	"github.com/i5heu/cipher-tally/internal/backup"
	"github.com/i5heu/cipher-tally/internal/decrypt"
	"github.com/i5heu/cipher-tally/internal/ingest"
	"github.com/i5heu/cipher-tally/internal/keyValStore"
	"github.com/i5heu/cipher-tally/internal/store"
	"github.com/i5heu/cipher-tally/pkg/paillier"
	workerpool "github.com/i5heu/cipher-tally/pkg/workerPool"
)

var (
	ErrNotStarted    = errors.New("tally: service not started")
	ErrClosed        = errors.New("tally: service closed")
	ErrNoSubmissions = decrypt.ErrNoSubmissions
)

// Tally is the service handle. It owns the key pair, the ciphertext store and
// the audit trail. Construct it with New and make it ready with Start.
type Tally struct {
	log    *slog.Logger
	config Config

	ingester *ingest.Ingester

	mu sync.RWMutex
	c  *components

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// components exist only between Start and Close.
type components struct {
	kv         keyValStore.Store
	key        *paillier.PrivateKey
	store      *store.Store
	audit      *audit.Log
	aggregator *aggregate.Aggregator
	decryptor  *decrypt.Decryptor
	backup     *backup.DefaultBackupManager
	pool       *workerpool.WorkerPool

	// ops counts operations holding this handle; Close waits for it.
	ops sync.WaitGroup
}

// New constructs a service handle. It performs no I/O and generates no keys.
func New(conf Config) (*Tally, error) { // A
	if conf.DataDir == "" && !conf.InMemory {
		return nil, fmt.Errorf("a data directory must be provided in config")
	}
	if conf.KeyBits == 0 {
		conf.KeyBits = DefaultKeyBits
	}
	if conf.KeyBits < paillier.MinKeyBits || conf.KeyBits%2 != 0 {
		return nil, fmt.Errorf("key size %d must be even and at least %d bits", conf.KeyBits, paillier.MinKeyBits)
	}
	if conf.Scale == 0 {
		conf.Scale = DefaultScale
	}
	if conf.Scale < 0 {
		return nil, fmt.Errorf("scale must be positive, got %d", conf.Scale)
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	if conf.StoreLogger == nil {
		conf.StoreLogger = defaultStoreLogger()
	}

	return &Tally{
		log:    conf.Logger,
		config: conf,
		ingester: &ingest.Ingester{
			Recognizer:       conf.Recognizer,
			RecognizeTimeout: conf.RecognizeTimeout,
			MaxBytes:         conf.MaxUploadBytes,
		},
	}, nil
}

// Start opens the store, replays persisted submissions and generates a fresh
// key pair. Key generation cannot be interrupted; if ctx ends first Start
// returns ctx.Err() and the service stays unavailable.
func (t *Tally) Start(ctx context.Context) error { // PA
	var startErr error
	t.startOnce.Do(func() {
		startErr = t.start(ctx)
	})
	return startErr
}

func (t *Tally) start(ctx context.Context) error {
	if !t.config.InMemory {
		if err := os.MkdirAll(t.config.DataDir, 0o700); err != nil {
			return fmt.Errorf("mkdir %s: %w", t.config.DataDir, err)
		}
	}

	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            []string{t.config.DataDir},
		MinimumFreeSpace: int(t.config.MinimumFreeGB),
		Engine:           t.config.Engine,
		InMemory:         t.config.InMemory,
		Logger:           t.config.StoreLogger,
	})
	if err != nil {
		return fmt.Errorf("init kv: %w", err)
	}

	c, err := t.open(ctx, kv)
	if err != nil {
		if closeErr := kv.Close(); closeErr != nil {
			t.log.Warn("closing kv after failed start", "error", closeErr)
		}
		return err
	}

	t.mu.Lock()
	t.c = c
	t.mu.Unlock()
	t.started.Store(true)

	if foreign := c.store.CountForeign(c.key.ID()); foreign > 0 {
		t.log.Warn("stored submissions were encrypted under a previous key; aggregation will fail until they are cleared",
			"count", foreign)
	}
	t.log.Info("tally started", "keyId", c.key.ID(), "bits", c.key.Bits(), "submissions", c.store.Len())
	return nil
}

func (t *Tally) open(ctx context.Context, kv keyValStore.Store) (*components, error) {
	st, err := store.Open(kv, t.config.StoreLogger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	auditLog, err := audit.Open(kv)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	key, err := t.generateKey(ctx)
	if err != nil {
		return nil, err
	}

	pool := workerpool.NewWorkerPool(workerpool.Config{WorkerCount: t.config.Workers})
	return &components{
		kv:         kv,
		key:        key,
		store:      st,
		audit:      auditLog,
		aggregator: aggregate.New(pool),
		decryptor:  decrypt.New(key, auditLog, t.log),
		backup:     backup.NewBackupManager(st),
		pool:       pool,
	}, nil
}

func (t *Tally) generateKey(ctx context.Context) (*paillier.PrivateKey, error) {
	type result struct {
		key *paillier.PrivateKey
		err error
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan result, 1)

	began := time.Now()
	go func() {
		key, err := paillier.GenerateKey(t.config.Random, t.config.KeyBits)
		done <- result{key, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		t.log.Debug("key pair generated", "bits", t.config.KeyBits, "took", time.Since(began))
		return r.key, nil
	}
}

// Run starts the service, then blocks until ctx is canceled, and finally
// performs a bounded graceful shutdown.
func (t *Tally) Run(ctx context.Context) error { // A
	if err := t.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return t.Close(shutdownCtx)
}

// Ready reports whether Start completed and Close has not been called.
func (t *Tally) Ready() bool {
	c, err := t.handle()
	if err != nil {
		return false
	}
	c.ops.Done()
	return true
}

// Close stops new operations, waits for running ones until ctx expires and
// then releases the store. The key pair is dropped with it; a restarted
// service generates a new one. Close is idempotent.
func (t *Tally) Close(ctx context.Context) error { // A
	var closeErr error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		c := t.c
		t.c = nil
		t.mu.Unlock()
		if c == nil {
			return
		}

		idle := make(chan struct{})
		go func() {
			c.ops.Wait()
			close(idle)
		}()
		select {
		case <-idle:
		case <-ctx.Done():
			closeErr = fmt.Errorf("waiting for running operations: %w", ctx.Err())
			t.log.Warn("closing with operations still running", "error", ctx.Err())
		}

		c.pool.Close()
		if err := c.kv.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close kv: %w", err))
		}
		t.log.Info("tally closed")
	})
	return closeErr
}

// handle returns the live components and registers an operation on them;
// callers must call c.ops.Done when finished.
func (t *Tally) handle() (*components, error) { // A
	if !t.started.Load() {
		return nil, ErrNotStarted
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	c := t.c
	if c == nil {
		return nil, ErrClosed
	}

	c.ops.Add(1)
	return c, nil
}
