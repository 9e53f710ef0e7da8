package keyValStore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

type badgerStore struct {
	config       StoreConfig
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

func newBadgerStore(config StoreConfig) (*badgerStore, error) {
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Paths[0])
	}
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	// Submissions are acknowledged only after they are on disk.
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger: %w", err)
	}

	if !config.InMemory {
		if err := logDiskUsage(config.Paths); err != nil {
			log.Warnf("could not report disk usage: %v", err)
		}
	}

	return &badgerStore{
		config:   config,
		badgerDB: db,
	}, nil
}

func (k *badgerStore) Write(key []byte, content []byte) error {
	atomic.AddUint64(&k.writeCounter, 1)

	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, content)
	})
	if err != nil {
		log.WithField("key", hex.EncodeToString(key)).Errorf("write failed: %v", err)
		return err
	}
	return nil
}

// will return all keys and values with the given prefix
func (k *badgerStore) GetItemsWithPrefix(prefix []byte) ([][][]byte, error) {
	var keysAndValues [][][]byte
	atomic.AddUint64(&k.readCounter, 1)
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			keysAndValues = append(keysAndValues, [][]byte{k, v})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error iterating prefix %q: %w", prefix, err)
	}
	return keysAndValues, nil
}

func (k *badgerStore) DropPrefix(prefix []byte) error {
	err := k.badgerDB.DropPrefix(prefix)
	if err != nil {
		return fmt.Errorf("error dropping prefix %q: %w", prefix, err)
	}
	return nil
}

func (k *badgerStore) Close() error {
	if err := k.Clean(); err != nil {
		log.Warnf("clean before close: %v", err)
	}
	return k.badgerDB.Close()
}

func (k *badgerStore) Clean() error {
	// in-memory badger has no value log to sync or collect
	if k.config.InMemory {
		return nil
	}

	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	err = k.badgerDB.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"reads":  atomic.LoadUint64(&k.readCounter),
		"writes": atomic.LoadUint64(&k.writeCounter),
	}).Debug("badger store cleaned")
	return nil
}
