package keyValStore

import (
	"bytes"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const boltFileName = "tally.db"

var boltBucket = []byte("tally")

// boltStore keeps everything in one bucket of a single file. bbolt fsyncs on
// every committed transaction.
type boltStore struct {
	db *bolt.DB
}

func newBoltStore(config StoreConfig) (*boltStore, error) {
	path := filepath.Join(config.Paths[0], boltFileName)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("error opening bolt file %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating bucket: %w", err)
	}

	if err := logDiskUsage(config.Paths); err != nil {
		log.Warnf("could not report disk usage: %v", err)
	}

	return &boltStore{db: db}, nil
}

func (b *boltStore) Write(key []byte, content []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, content)
	})
}

func (b *boltStore) GetItemsWithPrefix(prefix []byte) ([][][]byte, error) {
	var keysAndValues [][][]byte
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			keysAndValues = append(keysAndValues, [][]byte{
				append([]byte(nil), k...),
				append([]byte(nil), v...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error iterating prefix %q: %w", prefix, err)
	}
	return keysAndValues, nil
}

func (b *boltStore) DropPrefix(prefix []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		var keys [][]byte
		c := bucket.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltStore) Close() error {
	return b.db.Close()
}
