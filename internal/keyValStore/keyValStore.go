package keyValStore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

const (
	EngineBadger = "badger"
	EngineBolt   = "bolt"
)

type StoreConfig struct {
	Paths            []string // absolute path at the moment only first path is supported
	MinimumFreeSpace int      // in GB
	Engine           string   // "badger" (default) or "bolt"
	InMemory         bool     // badger only; nothing touches disk
	Logger           *logrus.Logger
}

// Store is the durable key/value surface the ciphertext store and audit log
// are built on. Writes return only after the value is synced to disk.
type Store interface {
	Write(key []byte, content []byte) error
	// GetItemsWithPrefix returns [key, value] pairs in ascending key order.
	GetItemsWithPrefix(prefix []byte) ([][][]byte, error)
	// DropPrefix removes every key with the prefix in a single operation.
	DropPrefix(prefix []byte) error
	Close() error
}

func NewKeyValStore(config StoreConfig) (Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	log = config.Logger

	if !config.InMemory {
		err := config.checkConfig()
		if err != nil {
			return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
		}
	}

	switch strings.ToLower(config.Engine) {
	case "", EngineBadger:
		return newBadgerStore(config)
	case EngineBolt:
		if config.InMemory {
			return nil, errors.New("bolt engine has no in-memory mode")
		}
		return newBoltStore(config)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", config.Engine)
	}
}
