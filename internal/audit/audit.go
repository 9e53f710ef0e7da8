// Package audit records who decrypted or cleared the aggregate, and when.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/i5heu/cipher-tally/internal/keyValStore"
)

type Action string

const (
	ActionDecrypt Action = "decrypt"
	ActionClear   Action = "clear"
)

var ErrPersistence = errors.New("audit: persistence failed")

var eventPrefix = []byte("audit:")

type Event struct {
	Seq         uint64    `json:"seq"`
	At          time.Time `json:"at"`
	Actor       string    `json:"actor"`
	Action      Action    `json:"action"`
	Count       int       `json:"count"`
	Scale       int64     `json:"scale,omitempty"`
	KeyID       string    `json:"keyId,omitempty"`
	AggregateID string    `json:"aggregateId,omitempty"`
}

type Log struct {
	mu   sync.Mutex
	kv   keyValStore.Store
	next uint64
	now  func() time.Time
}

func Open(kv keyValStore.Store) (*Log, error) {
	l := &Log{
		kv:   kv,
		next: 1,
		now:  func() time.Time { return time.Now().UTC() },
	}

	items, err := kv.GetItemsWithPrefix(eventPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if n := len(items); n > 0 {
		last := items[n-1][0]
		l.next = binary.BigEndian.Uint64(last[len(eventPrefix):]) + 1
	}
	return l, nil
}

func eventKey(seq uint64) []byte {
	key := make([]byte, len(eventPrefix)+8)
	copy(key, eventPrefix)
	binary.BigEndian.PutUint64(key[len(eventPrefix):], seq)
	return key
}

// Record persists e and returns it with sequence and time filled in.
func (l *Log) Record(e Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Seq = l.next
	e.At = l.now()
	if e.Actor == "" {
		e.Actor = "anonymous"
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return Event{}, err
	}
	if err := l.kv.Write(eventKey(e.Seq), raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	l.next++
	return e, nil
}

// Events returns the whole trail, oldest first.
func (l *Log) Events() ([]Event, error) {
	items, err := l.kv.GetItemsWithPrefix(eventPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		var e Event
		if err := json.Unmarshal(item[1], &e); err != nil {
			return nil, fmt.Errorf("corrupt audit record %x: %w", item[0], err)
		}
		events = append(events, e)
	}
	return events, nil
}
