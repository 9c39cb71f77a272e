package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/chadiek/historia/internal/conversation"
)

// BadgerHistory keeps the history array under one key of a Badger database.
type BadgerHistory struct {
	db  *badger.DB
	key []byte
}

// OpenBadgerHistory opens (or creates) the database in dir. An empty dir opens an in-memory database.
func OpenBadgerHistory(dir, key string) (*BadgerHistory, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if key == "" {
		key = DefaultHistoryKey
	}
	return &BadgerHistory{db: db, key: []byte(key)}, nil
}

// LoadHistory reads the saved array; a missing key is an empty history.
func (b *BadgerHistory) LoadHistory(_ context.Context) ([]conversation.Session, error) {
	var history []conversation.Session
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			h, err := decodeHistory(val)
			history = h
			return err
		})
	})
	return history, err
}

// SaveHistory overwrites the key with the whole array.
func (b *BadgerHistory) SaveHistory(_ context.Context, history []conversation.Session) error {
	data, err := encodeHistory(history)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key, data)
	})
}

// Close closes the database.
func (b *BadgerHistory) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
