// Package memorydb is a map backed db.DB for tests and for relays that do not
// keep a journal across restarts.
package memorydb

import (
	"sync"

	relaydb "github.com/celer-network/go-bridge-relayer/db"
)

// Enforce database and transaction implements interfaces
var _ relaydb.DB = (*DB)(nil)

type DB struct {
	lock sync.Mutex
	db   map[string][]byte
}

func NewDB() *DB {
	return &DB{db: make(map[string][]byte)}
}

func (db *DB) Type() string {
	return "memorydb"
}

func (db *DB) Set(namespace []byte, key []byte, value []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	db.db[string(relaydb.PrependNamespace(namespace, key))] = copyBytes(value)
	return nil
}

func (db *DB) Delete(namespace []byte, key []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	delete(db.db, string(relaydb.PrependNamespace(namespace, key)))
	return nil
}

func (db *DB) Get(namespace []byte, key []byte) ([]byte, bool, error) {
	db.lock.Lock()
	defer db.lock.Unlock()

	value, exists := db.db[string(relaydb.PrependNamespace(namespace, key))]
	if !exists {
		return nil, false, nil
	}
	return copyBytes(value), true, nil
}

func (db *DB) Exist(namespace []byte, key []byte) (bool, error) {
	db.lock.Lock()
	defer db.lock.Unlock()

	_, ok := db.db[string(relaydb.PrependNamespace(namespace, key))]
	return ok, nil
}

func (db *DB) Close() error {
	return nil
}

func (db *DB) NewTx() relaydb.Transaction {
	return &Transaction{batch{db: db}}
}

func (db *DB) NewBulk() relaydb.Bulk {
	return &Bulk{batch{db: db}}
}

func copyBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
