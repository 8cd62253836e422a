package memorydb

import (
	"errors"
	"sync"

	relaydb "github.com/celer-network/go-bridge-relayer/db"
)

type txOp struct {
	isSet bool
	key   []byte
	value []byte
}

// batch buffers operations until they are applied under the db lock at once.
type batch struct {
	txLock    sync.Mutex
	db        *DB
	ops       []txOp
	isDiscard bool
	isCommit  bool
}

func (b *batch) set(namespace []byte, key []byte, value []byte) error {
	b.txLock.Lock()
	defer b.txLock.Unlock()

	b.ops = append(b.ops, txOp{true, relaydb.PrependNamespace(namespace, key), copyBytes(value)})
	return nil
}

func (b *batch) delete(namespace []byte, key []byte) error {
	b.txLock.Lock()
	defer b.txLock.Unlock()

	b.ops = append(b.ops, txOp{false, relaydb.PrependNamespace(namespace, key), nil})
	return nil
}

func (b *batch) apply() error {
	b.txLock.Lock()
	defer b.txLock.Unlock()

	if b.isDiscard {
		return errors.New("commit after discard is not allowed")
	} else if b.isCommit {
		return errors.New("commit occurs two times")
	}

	b.db.lock.Lock()
	defer b.db.lock.Unlock()
	for _, op := range b.ops {
		if op.isSet {
			b.db.db[string(op.key)] = op.value
		} else {
			delete(b.db.db, string(op.key))
		}
	}
	b.isCommit = true
	return nil
}

func (b *batch) discard() {
	b.txLock.Lock()
	defer b.txLock.Unlock()

	b.isDiscard = true
}

type Transaction struct {
	batch
}

func (tx *Transaction) Set(namespace []byte, key []byte, value []byte) error {
	return tx.set(namespace, key, value)
}

func (tx *Transaction) Delete(namespace []byte, key []byte) error {
	return tx.delete(namespace, key)
}

func (tx *Transaction) Commit() error {
	return tx.apply()
}

func (tx *Transaction) Discard() {
	tx.discard()
}

type Bulk struct {
	batch
}

func (bulk *Bulk) Set(namespace []byte, key []byte, value []byte) error {
	return bulk.set(namespace, key, value)
}

func (bulk *Bulk) Delete(namespace []byte, key []byte) error {
	return bulk.delete(namespace, key)
}

func (bulk *Bulk) Flush() error {
	return bulk.apply()
}

func (bulk *Bulk) DiscardLast() {
	bulk.discard()
}
