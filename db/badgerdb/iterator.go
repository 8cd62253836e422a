package badgerdb

import (
	"bytes"
	"errors"

	relaydb "github.com/celer-network/go-bridge-relayer/db"
	"github.com/dgraph-io/badger/v2"
)

type Iterator struct {
	namespace []byte
	end       []byte
	tx        *badger.Txn
	iter      *badger.Iterator
}

func (db *DB) Iterator(namespace []byte, start []byte, end []byte) relaydb.Iterator {
	tx := db.db.NewTransaction(false)

	opt := badger.DefaultIteratorOptions
	opt.PrefetchValues = false
	opt.Prefix = relaydb.PrependNamespace(namespace, nil)

	iter := tx.NewIterator(opt)
	iter.Seek(relaydb.PrependNamespace(namespace, start))

	var rawEnd []byte
	if end != nil {
		rawEnd = relaydb.PrependNamespace(namespace, end)
	}
	return &Iterator{
		namespace: namespace,
		end:       rawEnd,
		tx:        tx,
		iter:      iter,
	}
}

func (iter *Iterator) Next() error {
	if !iter.Valid() {
		return errors.New("invalid iterator")
	}
	iter.iter.Next()
	return nil
}

func (iter *Iterator) Valid() bool {
	if !iter.iter.Valid() {
		return false
	}
	return iter.end == nil || bytes.Compare(iter.iter.Item().Key(), iter.end) < 0
}

func (iter *Iterator) Key() ([]byte, error) {
	if !iter.Valid() {
		return nil, errors.New("invalid iterator")
	}
	return relaydb.StripNamespace(iter.namespace, iter.iter.Item().KeyCopy(nil)), nil
}

func (iter *Iterator) Value() ([]byte, error) {
	if !iter.Valid() {
		return nil, errors.New("invalid iterator")
	}
	return iter.iter.Item().ValueCopy(nil)
}

func (iter *Iterator) Close() {
	iter.iter.Close()
	iter.tx.Discard()
}
