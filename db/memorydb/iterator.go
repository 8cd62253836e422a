package memorydb

import (
	"bytes"
	"errors"
	"sort"

	"github.com/celer-network/go-bridge-relayer/db"
)

// Iterator walks a snapshot of the keys taken when it was created.
type Iterator struct {
	namespace []byte
	keys      []string
	cursor    int
	db        *DB
}

func (mdb *DB) Iterator(namespace []byte, start []byte, end []byte) db.Iterator {
	mdb.lock.Lock()
	defer mdb.lock.Unlock()

	lower := db.PrependNamespace(namespace, start)
	upper := db.NamespaceEnd(namespace)
	if end != nil {
		upper = db.PrependNamespace(namespace, end)
	}

	var keys []string
	for key := range mdb.db {
		k := []byte(key)
		if bytes.Compare(k, lower) < 0 || (upper != nil && bytes.Compare(k, upper) >= 0) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &Iterator{
		namespace: namespace,
		keys:      keys,
		db:        mdb,
	}
}

func (iter *Iterator) Next() error {
	if !iter.Valid() {
		return errors.New("Iterator is Invalid")
	}
	iter.cursor++
	return nil
}

func (iter *Iterator) Valid() bool {
	return 0 <= iter.cursor && iter.cursor < len(iter.keys)
}

func (iter *Iterator) Key() ([]byte, error) {
	if !iter.Valid() {
		return nil, errors.New("Iterator is Invalid")
	}
	return db.StripNamespace(iter.namespace, []byte(iter.keys[iter.cursor])), nil
}

func (iter *Iterator) Value() ([]byte, error) {
	if !iter.Valid() {
		return nil, errors.New("Iterator is Invalid")
	}
	value, _, err := iter.db.Get(nil, []byte(iter.keys[iter.cursor]))
	return value, err
}

func (iter *Iterator) Close() {
	iter.keys = nil
}
