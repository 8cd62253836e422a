package badgerdb

import (
	"time"

	"github.com/celer-network/go-bridge-relayer/log"
	"github.com/dgraph-io/badger/v2"
)

type Transaction struct {
	db        *DB
	tx        *badger.Txn
	createT   time.Time
	setCount  uint
	delCount  uint
	keySize   uint64
	valueSize uint64
}

func (transaction *Transaction) Set(namespace []byte, key []byte, value []byte) error {
	key = dbKey(namespace, key)
	if value == nil {
		value = []byte{}
	}
	if err := transaction.tx.Set(key, value); err != nil {
		return err
	}
	transaction.setCount++
	transaction.keySize += uint64(len(key))
	transaction.valueSize += uint64(len(value))
	return nil
}

func (transaction *Transaction) Delete(namespace []byte, key []byte) error {
	if err := transaction.tx.Delete(dbKey(namespace, key)); err != nil {
		return err
	}
	transaction.delCount++
	return nil
}

func (transaction *Transaction) Commit() error {
	writeStartT := time.Now()
	err := transaction.tx.Commit()
	if taken := time.Since(writeStartT); taken > slowCommitThreshold {
		logger.Warn().Str("name", transaction.db.name).Str("callstack1", log.SkipCaller(2)).Str("callstack2", log.SkipCaller(3)).
			Dur("prepareTime", writeStartT.Sub(transaction.createT)).
			Dur("takenTime", taken).
			Uint("delCount", transaction.delCount).Uint("setCount", transaction.setCount).
			Uint64("setKeySize", transaction.keySize).Uint64("setValueSize", transaction.valueSize).
			Msg("commit takes long time")
	}
	return err
}

func (transaction *Transaction) Discard() {
	transaction.tx.Discard()
}
