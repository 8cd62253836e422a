package badgerdb

import (
	"time"

	"github.com/celer-network/go-bridge-relayer/log"
	"github.com/dgraph-io/badger/v2"
)

type Bulk struct {
	db        *DB
	bulk      *badger.WriteBatch
	createT   time.Time
	setCount  uint
	delCount  uint
	keySize   uint64
	valueSize uint64
}

func (bulk *Bulk) Set(namespace []byte, key []byte, value []byte) error {
	key = dbKey(namespace, key)
	if value == nil {
		value = []byte{}
	}
	if err := bulk.bulk.Set(key, value); err != nil {
		return err
	}
	bulk.setCount++
	bulk.keySize += uint64(len(key))
	bulk.valueSize += uint64(len(value))
	return nil
}

func (bulk *Bulk) Delete(namespace []byte, key []byte) error {
	if err := bulk.bulk.Delete(dbKey(namespace, key)); err != nil {
		return err
	}
	bulk.delCount++
	return nil
}

func (bulk *Bulk) Flush() error {
	writeStartT := time.Now()
	err := bulk.bulk.Flush()
	writeEndT := time.Now()

	// warn when the flush alone takes 100ms or the whole bulk 500ms
	if writeEndT.Sub(writeStartT) > slowCommitThreshold || writeEndT.Sub(bulk.createT) > 5*slowCommitThreshold {
		logger.Warn().Str("name", bulk.db.name).Str("callstack1", log.SkipCaller(2)).Str("callstack2", log.SkipCaller(3)).
			Dur("prepareAndCommitTime", writeStartT.Sub(bulk.createT)).
			Uint("delCount", bulk.delCount).Uint("setCount", bulk.setCount).
			Uint64("setKeySize", bulk.keySize).Uint64("setValueSize", bulk.valueSize).
			Dur("flushTime", writeEndT.Sub(writeStartT)).Msg("flush takes long time")
	}
	return err
}

func (bulk *Bulk) DiscardLast() {
	bulk.bulk.Cancel()
}
