package writer

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/celer-network/go-bridge-relayer/db"
)

// Entry is the last known state of one extrinsic signed with Nonce.
type Entry struct {
	Nonce     uint64
	Call      string
	Extrinsic types.Hash
	Status    Status
	UpdatedAt time.Time
}

type journalRecord struct {
	Call      string
	Extrinsic [32]byte
	Status    uint8
	UpdatedAt uint64
}

// Journal keeps one Entry per signed extrinsic, keyed by nonce and extrinsic
// hash, so an operator can tell which extrinsic a resync skipped or replaced.
type Journal struct {
	db db.DB
}

func NewJournal(d db.DB) *Journal {
	return &Journal{db: d}
}

func nonceKey(nonce uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], nonce)
	return key[:]
}

func entryKey(nonce uint64, extrinsic types.Hash) []byte {
	return append(nonceKey(nonce), extrinsic[:]...)
}

// Record overwrites the entry of the extrinsic e.Extrinsic. Entries of other
// extrinsics signed with the same nonce are kept.
func (j *Journal) Record(e Entry) error {
	value, err := rlp.EncodeToBytes(&journalRecord{
		Call:      e.Call,
		Extrinsic: e.Extrinsic,
		Status:    uint8(e.Status),
		UpdatedAt: uint64(e.UpdatedAt.UnixNano()),
	})
	if err != nil {
		return errors.Wrapf(err, "encode journal entry %d", e.Nonce)
	}
	return j.db.Set(db.NamespaceJournal, entryKey(e.Nonce, e.Extrinsic), value)
}

func decodeEntry(nonce uint64, value []byte) (*Entry, error) {
	var rec journalRecord
	if err := rlp.DecodeBytes(value, &rec); err != nil {
		return nil, errors.Wrapf(err, "decode journal entry %d", nonce)
	}
	return &Entry{
		Nonce:     nonce,
		Call:      rec.Call,
		Extrinsic: types.Hash(rec.Extrinsic),
		Status:    Status(rec.Status),
		UpdatedAt: time.Unix(0, int64(rec.UpdatedAt)),
	}, nil
}

func (j *Journal) Get(nonce uint64, extrinsic types.Hash) (*Entry, bool, error) {
	value, ok, err := j.db.Get(db.NamespaceJournal, entryKey(nonce, extrinsic))
	if err != nil || !ok {
		return nil, false, err
	}
	e, err := decodeEntry(nonce, value)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Entries returns the entries with from <= nonce < to in nonce order. Entries
// sharing a nonce are ordered by their last update.
func (j *Journal) Entries(from, to uint64) ([]*Entry, error) {
	iter := j.db.Iterator(db.NamespaceJournal, nonceKey(from), nonceKey(to))
	defer iter.Close()

	var entries []*Entry
	for ; iter.Valid(); iter.Next() {
		key, err := iter.Key()
		if err != nil {
			return nil, err
		}
		value, err := iter.Value()
		if err != nil {
			return nil, err
		}
		if len(key) < 8 {
			return nil, errors.Newf("malformed journal key %x", key)
		}
		e, err := decodeEntry(binary.BigEndian.Uint64(key[:8]), value)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(a, b int) bool {
		if entries[a].Nonce != entries[b].Nonce {
			return entries[a].Nonce < entries[b].Nonce
		}
		return entries[a].UpdatedAt.Before(entries[b].UpdatedAt)
	})
	return entries, nil
}

// Prune deletes the entries below nonce and returns how many it removed.
func (j *Journal) Prune(below uint64) (int, error) {
	entries, err := j.Entries(0, below)
	if err != nil {
		return 0, err
	}
	bulk := j.db.NewBulk()
	for _, e := range entries {
		if err := bulk.Delete(db.NamespaceJournal, entryKey(e.Nonce, e.Extrinsic)); err != nil {
			bulk.DiscardLast()
			return 0, err
		}
	}
	if err := bulk.Flush(); err != nil {
		return 0, err
	}
	return len(entries), nil
}
