package writer

import (
	"errors"
	"math/big"
	"sync"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
)

var errUnencodable = errors.New("argument does not match the declared type")

// badArg fails to encode in fakeChain.NewCall.
type badArg struct{}

var (
	finalized = []types.ExtrinsicStatus{
		{IsReady: true},
		{IsInBlock: true, AsInBlock: types.Hash{0xb1}},
		{IsFinalized: true, AsFinalized: types.Hash{0xb1}},
	}
	invalid = []types.ExtrinsicStatus{{IsReady: true}, {IsInvalid: true}}
)

type fakeSub struct {
	ch   chan types.ExtrinsicStatus
	errs chan error
	done chan struct{}
	once sync.Once
}

func (s *fakeSub) Chan() <-chan types.ExtrinsicStatus { return s.ch }
func (s *fakeSub) Err() <-chan error                  { return s.errs }
func (s *fakeSub) Unsubscribe()                       { s.once.Do(func() { close(s.done) }) }

// fakeChain is a destination chain with one account whose nonce advances
// when an extrinsic carrying it is finalized.
type fakeChain struct {
	lock       sync.Mutex
	chainNonce uint64
	storage    map[string][]byte
	submitted  []uint64
	exts       []types.Extrinsic
	batchSizes []int
	refreshes  int

	// script returns the statuses sent for an extrinsic with nonce. Nil or
	// empty means the stream stays silent.
	script func(nonce uint64) []types.ExtrinsicStatus
	// gate, if set, delays every stream until it is closed.
	gate chan struct{}
	// submitErr rejects a submission before it reaches the pool.
	submitErr func(nonce uint64) error
}

func newFakeChain(nonce uint64) *fakeChain {
	return &fakeChain{
		chainNonce: nonce,
		storage:    make(map[string][]byte),
		script:     func(uint64) []types.ExtrinsicStatus { return finalized },
	}
}

func storageKey(module, item string, keys ...[]byte) types.StorageKey {
	key := []byte(module + "/" + item)
	for _, k := range keys {
		key = append(key, k...)
	}
	return key
}

func (f *fakeChain) NewCall(call string, args ...interface{}) (types.Call, error) {
	var encoded []byte
	for _, arg := range args {
		if _, ok := arg.(badArg); ok {
			return types.Call{}, errUnencodable
		}
		b, err := codec.Encode(arg)
		if err != nil {
			return types.Call{}, err
		}
		encoded = append(encoded, b...)
	}
	if call == batchAllCall {
		f.lock.Lock()
		f.batchSizes = append(f.batchSizes, len(args[0].([]types.Call)))
		f.lock.Unlock()
	}
	return types.Call{CallIndex: types.CallIndex{SectionIndex: 1, MethodIndex: byte(len(call))}, Args: encoded}, nil
}

func (f *fakeChain) StorageKey(module, item string, keys ...[]byte) (types.StorageKey, error) {
	return storageKey(module, item, keys...), nil
}

func (f *fakeChain) GenesisHash() (types.Hash, error)   { return types.Hash{0x01}, nil }
func (f *fakeChain) FinalizedHead() (types.Hash, error) { return types.Hash{0x02}, nil }

func (f *fakeChain) Header(types.Hash) (*types.Header, error) {
	return &types.Header{Number: 100}, nil
}

func (f *fakeChain) RuntimeVersion() (*types.RuntimeVersion, error) {
	return &types.RuntimeVersion{SpecVersion: 1, TransactionVersion: 1}, nil
}

func (f *fakeChain) Refresh() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeChain) StorageRaw(key types.StorageKey) (*types.StorageDataRaw, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if string(key) == string(storageKey("System", "Account", signature.TestKeyringPairAlice.PublicKey)) {
		info := types.AccountInfo{Nonce: types.U32(f.chainNonce)}
		zero := types.NewU128(*big.NewInt(0))
		info.Data.Free, info.Data.Reserved, info.Data.MiscFrozen, info.Data.FreeFrozen = zero, zero, zero, zero
		b, err := codec.Encode(info)
		if err != nil {
			return nil, err
		}
		raw := types.NewStorageDataRaw(b)
		return &raw, nil
	}
	raw := types.NewStorageDataRaw(f.storage[string(key)])
	return &raw, nil
}

func (f *fakeChain) setStorage(key types.StorageKey, value interface{}) {
	b, err := codec.Encode(value)
	if err != nil {
		panic(err)
	}
	f.lock.Lock()
	f.storage[string(key)] = b
	f.lock.Unlock()
}

func nonceOf(ext types.Extrinsic) uint64 {
	return (*big.Int)(&ext.Signature.Nonce).Uint64()
}

func (f *fakeChain) SubmitAndWatch(ext types.Extrinsic) (StatusSubscription, error) {
	nonce := nonceOf(ext)
	if f.submitErr != nil {
		if err := f.submitErr(nonce); err != nil {
			return nil, err
		}
	}

	f.lock.Lock()
	f.submitted = append(f.submitted, nonce)
	f.exts = append(f.exts, ext)
	script, gate := f.script(nonce), f.gate
	f.lock.Unlock()

	sub := &fakeSub{
		ch:   make(chan types.ExtrinsicStatus),
		errs: make(chan error),
		done: make(chan struct{}),
	}
	go func() {
		if gate != nil {
			select {
			case <-gate:
			case <-sub.done:
				return
			}
		}
		for _, status := range script {
			if status.IsFinalized {
				f.finalize(nonce)
			}
			select {
			case sub.ch <- status:
			case <-sub.done:
				return
			}
		}
	}()
	return sub, nil
}

func (f *fakeChain) finalize(nonce uint64) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if nonce+1 > f.chainNonce {
		f.chainNonce = nonce + 1
	}
}

func (f *fakeChain) nonce() uint64 {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.chainNonce
}

func (f *fakeChain) submittedNonces() []uint64 {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]uint64(nil), f.submitted...)
}
