package writer

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celer-network/go-bridge-relayer/db/memorydb"
	"github.com/celer-network/go-bridge-relayer/mortality"
	"github.com/celer-network/go-bridge-relayer/relayerr"
)

const remark = "System.remark"

func newTestWriter(t *testing.T, chain *fakeChain, cfg Config) *Writer {
	wr, err := NewWriter(chain, signature.TestKeyringPairAlice, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, wr.Initialize(context.Background()))
	return wr
}

func TestConfigValidate(t *testing.T) {
	_, err := NewWriter(newFakeChain(0), signature.TestKeyringPairAlice, Config{MortalityPeriod: 100}, nil)
	assert.Error(t, err)
	_, err = NewWriter(newFakeChain(0), signature.TestKeyringPairAlice, Config{MaxBatchCallSize: -1}, nil)
	assert.Error(t, err)
	_, err = NewWriter(newFakeChain(0), signature.TestKeyringPairAlice, Config{NoncePolicy: 7}, nil)
	assert.Error(t, err)

	policy, err := ParseNoncePolicy("Conservative")
	require.NoError(t, err)
	assert.Equal(t, Conservative, policy)
	_, err = ParseNoncePolicy("eager")
	assert.Error(t, err)
}

func TestSubmitBeforeInitialize(t *testing.T) {
	chain := newFakeChain(5)
	wr, err := NewWriter(chain, signature.TestKeyringPairAlice, Config{}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, wr.SubmitAndWatch(context.Background(), remark, types.NewBytes([]byte("x"))), errNotInitialized)
	assert.ErrorIs(t, wr.Resync(context.Background()), errNotInitialized)
	assert.Empty(t, chain.submittedNonces())

	require.NoError(t, wr.Initialize(context.Background()))
	assert.ErrorIs(t, wr.Initialize(context.Background()), errAlreadyInitialized)
}

func TestSequentialNonces(t *testing.T) {
	for _, policy := range []NoncePolicy{Optimistic, Conservative} {
		t.Run(policy.String(), func(t *testing.T) {
			chain := newFakeChain(5)
			wr := newTestWriter(t, chain, Config{NoncePolicy: policy})
			assert.Equal(t, uint64(5), wr.Nonce())

			for i := 0; i < 3; i++ {
				require.NoError(t, wr.SubmitAndRateLimit(context.Background(), remark, types.NewBytes([]byte{byte(i)})))
			}
			assert.Equal(t, []uint64{5, 6, 7}, chain.submittedNonces())
			assert.Equal(t, uint64(8), chain.nonce())
			assert.Equal(t, uint64(8), wr.Nonce())
		})
	}
}

func TestMortalAnchor(t *testing.T) {
	chain := newFakeChain(0)
	wr := newTestWriter(t, chain, Config{MortalityPeriod: 32})
	require.NoError(t, wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil)))

	require.Len(t, chain.exts, 1)
	ext := chain.exts[0]
	assert.True(t, ext.IsSigned())
	assert.Equal(t, mortality.NewEra(100, 32).Extrinsic(), ext.Signature.Era)
}

func TestConcurrentSubmissionsUniqueNonces(t *testing.T) {
	chain := newFakeChain(5)
	wr := newTestWriter(t, chain, Config{MaxWatchedExtrinsics: 4})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, wr.SubmitAndRateLimit(context.Background(), remark, types.NewU32(uint32(i))))
		}(i)
	}
	wg.Wait()

	nonces := chain.submittedNonces()
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	want := make([]uint64, 20)
	for i := range want {
		want[i] = uint64(5 + i)
	}
	assert.Equal(t, want, nonces)
	assert.Equal(t, uint64(25), wr.Nonce())
}

func TestWatchSlots(t *testing.T) {
	chain := newFakeChain(0)
	chain.gate = make(chan struct{})
	wr := newTestWriter(t, chain, Config{MaxWatchedExtrinsics: 2})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, wr.SubmitAndRateLimit(context.Background(), remark, types.NewBytes(nil)))
		}()
	}
	assert.Eventually(t, func() bool { return len(chain.submittedNonces()) == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, chain.submittedNonces(), 2, "third submission waits for a slot")

	close(chain.gate)
	wg.Wait()
	assert.Equal(t, uint64(3), chain.nonce())
}

func TestOptimisticPipelining(t *testing.T) {
	chain := newFakeChain(5)
	chain.gate = make(chan struct{})
	wr := newTestWriter(t, chain, Config{NoncePolicy: Optimistic})

	first := make(chan error, 1)
	go func() { first <- wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil)) }()
	require.Eventually(t, func() bool { return wr.Nonce() == 6 }, time.Second, time.Millisecond,
		"nonce advances before finality")

	second := make(chan error, 1)
	go func() { second <- wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil)) }()
	require.Eventually(t, func() bool { return len(chain.submittedNonces()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(5), chain.nonce(), "nothing finalized yet")

	close(chain.gate)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, []uint64{5, 6}, chain.submittedNonces())
}

func TestConservativeHoldsUntilFinalized(t *testing.T) {
	chain := newFakeChain(5)
	chain.gate = make(chan struct{})
	wr := newTestWriter(t, chain, Config{NoncePolicy: Conservative})

	first := make(chan error, 1)
	go func() { first <- wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil)) }()
	require.Eventually(t, func() bool { return len(chain.submittedNonces()) == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil)) }()
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, chain.submittedNonces(), 1, "second submission waits for the first to finalize")

	close(chain.gate)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, []uint64{5, 6}, chain.submittedNonces())
	assert.Equal(t, uint64(7), chain.nonce())
}

func TestBatchCallGroups(t *testing.T) {
	chain := newFakeChain(5)
	wr := newTestWriter(t, chain, Config{MaxBatchCallSize: 3})

	items := make([]Args, 7)
	for i := range items {
		items[i] = Args{types.NewU64(uint64(i))}
	}
	require.NoError(t, wr.BatchCall(context.Background(), "EthereumInboundQueue.submit", items))

	assert.Equal(t, []int{3, 3, 1}, chain.batchSizes)
	assert.Equal(t, []uint64{5, 6, 7}, chain.submittedNonces(), "one nonce per group")
	assert.Equal(t, uint64(8), wr.Nonce())

	require.NoError(t, wr.BatchCall(context.Background(), "EthereumInboundQueue.submit", nil))
	assert.Len(t, chain.submittedNonces(), 3)
}

func TestBatchCallEncodingFailure(t *testing.T) {
	chain := newFakeChain(5)
	wr := newTestWriter(t, chain, Config{MaxBatchCallSize: 2})

	items := []Args{{types.NewU64(1)}, {types.NewU64(2)}, {types.NewU64(3)}, {badArg{}}}
	err := wr.BatchCall(context.Background(), "EthereumInboundQueue.submit", items)
	require.Error(t, err)
	assert.True(t, errors.Is(err, relayerr.ErrEncoding))
	assert.Contains(t, err.Error(), "EthereumInboundQueue.submit")
	assert.Contains(t, err.Error(), "batch item 3")

	assert.Empty(t, chain.submittedNonces())
	assert.Equal(t, uint64(5), wr.Nonce())
	assert.False(t, wr.NeedsResync())
}

func TestEncodingFailure(t *testing.T) {
	chain := newFakeChain(5)
	wr := newTestWriter(t, chain, Config{})

	err := wr.SubmitAndRateLimit(context.Background(), remark, badArg{})
	assert.True(t, errors.Is(err, relayerr.ErrEncoding))
	assert.Empty(t, chain.submittedNonces())
	assert.Equal(t, uint64(5), wr.Nonce())
}

func TestTerminalStatusRequiresResync(t *testing.T) {
	chain := newFakeChain(5)
	chain.script = func(nonce uint64) []types.ExtrinsicStatus {
		if nonce == 6 {
			return invalid
		}
		return finalized
	}
	wr := newTestWriter(t, chain, Config{})

	require.NoError(t, wr.SubmitAndRateLimit(context.Background(), remark, types.NewBytes(nil)))
	err := wr.SubmitAndRateLimit(context.Background(), remark, types.NewBytes(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, relayerr.ErrTerminalSubmission))
	var terminal *relayerr.TerminalSubmissionError
	require.True(t, errors.As(err, &terminal))
	assert.Equal(t, uint64(6), terminal.Nonce)
	assert.Equal(t, StatusInvalid.String(), terminal.Status)

	// the optimistic nonce moved past the rejected extrinsic
	assert.Equal(t, uint64(7), wr.Nonce())
	assert.True(t, wr.NeedsResync())

	err = wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil))
	assert.True(t, errors.Is(err, relayerr.ErrNonceConflict))
	assert.Equal(t, []uint64{5, 6}, chain.submittedNonces(), "nothing submitted while in conflict")

	require.NoError(t, wr.Resync(context.Background()))
	assert.Equal(t, 1, chain.refreshes)
	assert.False(t, wr.NeedsResync())
	assert.Equal(t, uint64(6), wr.Nonce())

	chain.script = func(uint64) []types.ExtrinsicStatus { return finalized }
	require.NoError(t, wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil)))
	assert.Equal(t, []uint64{5, 6, 6}, chain.submittedNonces())
	assert.Equal(t, uint64(7), chain.nonce())
}

func TestTerminalStatuses(t *testing.T) {
	for _, tc := range []struct {
		status types.ExtrinsicStatus
		want   Status
	}{
		{types.ExtrinsicStatus{IsDropped: true}, StatusDropped},
		{types.ExtrinsicStatus{IsInvalid: true}, StatusInvalid},
		{types.ExtrinsicStatus{IsUsurped: true, AsUsurped: types.Hash{9}}, StatusUsurped},
		{types.ExtrinsicStatus{IsFinalityTimeout: true, AsFinalityTimeout: types.Hash{9}}, StatusFinalityTimeout},
	} {
		t.Run(tc.want.String(), func(t *testing.T) {
			chain := newFakeChain(0)
			chain.script = func(uint64) []types.ExtrinsicStatus {
				return []types.ExtrinsicStatus{{IsReady: true}, {IsRetracted: true}, tc.status}
			}
			wr := newTestWriter(t, chain, Config{NoncePolicy: Conservative})

			err := wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil))
			var terminal *relayerr.TerminalSubmissionError
			require.True(t, errors.As(err, &terminal))
			assert.Equal(t, tc.want.String(), terminal.Status)
			assert.True(t, wr.NeedsResync())
			assert.Equal(t, uint64(0), wr.Nonce(), "conservative nonce only advances on finality")
		})
	}
}

func TestCancelledWatchRequiresResync(t *testing.T) {
	chain := newFakeChain(5)
	chain.script = func(uint64) []types.ExtrinsicStatus { return nil }
	wr := newTestWriter(t, chain, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- wr.SubmitAndWatch(ctx, remark, types.NewBytes(nil)) }()
	require.Eventually(t, func() bool { return len(chain.submittedNonces()) == 1 }, time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, wr.NeedsResync())
	assert.True(t, errors.Is(wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil)), relayerr.ErrNonceConflict))
}

func TestNonceRejection(t *testing.T) {
	chain := newFakeChain(5)
	chain.submitErr = func(uint64) error {
		return errors.New("1010: Invalid Transaction: Transaction is outdated")
	}
	wr := newTestWriter(t, chain, Config{})

	err := wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil))
	assert.True(t, errors.Is(err, relayerr.ErrNonceConflict))
	assert.True(t, wr.NeedsResync())
	assert.Equal(t, uint64(5), wr.Nonce())

	chain.submitErr = func(uint64) error { return errors.New("connection reset by peer") }
	require.NoError(t, wr.Resync(context.Background()))
	err = wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil))
	assert.True(t, errors.Is(err, relayerr.ErrTransientIO))
	assert.False(t, wr.NeedsResync(), "rejected before the pool saw it")
	assert.Equal(t, uint64(5), wr.Nonce())
}

// poolError carries a JSON-RPC error code the way the rpc client reports it.
type poolError struct {
	code int
	msg  string
}

func (e *poolError) Error() string  { return e.msg }
func (e *poolError) ErrorCode() int { return e.code }

func TestPoolRejection(t *testing.T) {
	for name, rejection := range map[string]error{
		"fees":   errors.New("1010: Invalid Transaction: Inability to pay some fees (e.g. account balance too low)"),
		"proof":  errors.New("1010: Invalid Transaction: Custom error: 3"),
		"coded":  &poolError{code: 1011, msg: "Could not lookup information required to validate the transaction"},
		"banned": &poolError{code: 1012, msg: "Transaction is temporarily banned"},
	} {
		t.Run(name, func(t *testing.T) {
			chain := newFakeChain(5)
			chain.submitErr = func(uint64) error { return rejection }
			journal := NewJournal(memorydb.NewDB())
			wr, err := NewWriter(chain, signature.TestKeyringPairAlice, Config{}, journal)
			require.NoError(t, err)
			require.NoError(t, wr.Initialize(context.Background()))

			err = wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil))
			require.Error(t, err)
			assert.True(t, errors.Is(err, relayerr.ErrTerminalSubmission))
			assert.False(t, errors.Is(err, relayerr.ErrTransientIO))
			assert.False(t, relayerr.IsRetryable(err))
			var terminal *relayerr.TerminalSubmissionError
			require.True(t, errors.As(err, &terminal))
			assert.Equal(t, StatusInvalid.String(), terminal.Status)
			assert.EqualValues(t, 5, terminal.Nonce)
			assert.False(t, wr.NeedsResync(), "the nonce was not consumed")
			assert.Equal(t, uint64(5), wr.Nonce())

			entries, err := journal.Entries(0, 100)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, StatusInvalid, entries[0].Status)

			chain.submitErr = nil
			require.NoError(t, wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil)))
			assert.Equal(t, uint64(6), wr.Nonce())
		})
	}
}

func TestJournalRecordsSubmissions(t *testing.T) {
	chain := newFakeChain(5)
	chain.script = func(nonce uint64) []types.ExtrinsicStatus {
		if nonce == 6 {
			return invalid
		}
		return finalized
	}
	journal := NewJournal(memorydb.NewDB())
	wr, err := NewWriter(chain, signature.TestKeyringPairAlice, Config{}, journal)
	require.NoError(t, err)
	require.NoError(t, wr.Initialize(context.Background()))

	require.NoError(t, wr.SubmitAndWatch(context.Background(), remark, types.NewBytes(nil)))
	require.Error(t, wr.SubmitAndWatch(context.Background(), "System.remark_with_event", types.NewBytes(nil)))

	entries, err := journal.Entries(0, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(5), entries[0].Nonce)
	assert.Equal(t, StatusFinalized, entries[0].Status)
	assert.Equal(t, remark, entries[0].Call)
	assert.NotEqual(t, types.Hash{}, entries[0].Extrinsic)
	assert.Equal(t, uint64(6), entries[1].Nonce)
	assert.Equal(t, StatusInvalid, entries[1].Status)
	assert.Equal(t, "System.remark_with_event", entries[1].Call)
}
