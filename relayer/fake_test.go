package relayer

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	retry "github.com/avast/retry-go"
	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/require"

	"github.com/celer-network/go-bridge-relayer/message"
	"github.com/celer-network/go-bridge-relayer/relayerr"
	"github.com/celer-network/go-bridge-relayer/writer"
)

func init() {
	rtyDel = retry.Delay(time.Millisecond)
}

var (
	gateway      = common.HexToAddress("0xEDa338E4dC46038493b885327842fD3E301CaB39")
	channelID    = common.HexToHash("0xc173fac324158e77fb5840738a1a541f633cbec8884c6a601c567d2b376a0539")
	otherChannel = common.HexToHash("0x01")
)

type outbound struct {
	channel common.Hash
	nonce   uint64
}

func outboundLog(t *testing.T, channel common.Hash, nonce uint64) *types.Log {
	payload := []byte(fmt.Sprintf("message %d", nonce))
	data, err := message.PackOutboundData(nonce, payload)
	require.NoError(t, err)
	return &types.Log{
		Address: gateway,
		Topics:  []common.Hash{message.OutboundMessageAcceptedTopic, channel, crypto.Keccak256Hash(payload)},
		Data:    data,
	}
}

// fakeEth serves a chain of blocks numbered from 1.
type fakeEth struct {
	lock      sync.Mutex
	blocks    map[common.Hash]*types.Block
	byNumber  map[uint64]*types.Block
	receipts  map[common.Hash]*types.Receipt
	finalized uint64
	// failures is the number of receipt requests that fail before one succeeds.
	failures int
	calls    int
}

func newFakeEth() *fakeEth {
	return &fakeEth{
		blocks:   make(map[common.Hash]*types.Block),
		byNumber: make(map[uint64]*types.Block),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

// addBlock appends a block with one transaction per entry of logs; a nil
// entry is a transaction without gateway logs.
func (e *fakeEth) addBlock(t *testing.T, logs ...*outbound) *types.Block {
	e.lock.Lock()
	defer e.lock.Unlock()

	number := uint64(len(e.byNumber) + 1)
	txs := make([]*types.Transaction, len(logs))
	rs := make(types.Receipts, len(logs))
	for i, o := range logs {
		txs[i] = types.NewTx(&types.LegacyTx{Nonce: number*100 + uint64(i), Gas: 21000, GasPrice: big.NewInt(1)})
		rs[i] = &types.Receipt{
			Type:              types.LegacyTxType,
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: uint64(21000 * (i + 1)),
			TxHash:            txs[i].Hash(),
			TransactionIndex:  uint(i),
		}
		if o != nil {
			rs[i].Logs = []*types.Log{outboundLog(t, o.channel, o.nonce)}
		}
		e.receipts[txs[i].Hash()] = rs[i]
	}
	block := types.NewBlock(&types.Header{Number: new(big.Int).SetUint64(number)},
		&types.Body{Transactions: txs}, rs, trie.NewStackTrie(nil))
	e.blocks[block.Hash()] = block
	e.byNumber[number] = block
	return block
}

func (e *fakeEth) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.calls++
	if e.failures > 0 {
		e.failures--
		return nil, fmt.Errorf("connection reset")
	}
	r, ok := e.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return r, nil
}

func (e *fakeEth) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	b, ok := e.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return b, nil
}

func (e *fakeEth) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	n := e.finalized
	if number.Sign() >= 0 {
		n = number.Uint64()
	}
	b, ok := e.byNumber[n]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return b.Header(), nil
}

// fakeSink accepts every submission and advances the inbound nonce by the
// number of messages it received.
type fakeSink struct {
	lock        sync.Mutex
	inbound     uint64
	noInbound   bool
	height      uint64
	noHeight    bool
	checkpoint  *writer.Checkpoint
	needsResync bool
	resyncs     int
	submitErr   error

	batches  [][]writer.Args
	singles  []message.Payload
	watched  []interface{}
	attempts int
}

func (s *fakeSink) InboundNonce(channel gsrpc.H256) (uint64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.noInbound {
		return 0, relayerr.StorageNotFound(relayerr.StoragePath{Module: "EthereumInboundQueue", Item: "Nonce", Key: channel[:]}, nil)
	}
	return s.inbound, nil
}

func (s *fakeSink) LatestExecutionHeight() (uint64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.noHeight {
		return 0, relayerr.StorageNotFound(relayerr.StoragePath{Module: "EthereumBeaconClient", Item: "LatestExecutionState"}, nil)
	}
	return s.height, nil
}

func (s *fakeSink) LatestFinalizedCheckpoint() (*writer.Checkpoint, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.checkpoint == nil {
		return nil, relayerr.StorageNotFound(relayerr.StoragePath{Module: "EthereumBeaconClient", Item: "LatestFinalizedBlockRoot"}, nil)
	}
	return s.checkpoint, nil
}

func (s *fakeSink) SubmitAndRateLimit(ctx context.Context, call string, args ...interface{}) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.attempts++
	if s.submitErr != nil {
		return s.submitErr
	}
	s.singles = append(s.singles, args[0].(message.Payload))
	s.inbound++
	return nil
}

func (s *fakeSink) SubmitAndWatch(ctx context.Context, call string, args ...interface{}) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.attempts++
	if s.submitErr != nil {
		return s.submitErr
	}
	s.watched = append(s.watched, args[0])
	return nil
}

func (s *fakeSink) BatchCall(ctx context.Context, call string, items []writer.Args) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.attempts++
	if s.submitErr != nil {
		return s.submitErr
	}
	s.batches = append(s.batches, items)
	s.inbound += uint64(len(items))
	return nil
}

func (s *fakeSink) NeedsResync() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.needsResync
}

func (s *fakeSink) Resync(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.resyncs++
	s.needsResync = false
	return nil
}

// relayedNonces decodes the nonces of every submitted message in order.
func (s *fakeSink) relayedNonces(t *testing.T) []uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	var payloads []message.Payload
	for _, batch := range s.batches {
		for _, item := range batch {
			payloads = append(payloads, item[0].(message.Payload))
		}
	}
	payloads = append(payloads, s.singles...)

	nonces := []uint64{}
	for _, p := range payloads {
		l := &types.Log{Address: common.Address(p.EventLog.Address), Data: p.EventLog.Data}
		for _, topic := range p.EventLog.Topics {
			l.Topics = append(l.Topics, common.Hash(topic))
		}
		events, err := message.GatewayEvents(types.Receipts{{Logs: []*types.Log{l}}}, gateway)
		require.NoError(t, err)
		require.Len(t, events, 1)
		nonces = append(nonces, events[0].Nonce)
	}
	return nonces
}
