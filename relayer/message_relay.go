package relayer

import (
	"context"
	"encoding/binary"
	"math/big"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/celer-network/go-bridge-relayer/db"
	"github.com/celer-network/go-bridge-relayer/message"
	"github.com/celer-network/go-bridge-relayer/receipts"
	"github.com/celer-network/go-bridge-relayer/relayerr"
	"github.com/celer-network/go-bridge-relayer/writer"
)

// ExecutionClient is the subset of ethclient.Client the message relay needs.
type ExecutionClient interface {
	receipts.Client
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type MessageConfig struct {
	Gateway      common.Address
	ChannelID    common.Hash
	PollInterval time.Duration
	FromBlock    uint64
	Batch        bool
}

// MessageRelay relays the outbound messages of one gateway channel, block by
// block, from the execution chain to the destination's inbound queue.
type MessageRelay struct {
	cfg     MessageConfig
	eth     ExecutionClient
	fetcher *receipts.Fetcher
	sink    Sink
	db      db.DB
}

func NewMessageRelay(cfg MessageConfig, eth ExecutionClient, fetcher *receipts.Fetcher, sink Sink, d db.DB) *MessageRelay {
	return &MessageRelay{cfg: cfg, eth: eth, fetcher: fetcher, sink: sink, db: d}
}

// Cursor is the next execution block the relay will process.
func (r *MessageRelay) Cursor() (uint64, error) {
	value, ok, err := r.db.Get(db.NamespaceRelayCursor, r.cfg.ChannelID.Bytes())
	if err != nil {
		return 0, err
	}
	if !ok {
		return r.cfg.FromBlock, nil
	}
	if len(value) != 8 {
		return 0, relayerr.Decodef("relay cursor of channel %s has %d bytes", r.cfg.ChannelID.Hex(), len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

func (r *MessageRelay) setCursor(next uint64) error {
	var value [8]byte
	binary.BigEndian.PutUint64(value[:], next)
	return r.db.Set(db.NamespaceRelayCursor, r.cfg.ChannelID.Bytes(), value[:])
}

// Start polls every PollInterval until ctx is done. Failed polls are logged
// and retried on the next tick from the same cursor.
func (r *MessageRelay) Start(ctx context.Context) error {
	next, err := r.Cursor()
	if err != nil {
		return err
	}
	logger.Info().Uint64("from", next).Str("channel", r.cfg.ChannelID.Hex()).
		Str("gateway", r.cfg.Gateway.Hex()).Msg("Starting message relay")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := r.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Err(err).Msg("Poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll relays every block from the cursor up to the lower of the finalized
// execution head and the newest execution block the destination has
// verified. It returns the number of messages submitted.
func (r *MessageRelay) Poll(ctx context.Context) (int, error) {
	if r.sink.NeedsResync() {
		if err := r.sink.Resync(ctx); err != nil {
			return 0, err
		}
	}
	next, err := r.Cursor()
	if err != nil {
		return 0, err
	}

	var head *types.Header
	err = read(ctx, "finalized head", func() error {
		h, err := r.eth.HeaderByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
		if err != nil {
			return relayerr.TransientIO(err, "fetch finalized head")
		}
		head = h
		return nil
	})
	if err != nil {
		return 0, err
	}

	var verified uint64
	err = read(ctx, "execution height", func() error {
		var err error
		verified, err = r.sink.LatestExecutionHeight()
		return err
	})
	if errors.Is(err, relayerr.ErrStorageNotFound) {
		logger.Debug().Msg("Destination has not verified any execution header")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	upper := min(head.Number.Uint64(), verified)
	total := 0
	for n := next; n <= upper; n++ {
		var header *types.Header
		err := read(ctx, "header", func() error {
			h, err := r.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
			if err != nil {
				return relayerr.TransientIO(err, "fetch header %d", n)
			}
			header = h
			return nil
		})
		if err != nil {
			return total, err
		}
		count, err := r.RelayBlock(ctx, header.Hash())
		if err != nil {
			return total, errors.Wrapf(err, "relay block %d", n)
		}
		total += count
		if err := r.setCursor(n + 1); err != nil {
			return total, err
		}
	}
	return total, nil
}

// RelayBlock submits the channel's messages in blockHash that the destination
// has not accepted yet and returns how many it submitted.
func (r *MessageRelay) RelayBlock(ctx context.Context, blockHash common.Hash) (int, error) {
	var (
		block *types.Block
		rs    types.Receipts
	)
	err := read(ctx, "receipts", func() error {
		var err error
		block, rs, err = r.fetcher.FetchBlockReceipts(ctx, blockHash)
		return err
	})
	if err != nil {
		return 0, err
	}

	rt, err := message.NewReceiptTrie(rs)
	if err != nil {
		return 0, err
	}
	if err := rt.CheckRoot(block.Header()); err != nil {
		return 0, err
	}

	events, err := message.GatewayEvents(rs, r.cfg.Gateway)
	if err != nil {
		return 0, err
	}
	inbound, err := r.inboundNonce(ctx)
	if err != nil {
		return 0, err
	}

	var msgs []*message.Message
	for _, event := range events {
		if event.ChannelID != r.cfg.ChannelID || event.Nonce <= inbound {
			continue
		}
		m, err := message.Assemble(rt, blockHash, event)
		if err != nil {
			return 0, err
		}
		if err := m.Verify(block.ReceiptHash()); err != nil {
			return 0, err
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := r.submit(ctx, msgs); err != nil {
		return 0, err
	}
	logger.Info().Uint64("block", block.NumberU64()).Int("messages", len(msgs)).
		Uint64("first", msgs[0].Event.Nonce).Uint64("last", msgs[len(msgs)-1].Event.Nonce).
		Msg("Relayed messages")
	return len(msgs), nil
}

func (r *MessageRelay) inboundNonce(ctx context.Context) (uint64, error) {
	var nonce uint64
	err := read(ctx, "inbound nonce", func() error {
		var err error
		nonce, err = r.sink.InboundNonce(gsrpc.NewH256(r.cfg.ChannelID.Bytes()))
		return err
	})
	if errors.Is(err, relayerr.ErrStorageNotFound) {
		logger.Info().Str("channel", r.cfg.ChannelID.Hex()).Msg("No inbound nonce on destination, starting from 0")
		return 0, nil
	}
	return nonce, err
}

func (r *MessageRelay) submit(ctx context.Context, msgs []*message.Message) error {
	if r.cfg.Batch {
		items := make([]writer.Args, len(msgs))
		for i, m := range msgs {
			items[i] = writer.Args{m.Payload()}
		}
		return r.sink.BatchCall(ctx, submitMessageCall, items)
	}
	// The inbound queue accepts nonces in order only.
	for _, m := range msgs {
		if err := r.sink.SubmitAndRateLimit(ctx, submitMessageCall, m.Payload()); err != nil {
			return errors.Wrapf(err, "submit message %d", m.Event.Nonce)
		}
	}
	return nil
}
