// Package receipts fetches the execution receipts of a block in transaction
// order with a bounded number of requests in flight.
package receipts

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/celer-network/go-bridge-relayer/log"
	"github.com/celer-network/go-bridge-relayer/relayerr"
)

var logger = log.NewLogger("receipts")

const DefaultWindowSize = 100

// Client is the subset of ethclient.Client the fetcher needs.
type Client interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)
}

type Fetcher struct {
	client     Client
	windowSize int
}

// NewFetcher returns a fetcher that keeps at most windowSize receipt requests
// outstanding. A non-positive window falls back to DefaultWindowSize.
func NewFetcher(client Client, windowSize int) *Fetcher {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Fetcher{client: client, windowSize: windowSize}
}

func (f *Fetcher) WindowSize() int {
	return f.windowSize
}

// FetchBlockReceipts returns the receipts of every transaction in the block.
func (f *Fetcher) FetchBlockReceipts(ctx context.Context, blockHash common.Hash) (*types.Block, types.Receipts, error) {
	block, err := f.client.BlockByHash(ctx, blockHash)
	if err != nil {
		return nil, nil, relayerr.TransientIO(err, "fetch block %s", blockHash.Hex())
	}
	txs := block.Transactions()
	hashes := make([]common.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	receipts, err := f.FetchReceipts(ctx, hashes)
	if err != nil {
		return nil, nil, err
	}
	return block, receipts, nil
}

// FetchReceipts returns one receipt per hash, index i holding the receipt of
// txHashes[i]. Requests are issued in windows; the first failure cancels the
// rest of its window and fails the whole call, so either every receipt is
// returned or none is.
func (f *Fetcher) FetchReceipts(ctx context.Context, txHashes []common.Hash) (types.Receipts, error) {
	receipts := make(types.Receipts, len(txHashes))
	for start := 0; start < len(txHashes); start += f.windowSize {
		end := start + f.windowSize
		if end > len(txHashes) {
			end = len(txHashes)
		}
		if err := f.fetchWindow(ctx, txHashes, receipts, start, end); err != nil {
			return nil, err
		}
	}
	logger.Debug().Int("txs", len(txHashes)).Int("window", f.windowSize).Msg("Fetched receipts")
	return receipts, nil
}

func (f *Fetcher) fetchWindow(ctx context.Context, txHashes []common.Hash, out types.Receipts, start, end int) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := start; i < end; i++ {
		i := i
		g.Go(func() error {
			receipt, err := f.client.TransactionReceipt(gctx, txHashes[i])
			if err != nil {
				return relayerr.TransientIO(err, "fetch receipt of tx %d (%s)", i, txHashes[i].Hex())
			}
			if receipt == nil {
				return relayerr.TransientIO(errNoReceipt, "fetch receipt of tx %d (%s)", i, txHashes[i].Hex())
			}
			out[i] = receipt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn().Err(err).Int("start", start).Int("end", end).Msg("Receipt window failed")
		return err
	}
	return ctx.Err()
}

var errNoReceipt = errors.New("receipt not found")
