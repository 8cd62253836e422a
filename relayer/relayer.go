// Package relayer moves gateway messages from finalized execution blocks and
// finalized beacon checkpoints to the destination chain.
package relayer

import (
	"context"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"github.com/celer-network/go-bridge-relayer/log"
	"github.com/celer-network/go-bridge-relayer/relayerr"
	"github.com/celer-network/go-bridge-relayer/writer"
)

var logger = log.NewLogger("relayer")

const (
	submitMessageCall    = "EthereumInboundQueue.submit"
	submitCheckpointCall = "EthereumBeaconClient.submit"
)

var (
	rtyAttNum = uint(5)
	rtyAtt    = retry.Attempts(rtyAttNum)
	rtyDel    = retry.Delay(time.Millisecond * 400)
	rtyErr    = retry.LastErrorOnly(true)
)

// Sink is the part of writer.Writer the relays drive.
type Sink interface {
	InboundNonce(channelID types.H256) (uint64, error)
	LatestExecutionHeight() (uint64, error)
	LatestFinalizedCheckpoint() (*writer.Checkpoint, error)
	SubmitAndRateLimit(ctx context.Context, call string, args ...interface{}) error
	SubmitAndWatch(ctx context.Context, call string, args ...interface{}) error
	BatchCall(ctx context.Context, call string, items []writer.Args) error
	NeedsResync() bool
	Resync(ctx context.Context) error
}

var _ Sink = (*writer.Writer)(nil)

// read retries fn while it fails with a transient error. Anything else,
// including every submission error, is returned on the first attempt.
func read(ctx context.Context, what string, fn func() error) error {
	return retry.Do(fn, rtyAtt, rtyDel, rtyErr,
		retry.Context(ctx),
		retry.RetryIf(relayerr.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Str("read", what).Msgf("Retrying %d/%d", n+1, rtyAttNum)
		}))
}
