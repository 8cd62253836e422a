// Package writer is the only component that mutates the destination chain.
//
// A Writer owns the nonce of one signing account. Every extrinsic is built,
// signed and submitted inside one critical section, so two submissions never
// carry the same nonce. When an outcome leaves the local nonce in doubt the
// writer refuses further work until Resync re-reads it from chain state.
package writer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/semaphore"

	"github.com/celer-network/go-bridge-relayer/log"
	"github.com/celer-network/go-bridge-relayer/mortality"
	"github.com/celer-network/go-bridge-relayer/relayerr"
)

var logger = log.NewLogger("writer")

const (
	DefaultMaxWatchedExtrinsics = 16
	DefaultMaxBatchCallSize     = 8
	DefaultMortalityPeriod      = 64

	batchAllCall = "Utility.batch_all"
)

var (
	errNotInitialized     = errors.New("writer is not initialized")
	errAlreadyInitialized = errors.New("writer is already initialized")
)

// NoncePolicy decides when the local nonce moves past a submitted extrinsic.
type NoncePolicy int

const (
	// Optimistic advances the nonce as soon as the node accepts the
	// extrinsic and watches it outside the critical section. A later
	// rejection leaves every pipelined extrinsic behind it stale.
	Optimistic NoncePolicy = iota
	// Conservative holds the critical section until the extrinsic is
	// finalized and only then advances the nonce.
	Conservative
)

func (p NoncePolicy) String() string {
	switch p {
	case Optimistic:
		return "optimistic"
	case Conservative:
		return "conservative"
	}
	return fmt.Sprintf("NoncePolicy(%d)", int(p))
}

func ParseNoncePolicy(s string) (NoncePolicy, error) {
	switch strings.ToLower(s) {
	case "", "optimistic":
		return Optimistic, nil
	case "conservative":
		return Conservative, nil
	}
	return 0, errors.Newf("unknown nonce policy %q", s)
}

type Config struct {
	// MaxWatchedExtrinsics bounds SubmitAndRateLimit and BatchCall
	// extrinsics awaiting a terminal status.
	MaxWatchedExtrinsics int64
	// MaxBatchCallSize bounds the calls wrapped in one Utility.batch_all.
	MaxBatchCallSize int
	// MortalityPeriod is the validity window in blocks, a power of two.
	MortalityPeriod uint64
	NoncePolicy     NoncePolicy
}

func (c Config) withDefaults() Config {
	if c.MaxWatchedExtrinsics == 0 {
		c.MaxWatchedExtrinsics = DefaultMaxWatchedExtrinsics
	}
	if c.MaxBatchCallSize == 0 {
		c.MaxBatchCallSize = DefaultMaxBatchCallSize
	}
	if c.MortalityPeriod == 0 {
		c.MortalityPeriod = DefaultMortalityPeriod
	}
	return c
}

func (c Config) Validate() error {
	if c.MaxWatchedExtrinsics < 1 {
		return errors.Newf("max watched extrinsics must be positive, got %d", c.MaxWatchedExtrinsics)
	}
	if c.MaxBatchCallSize < 1 {
		return errors.Newf("max batch call size must be positive, got %d", c.MaxBatchCallSize)
	}
	if c.NoncePolicy != Optimistic && c.NoncePolicy != Conservative {
		return errors.Newf("unknown nonce policy %d", int(c.NoncePolicy))
	}
	return mortality.ValidatePeriod(c.MortalityPeriod)
}

// Args are the arguments of one call, in declaration order.
type Args []interface{}

type Writer struct {
	client  Client
	keypair signature.KeyringPair
	cfg     Config
	journal *Journal
	slots   *semaphore.Weighted

	// lock is the critical section every submission goes through.
	lock        sync.Mutex
	initialized bool
	nonce       uint64
	genesisHash types.Hash

	needsResync atomic.Bool
}

// NewWriter creates a writer signing with keypair. journal may be nil.
// Zero config fields take their defaults.
func NewWriter(client Client, keypair signature.KeyringPair, cfg Config, journal *Journal) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Writer{
		client:  client,
		keypair: keypair,
		cfg:     cfg,
		journal: journal,
		slots:   semaphore.NewWeighted(cfg.MaxWatchedExtrinsics),
	}, nil
}

// Initialize reads the account nonce and the genesis hash. It must succeed
// once before anything is submitted.
func (wr *Writer) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wr.lock.Lock()
	defer wr.lock.Unlock()

	if wr.initialized {
		return errAlreadyInitialized
	}
	genesisHash, err := wr.client.GenesisHash()
	if err != nil {
		return relayerr.TransientIO(err, "read genesis hash")
	}
	nonce, err := wr.AccountNonce()
	if err != nil {
		return err
	}
	wr.genesisHash = genesisHash
	wr.nonce = nonce
	wr.initialized = true
	logger.Info().Str("account", wr.keypair.Address).Uint64("nonce", nonce).
		Str("policy", wr.cfg.NoncePolicy.String()).Msg("writer initialized")
	return nil
}

// Resync resets the local nonce to the on-chain account nonce and clears the
// conflict state. Extrinsics still in flight under the optimistic policy may
// fail afterwards and mark the writer again.
func (wr *Writer) Resync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wr.lock.Lock()
	defer wr.lock.Unlock()

	if !wr.initialized {
		return errNotInitialized
	}
	if err := wr.client.Refresh(); err != nil {
		return relayerr.TransientIO(err, "refresh runtime metadata")
	}
	nonce, err := wr.AccountNonce()
	if err != nil {
		return err
	}
	logger.Warn().Uint64("local", wr.nonce).Uint64("chain", nonce).Msg("nonce resynchronized")
	wr.nonce = nonce
	wr.needsResync.Store(false)
	return nil
}

// Nonce returns the nonce the next extrinsic will carry.
func (wr *Writer) Nonce() uint64 {
	wr.lock.Lock()
	defer wr.lock.Unlock()
	return wr.nonce
}

// NeedsResync reports whether submissions fail until Resync is called.
func (wr *Writer) NeedsResync() bool {
	return wr.needsResync.Load()
}

// SubmitAndRateLimit waits for one of MaxWatchedExtrinsics watch slots, then
// submits call and blocks until its terminal status.
func (wr *Writer) SubmitAndRateLimit(ctx context.Context, call string, args ...interface{}) error {
	if err := wr.slots.Acquire(ctx, 1); err != nil {
		return errors.Wrapf(err, "wait for a watch slot for %s", call)
	}
	defer wr.slots.Release(1)

	c, err := wr.client.NewCall(call, args...)
	if err != nil {
		return relayerr.Encoding(err, call)
	}
	return wr.write(ctx, call, c)
}

// SubmitAndWatch submits call and follows its status stream. It succeeds only
// once the extrinsic is finalized.
func (wr *Writer) SubmitAndWatch(ctx context.Context, call string, args ...interface{}) error {
	c, err := wr.client.NewCall(call, args...)
	if err != nil {
		return relayerr.Encoding(err, call)
	}
	return wr.write(ctx, call, c)
}

// BatchCall submits one call per item, grouped into Utility.batch_all
// extrinsics of at most MaxBatchCallSize calls. Each group uses one nonce and
// lands all or nothing. Every group is encoded before the first submission,
// so an item that fails to encode aborts the whole batch untouched.
func (wr *Writer) BatchCall(ctx context.Context, call string, items []Args) error {
	size := wr.cfg.MaxBatchCallSize
	groups := make([]types.Call, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		calls := make([]types.Call, 0, end-start)
		for i, item := range items[start:end] {
			c, err := wr.client.NewCall(call, item...)
			if err != nil {
				return errors.Wrapf(relayerr.Encoding(err, call), "batch item %d", start+i)
			}
			calls = append(calls, c)
		}
		batch, err := wr.client.NewCall(batchAllCall, calls)
		if err != nil {
			return relayerr.Encoding(err, batchAllCall)
		}
		groups = append(groups, batch)
	}

	name := fmt.Sprintf("%s(%s)", batchAllCall, call)
	for i, batch := range groups {
		if err := wr.slots.Acquire(ctx, 1); err != nil {
			return errors.Wrapf(err, "wait for a watch slot for batch %d of %d", i+1, len(groups))
		}
		err := wr.write(ctx, name, batch)
		wr.slots.Release(1)
		if err != nil {
			return errors.Wrapf(err, "batch %d of %d", i+1, len(groups))
		}
	}
	return nil
}

// request is one extrinsic between build and its terminal status.
type request struct {
	call   string
	nonce  uint64
	anchor types.Hash
	era    mortality.Era
	ext    types.Extrinsic
	hash   types.Hash
	status Status
}

func (wr *Writer) write(ctx context.Context, name string, call types.Call) error {
	wr.lock.Lock()
	req, sub, err := wr.send(name, call)
	if err != nil {
		wr.lock.Unlock()
		return err
	}

	if wr.cfg.NoncePolicy == Conservative {
		defer wr.lock.Unlock()
		if err := wr.watch(ctx, req, sub); err != nil {
			return err
		}
		wr.nonce++
		return nil
	}

	wr.nonce++
	wr.lock.Unlock()
	return wr.watch(ctx, req, sub)
}

// send builds, signs and submits call with the current nonce. Caller holds
// the lock.
func (wr *Writer) send(name string, call types.Call) (*request, StatusSubscription, error) {
	if !wr.initialized {
		return nil, nil, errNotInitialized
	}
	if wr.needsResync.Load() {
		return nil, nil, relayerr.NonceConflict(nil, "nonce %d may be stale, resync before submitting %s", wr.nonce, name)
	}

	req, err := wr.build(name, call)
	if err != nil {
		return nil, nil, err
	}
	if err := wr.sign(req); err != nil {
		return nil, nil, err
	}

	sub, err := wr.client.SubmitAndWatch(req.ext)
	if err != nil {
		if isNonceRejection(err) {
			wr.needsResync.Store(true)
			wr.transition(req, StatusInvalid)
			return nil, nil, relayerr.NonceConflict(err, "submit %s with nonce %d", name, req.nonce)
		}
		if isPoolRejection(err) {
			// the nonce was never consumed, so no resync
			wr.transition(req, StatusInvalid)
			logger.Warn().Err(err).Str("call", name).Uint64("nonce", req.nonce).Msg("extrinsic rejected by the pool")
			return nil, nil, errors.WithSecondaryError(
				relayerr.TerminalSubmission(name, req.nonce, StatusInvalid.String(), req.hash.Hex()), err)
		}
		return nil, nil, relayerr.TransientIO(err, "submit %s with nonce %d", name, req.nonce)
	}
	wr.transition(req, StatusSubmitted)
	return req, sub, nil
}

// build anchors a new request at the finalized head.
func (wr *Writer) build(name string, call types.Call) (*request, error) {
	head, err := wr.client.FinalizedHead()
	if err != nil {
		return nil, relayerr.TransientIO(err, "read finalized head")
	}
	header, err := wr.client.Header(head)
	if err != nil {
		return nil, relayerr.TransientIO(err, "read header %s", head.Hex())
	}
	return &request{
		call:   name,
		nonce:  wr.nonce,
		anchor: head,
		era:    mortality.NewEra(uint64(header.Number), wr.cfg.MortalityPeriod),
		ext:    types.NewExtrinsic(call),
		status: StatusBuilt,
	}, nil
}

func (wr *Writer) sign(req *request) error {
	rv, err := wr.client.RuntimeVersion()
	if err != nil {
		return relayerr.TransientIO(err, "read runtime version")
	}
	opts := types.SignatureOptions{
		BlockHash:          req.anchor,
		Era:                req.era.Extrinsic(),
		GenesisHash:        wr.genesisHash,
		Nonce:              types.NewUCompactFromUInt(req.nonce),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	}
	if err := req.ext.Sign(wr.keypair, opts); err != nil {
		return errors.Wrapf(err, "sign %s with nonce %d", req.call, req.nonce)
	}
	encoded, err := codec.Encode(req.ext)
	if err != nil {
		return relayerr.Encoding(err, req.call)
	}
	sum := blake2b.Sum256(encoded)
	req.hash = types.NewHash(sum[:])
	wr.transition(req, StatusSigned)
	return nil
}

// watch follows sub to a terminal status. Anything that ends the watch
// without one leaves the nonce ambiguous.
func (wr *Writer) watch(ctx context.Context, req *request, sub StatusSubscription) error {
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			wr.ambiguous(req, "watch cancelled")
			return errors.Wrapf(ctx.Err(), "watch %s with nonce %d", req.call, req.nonce)

		case err := <-sub.Err():
			wr.ambiguous(req, "status stream failed")
			return relayerr.TransientIO(err, "watch %s with nonce %d", req.call, req.nonce)

		case es, ok := <-sub.Chan():
			if !ok {
				wr.ambiguous(req, "status stream closed")
				return relayerr.TransientIO(errors.New("status stream closed"), "watch %s with nonce %d", req.call, req.nonce)
			}
			status := statusOf(es)
			wr.transition(req, status)
			if !status.IsTerminal() {
				continue
			}
			block, _ := blockOf(es)
			if status == StatusFinalized {
				logger.Info().Str("call", req.call).Uint64("nonce", req.nonce).
					Str("extrinsic", req.hash.Hex()).Str("block", block.Hex()).Msg("extrinsic finalized")
				return nil
			}
			wr.needsResync.Store(true)
			logger.Warn().Str("call", req.call).Uint64("nonce", req.nonce).Str("extrinsic", req.hash.Hex()).
				Str("status", status.String()).Msg("extrinsic not finalized, writer needs resync")
			return relayerr.TerminalSubmission(req.call, req.nonce, status.String(), req.hash.Hex())
		}
	}
}

func (wr *Writer) ambiguous(req *request, reason string) {
	wr.needsResync.Store(true)
	logger.Warn().Str("call", req.call).Uint64("nonce", req.nonce).Str("extrinsic", req.hash.Hex()).
		Str("lastStatus", req.status.String()).Msg(reason + ", nonce state is ambiguous")
}

func (wr *Writer) transition(req *request, status Status) {
	req.status = status
	if logger.IsDebugEnabled() {
		logger.Debug().Str("call", req.call).Uint64("nonce", req.nonce).Str("status", status.String()).Msg("extrinsic status")
	}
	if wr.journal == nil {
		return
	}
	err := wr.journal.Record(Entry{
		Nonce:     req.nonce,
		Call:      req.call,
		Extrinsic: req.hash,
		Status:    status,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		logger.Warn().Err(err).Uint64("nonce", req.nonce).Msg("failed to journal extrinsic status")
	}
}

// isNonceRejection matches the pool errors for a nonce that is already used
// or not yet valid.
func isNonceRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"outdated", "stale", "in the future", "priority is too low"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Transaction pool error codes a node answers author_submitAndWatchExtrinsic
// with when it refuses an extrinsic outright.
const (
	poolInvalidTx         = 1010
	poolUnknownValidity   = 1011
	poolTemporarilyBanned = 1012
)

// isPoolRejection matches an explicit refusal by the node, as opposed to a
// transport failure.
func isPoolRejection(err error) bool {
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case poolInvalidTx, poolUnknownValidity, poolTemporarilyBanned:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"invalid transaction", "unknown transaction", "temporarily banned"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
