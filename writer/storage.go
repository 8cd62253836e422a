package writer

import (
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"

	"github.com/celer-network/go-bridge-relayer/relayerr"
)

const (
	beaconClientModule = "EthereumBeaconClient"
	inboundQueueModule = "EthereumInboundQueue"
)

func accountPath(publicKey []byte) relayerr.StoragePath {
	return relayerr.StoragePath{Module: "System", Item: "Account", Key: publicKey}
}

var (
	latestFinalizedRootPath = relayerr.StoragePath{Module: beaconClientModule, Item: "LatestFinalizedBlockRoot"}
	latestExecutionPath     = relayerr.StoragePath{Module: beaconClientModule, Item: "LatestExecutionState"}
)

func finalizedStatePath(root types.H256) relayerr.StoragePath {
	return relayerr.StoragePath{Module: beaconClientModule, Item: "FinalizedBeaconState", Key: root[:]}
}

func inboundNoncePath(channelID types.H256) relayerr.StoragePath {
	return relayerr.StoragePath{Module: inboundQueueModule, Item: "Nonce", Key: channelID[:]}
}

// CompactBeaconState is what the beacon client keeps per finalized root.
type CompactBeaconState struct {
	Slot           types.UCompact
	BlockRootsRoot types.H256
}

// ExecutionState is the latest execution header the beacon client verified.
type ExecutionState struct {
	BeaconBlockRoot types.H256
	BeaconSlot      types.U64
	BlockHash       types.H256
	BlockNumber     types.U64
}

// Checkpoint is the last beacon checkpoint the destination finalized.
type Checkpoint struct {
	BlockRoot      types.H256
	Slot           uint64
	BlockRootsRoot types.H256
}

// QueryStorage decodes the value at path into target. A missing value or one
// that does not decode as target is a StorageNotFound error.
func (wr *Writer) QueryStorage(path relayerr.StoragePath, target interface{}) error {
	var keys [][]byte
	if len(path.Key) > 0 {
		keys = append(keys, path.Key)
	}
	key, err := wr.client.StorageKey(path.Module, path.Item, keys...)
	if err != nil {
		return relayerr.StorageNotFound(path, err)
	}
	raw, err := wr.client.StorageRaw(key)
	if err != nil {
		return relayerr.TransientIO(err, "read storage %s", path)
	}
	if raw == nil || len(*raw) == 0 {
		return relayerr.StorageNotFound(path, nil)
	}
	if err := codec.Decode(*raw, target); err != nil {
		return relayerr.StorageNotFound(path, err)
	}
	return nil
}

// AccountNonce reads the on-chain nonce of the signing account.
func (wr *Writer) AccountNonce() (uint64, error) {
	var info types.AccountInfo
	if err := wr.QueryStorage(accountPath(wr.keypair.PublicKey), &info); err != nil {
		return 0, err
	}
	return uint64(info.Nonce), nil
}

func (wr *Writer) LatestFinalizedCheckpoint() (*Checkpoint, error) {
	var root types.H256
	if err := wr.QueryStorage(latestFinalizedRootPath, &root); err != nil {
		return nil, err
	}
	var state CompactBeaconState
	if err := wr.QueryStorage(finalizedStatePath(root), &state); err != nil {
		return nil, err
	}
	return &Checkpoint{
		BlockRoot:      root,
		Slot:           (*big.Int)(&state.Slot).Uint64(),
		BlockRootsRoot: state.BlockRootsRoot,
	}, nil
}

// LatestExecutionHeight is the number of the newest execution block the
// destination can verify receipts against.
func (wr *Writer) LatestExecutionHeight() (uint64, error) {
	var state ExecutionState
	if err := wr.QueryStorage(latestExecutionPath, &state); err != nil {
		return 0, err
	}
	return uint64(state.BlockNumber), nil
}

// InboundNonce is the nonce of the last message the destination accepted on
// channelID.
func (wr *Writer) InboundNonce(channelID types.H256) (uint64, error) {
	var nonce types.U64
	if err := wr.QueryStorage(inboundNoncePath(channelID), &nonce); err != nil {
		return 0, err
	}
	return uint64(nonce), nil
}
