package writer

import (
	"sync"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"github.com/celer-network/go-bridge-relayer/relayerr"
)

// Client is the destination chain connection the writer signs and submits
// through. Calls and storage keys are resolved against the runtime metadata
// the client holds.
type Client interface {
	NewCall(call string, args ...interface{}) (types.Call, error)
	StorageKey(module, item string, keys ...[]byte) (types.StorageKey, error)
	GenesisHash() (types.Hash, error)
	FinalizedHead() (types.Hash, error)
	Header(hash types.Hash) (*types.Header, error)
	RuntimeVersion() (*types.RuntimeVersion, error)
	StorageRaw(key types.StorageKey) (*types.StorageDataRaw, error)
	SubmitAndWatch(ext types.Extrinsic) (StatusSubscription, error)
	// Refresh reloads the runtime metadata after an upgrade.
	Refresh() error
}

// StatusSubscription streams the pool status of one submitted extrinsic.
type StatusSubscription interface {
	Chan() <-chan types.ExtrinsicStatus
	Err() <-chan error
	Unsubscribe()
}

// RPCClient is a Client over a websocket connection to a substrate node.
type RPCClient struct {
	api *gsrpc.SubstrateAPI

	lock sync.RWMutex
	meta *types.Metadata
}

var _ Client = (*RPCClient)(nil)

func NewRPCClient(url string) (*RPCClient, error) {
	api, err := gsrpc.NewSubstrateAPI(url)
	if err != nil {
		return nil, relayerr.TransientIO(err, "connect to %s", url)
	}
	c := &RPCClient{api: api}
	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RPCClient) Refresh() error {
	meta, err := c.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return relayerr.TransientIO(err, "fetch runtime metadata")
	}
	c.lock.Lock()
	c.meta = meta
	c.lock.Unlock()
	return nil
}

func (c *RPCClient) metadata() *types.Metadata {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.meta
}

func (c *RPCClient) NewCall(call string, args ...interface{}) (types.Call, error) {
	return types.NewCall(c.metadata(), call, args...)
}

func (c *RPCClient) StorageKey(module, item string, keys ...[]byte) (types.StorageKey, error) {
	return types.CreateStorageKey(c.metadata(), module, item, keys...)
}

func (c *RPCClient) GenesisHash() (types.Hash, error) {
	return c.api.RPC.Chain.GetBlockHash(0)
}

func (c *RPCClient) FinalizedHead() (types.Hash, error) {
	return c.api.RPC.Chain.GetFinalizedHead()
}

func (c *RPCClient) Header(hash types.Hash) (*types.Header, error) {
	return c.api.RPC.Chain.GetHeader(hash)
}

func (c *RPCClient) RuntimeVersion() (*types.RuntimeVersion, error) {
	return c.api.RPC.State.GetRuntimeVersionLatest()
}

func (c *RPCClient) StorageRaw(key types.StorageKey) (*types.StorageDataRaw, error) {
	return c.api.RPC.State.GetStorageRawLatest(key)
}

func (c *RPCClient) SubmitAndWatch(ext types.Extrinsic) (StatusSubscription, error) {
	sub, err := c.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
