package message

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celer-network/go-bridge-relayer/log"
	"github.com/celer-network/go-bridge-relayer/relayerr"
)

var logger = log.NewLogger("message")

// Proof collects the trie nodes visited while proving one receipt. It is the
// ethdb.KeyValueWriter handed to trie.Prove, and the ethdb.KeyValueReader
// handed to trie.VerifyProof when checking it locally. Nodes can only be
// appended.
type Proof struct {
	BlockHash common.Hash
	TxIndex   uint64
	Keys      [][]byte
	Values    [][]byte
}

func NewProof(blockHash common.Hash, txIndex uint64) *Proof {
	return &Proof{BlockHash: blockHash, TxIndex: txIndex}
}

func (p *Proof) Put(key []byte, value []byte) error {
	p.Keys = append(p.Keys, common.CopyBytes(key))
	p.Values = append(p.Values, common.CopyBytes(value))
	return nil
}

// Delete always fails: a proof under construction is never altered.
func (p *Proof) Delete(key []byte) error {
	err := relayerr.ProofMisuse("delete of key 0x%x from proof of tx %d in block %s", key, p.TxIndex, p.BlockHash.Hex())
	logger.Error().Err(err).Msg("Proof accumulator misuse")
	return err
}

func (p *Proof) DeleteRange(start, end []byte) error {
	err := relayerr.ProofMisuse("range delete [0x%x, 0x%x) from proof of tx %d in block %s", start, end, p.TxIndex, p.BlockHash.Hex())
	logger.Error().Err(err).Msg("Proof accumulator misuse")
	return err
}

func (p *Proof) Has(key []byte) (bool, error) {
	return p.index(key) >= 0, nil
}

func (p *Proof) Get(key []byte) ([]byte, error) {
	i := p.index(key)
	if i < 0 {
		return nil, errNodeNotFound
	}
	return p.Values[i], nil
}

func (p *Proof) Len() int {
	return len(p.Keys)
}

func (p *Proof) index(key []byte) int {
	for i, k := range p.Keys {
		if bytes.Equal(k, key) {
			return i
		}
	}
	return -1
}
