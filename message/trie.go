package message

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"

	"github.com/celer-network/go-bridge-relayer/relayerr"
)

var errNodeNotFound = errors.New("proof node not found")

// ReceiptTrie is the receipts trie of one block, keyed by rlp(tx index).
type ReceiptTrie struct {
	trie     *trie.Trie
	receipts types.Receipts
}

// NewReceiptTrie rebuilds the receipts trie of a block.
func NewReceiptTrie(receipts types.Receipts) (*ReceiptTrie, error) {
	tr := trie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))
	var buf bytes.Buffer
	for i := range receipts {
		buf.Reset()
		receipts.EncodeIndex(i, &buf)
		if err := tr.Update(receiptKey(uint64(i)), common.CopyBytes(buf.Bytes())); err != nil {
			return nil, err
		}
	}
	return &ReceiptTrie{trie: tr, receipts: receipts}, nil
}

func receiptKey(txIndex uint64) []byte {
	key, _ := rlp.EncodeToBytes(txIndex)
	return key
}

func (t *ReceiptTrie) Root() common.Hash {
	return t.trie.Hash()
}

// CheckRoot fails if the rebuilt trie does not commit to the receipts root of
// the block header.
func (t *ReceiptTrie) CheckRoot(header *types.Header) error {
	if root := t.Root(); root != header.ReceiptHash {
		return relayerr.Decodef("receipts of block %s hash to %s, header has %s",
			header.Hash().Hex(), root.Hex(), header.ReceiptHash.Hex())
	}
	return nil
}

func (t *ReceiptTrie) Receipts() types.Receipts {
	return t.receipts
}

// Prove writes the nodes proving the receipt at txIndex into proof.
func (t *ReceiptTrie) Prove(txIndex uint64, proof *Proof) error {
	if txIndex >= uint64(len(t.receipts)) {
		return relayerr.ProofMisuse("tx index %d out of range, block has %d receipts", txIndex, len(t.receipts))
	}
	return t.trie.Prove(receiptKey(txIndex), proof)
}
