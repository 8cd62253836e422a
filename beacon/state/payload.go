package state

import (
	ssz "github.com/ferranbt/fastssz"

	"github.com/celer-network/go-bridge-relayer/relayerr"
)

const (
	capellaPayloadHeaderFixed = 568
	denebPayloadHeaderFixed   = 584
	maxExtraDataBytes         = 32

	// ExecutionBlockHashField is the block_hash position inside the payload header.
	ExecutionBlockHashField = 12
)

// ExecutionPayloadHeader commits to the execution block embedded in a beacon
// block. Deneb added the blob gas fields; Electra kept the Deneb layout.
type ExecutionPayloadHeader struct {
	ParentHash       Root
	FeeRecipient     [20]byte
	StateRoot        Root
	ReceiptsRoot     Root
	LogsBloom        [256]byte
	PrevRandao       Root
	BlockNumber      uint64
	GasLimit         uint64
	GasUsed          uint64
	Timestamp        uint64
	ExtraData        []byte
	BaseFeePerGas    [32]byte // little-endian uint256
	BlockHash        Root
	TransactionsRoot Root
	WithdrawalsRoot  Root
	BlobGasUsed      uint64
	ExcessBlobGas    uint64

	// HasBlobGas selects the Deneb layout.
	HasBlobGas bool
}

func (h *ExecutionPayloadHeader) fixedSize() int {
	if h.HasBlobGas {
		return denebPayloadHeaderFixed
	}
	return capellaPayloadHeaderFixed
}

func decodePayloadHeader(buf []byte, blobGas bool) (*ExecutionPayloadHeader, error) {
	h := &ExecutionPayloadHeader{HasBlobGas: blobGas}
	fixed := h.fixedSize()
	if len(buf) < fixed {
		return nil, relayerr.Decode(ssz.ErrSize, "execution payload header: %d bytes, need at least %d", len(buf), fixed)
	}
	r := &reader{buf: buf}
	h.ParentHash = r.root()
	r.read(h.FeeRecipient[:])
	h.StateRoot = r.root()
	h.ReceiptsRoot = r.root()
	r.read(h.LogsBloom[:])
	h.PrevRandao = r.root()
	h.BlockNumber = r.uint64()
	h.GasLimit = r.uint64()
	h.GasUsed = r.uint64()
	h.Timestamp = r.uint64()
	r.offset()
	r.read(h.BaseFeePerGas[:])
	h.BlockHash = r.root()
	h.TransactionsRoot = r.root()
	h.WithdrawalsRoot = r.root()
	if blobGas {
		h.BlobGasUsed = r.uint64()
		h.ExcessBlobGas = r.uint64()
	}
	tails, err := r.tails(buf, fixed)
	if err != nil {
		return nil, relayerr.Decode(err, "execution payload header")
	}
	if h.ExtraData, err = decodeBytes("extra_data", tails[0], maxExtraDataBytes); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *ExecutionPayloadHeader) sizeSSZ() int {
	return h.fixedSize() + len(h.ExtraData)
}

func (h *ExecutionPayloadHeader) encode(dst []byte) []byte {
	dst = append(dst, h.ParentHash[:]...)
	dst = append(dst, h.FeeRecipient[:]...)
	dst = append(dst, h.StateRoot[:]...)
	dst = append(dst, h.ReceiptsRoot[:]...)
	dst = append(dst, h.LogsBloom[:]...)
	dst = append(dst, h.PrevRandao[:]...)
	dst = ssz.MarshalUint64(dst, h.BlockNumber)
	dst = ssz.MarshalUint64(dst, h.GasLimit)
	dst = ssz.MarshalUint64(dst, h.GasUsed)
	dst = ssz.MarshalUint64(dst, h.Timestamp)
	dst = ssz.WriteOffset(dst, h.fixedSize())
	dst = append(dst, h.BaseFeePerGas[:]...)
	dst = append(dst, h.BlockHash[:]...)
	dst = append(dst, h.TransactionsRoot[:]...)
	dst = append(dst, h.WithdrawalsRoot[:]...)
	if h.HasBlobGas {
		dst = ssz.MarshalUint64(dst, h.BlobGasUsed)
		dst = ssz.MarshalUint64(dst, h.ExcessBlobGas)
	}
	return append(dst, h.ExtraData...)
}

func (h *ExecutionPayloadHeader) fields() []fieldHasher {
	bytesField := func(b []byte) fieldHasher {
		return func(hh ssz.HashWalker) error { hh.PutBytes(b); return nil }
	}
	uintField := func(v uint64) fieldHasher {
		return func(hh ssz.HashWalker) error { hh.PutUint64(v); return nil }
	}
	fields := []fieldHasher{
		bytesField(h.ParentHash[:]),
		bytesField(h.FeeRecipient[:]),
		bytesField(h.StateRoot[:]),
		bytesField(h.ReceiptsRoot[:]),
		bytesField(h.LogsBloom[:]),
		bytesField(h.PrevRandao[:]),
		uintField(h.BlockNumber),
		uintField(h.GasLimit),
		uintField(h.GasUsed),
		uintField(h.Timestamp),
		func(hh ssz.HashWalker) error {
			if len(h.ExtraData) > maxExtraDataBytes {
				return ssz.ErrListTooBig
			}
			hashByteList(hh, h.ExtraData, maxExtraDataBytes)
			return nil
		},
		bytesField(h.BaseFeePerGas[:]),
		bytesField(h.BlockHash[:]),
		bytesField(h.TransactionsRoot[:]),
		bytesField(h.WithdrawalsRoot[:]),
	}
	if h.HasBlobGas {
		fields = append(fields, uintField(h.BlobGasUsed), uintField(h.ExcessBlobGas))
	}
	return fields
}

func (h *ExecutionPayloadHeader) HashTreeRootWith(hh ssz.HashWalker) error {
	return merkleizeFields(hh, h.fields())
}

func (h *ExecutionPayloadHeader) HashTreeRoot() ([32]byte, error) {
	return hashRoot(h)
}

// depth of the header's own field tree: 15 fields fit depth 4, 17 need depth 5.
func (h *ExecutionPayloadHeader) depth() int {
	if h.HasBlobGas {
		return 5
	}
	return 4
}
