// Package message assembles relayed events together with the receipt trie
// proof the destination chain verifies them against.
package message

import (
	"bytes"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"golang.org/x/crypto/sha3"

	"github.com/celer-network/go-bridge-relayer/relayerr"
)

// Message is one relayed event log and the proof of the receipt carrying it.
type Message struct {
	Event *Event
	Proof *Proof
}

// Assemble proves the receipt of the event's transaction and bundles it with
// the event.
func Assemble(rt *ReceiptTrie, blockHash common.Hash, event *Event) (*Message, error) {
	proof := NewProof(blockHash, event.TxIndex)
	if err := rt.Prove(event.TxIndex, proof); err != nil {
		return nil, err
	}
	return &Message{Event: event, Proof: proof}, nil
}

// Verify recomputes the receipt from the proof against receiptsRoot and checks
// that it carries the message's log.
func (m *Message) Verify(receiptsRoot common.Hash) error {
	value, err := trie.VerifyProof(receiptsRoot, receiptKey(m.Proof.TxIndex), m.Proof)
	if err != nil {
		return relayerr.Decode(err, "verify receipt proof of tx %d", m.Proof.TxIndex)
	}
	if value == nil {
		return relayerr.Decodef("receipt of tx %d is absent from trie %s", m.Proof.TxIndex, receiptsRoot.Hex())
	}
	var receipt types.Receipt
	if err := receipt.UnmarshalBinary(value); err != nil {
		return relayerr.Decode(err, "decode proven receipt of tx %d", m.Proof.TxIndex)
	}
	for _, l := range receipt.Logs {
		if sameLog(l, m.Event.Log) {
			return nil
		}
	}
	return relayerr.Decodef("receipt of tx %d does not carry the message log", m.Proof.TxIndex)
}

func sameLog(a, b *types.Log) bool {
	if a.Address != b.Address || len(a.Topics) != len(b.Topics) || !bytes.Equal(a.Data, b.Data) {
		return false
	}
	for i := range a.Topics {
		if a.Topics[i] != b.Topics[i] {
			return false
		}
	}
	return true
}

// LeafHash is keccak256(abi.encode(address, topics, data)) of the log, the
// value the destination commits to for this message.
func (m *Message) LeafHash() (common.Hash, error) {
	return LeafHash(m.Event.Log)
}

func LeafHash(l *types.Log) (common.Hash, error) {
	topics := make([][32]byte, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t
	}
	encoded, err := createLeafArguments(registry).Pack(l.Address, topics, l.Data)
	if err != nil {
		return common.Hash{}, relayerr.Decode(err, "pack log leaf")
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(encoded)
	return common.BytesToHash(h.Sum(nil)), nil
}

// Payload is the SCALE shape of a message as the destination's inbound queue
// decodes it.
type Payload struct {
	EventLog EventLog
	Proof    ProofPayload
}

type EventLog struct {
	Address gsrpc.H160
	Topics  []gsrpc.H256
	Data    gsrpc.Bytes
}

type ProofPayload struct {
	BlockHash gsrpc.H256
	TxIndex   gsrpc.U32
	Data      ProofData
}

type ProofData struct {
	Keys   []gsrpc.Bytes
	Values []gsrpc.Bytes
}

func (m *Message) Payload() Payload {
	l := m.Event.Log
	topics := make([]gsrpc.H256, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = gsrpc.NewH256(t.Bytes())
	}
	keys := make([]gsrpc.Bytes, len(m.Proof.Keys))
	values := make([]gsrpc.Bytes, len(m.Proof.Values))
	for i := range m.Proof.Keys {
		keys[i] = gsrpc.NewBytes(m.Proof.Keys[i])
		values[i] = gsrpc.NewBytes(m.Proof.Values[i])
	}
	return Payload{
		EventLog: EventLog{
			Address: gsrpc.NewH160(l.Address.Bytes()),
			Topics:  topics,
			Data:    gsrpc.NewBytes(l.Data),
		},
		Proof: ProofPayload{
			BlockHash: gsrpc.NewH256(m.Proof.BlockHash.Bytes()),
			TxIndex:   gsrpc.NewU32(uint32(m.Proof.TxIndex)),
			Data:      ProofData{Keys: keys, Values: values},
		},
	}
}
