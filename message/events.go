package message

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/celer-network/go-bridge-relayer/relayerr"
)

// OutboundMessageAcceptedTopic is topic 0 of the gateway's
// OutboundMessageAccepted(bytes32 indexed channelID, uint64 nonce,
// bytes32 indexed messageID, bytes payload) event.
var OutboundMessageAcceptedTopic = crypto.Keccak256Hash([]byte("OutboundMessageAccepted(bytes32,uint64,bytes32,bytes)"))

var registry *typeRegistry

func init() {
	var err error
	if registry, err = newTypeRegistry(); err != nil {
		panic(err)
	}
}

// Event is one OutboundMessageAccepted log with its location in the block.
type Event struct {
	TxIndex   uint64
	ChannelID common.Hash
	Nonce     uint64
	MessageID common.Hash
	Payload   []byte
	Log       *types.Log
}

// GatewayEvents extracts the gateway's outbound message events from the
// receipts of one block, in log order.
func GatewayEvents(receipts types.Receipts, gateway common.Address) ([]*Event, error) {
	var events []*Event
	for i, receipt := range receipts {
		for _, l := range receipt.Logs {
			if l.Address != gateway || len(l.Topics) == 0 || l.Topics[0] != OutboundMessageAcceptedTopic {
				continue
			}
			event, err := decodeEvent(uint64(i), l)
			if err != nil {
				return nil, err
			}
			events = append(events, event)
		}
	}
	return events, nil
}

func decodeEvent(txIndex uint64, l *types.Log) (*Event, error) {
	if len(l.Topics) != 3 {
		return nil, relayerr.Decodef("outbound message log %d in tx %d has %d topics", l.Index, txIndex, len(l.Topics))
	}
	values, err := createOutboundArguments(registry).Unpack(l.Data)
	if err != nil {
		return nil, relayerr.Decode(err, "unpack outbound message log %d in tx %d", l.Index, txIndex)
	}
	nonce, ok := values[0].(uint64)
	if !ok {
		return nil, relayerr.Decodef("outbound message nonce has type %T", values[0])
	}
	payload, ok := values[1].([]byte)
	if !ok {
		return nil, relayerr.Decodef("outbound message payload has type %T", values[1])
	}
	return &Event{
		TxIndex:   txIndex,
		ChannelID: l.Topics[1],
		Nonce:     nonce,
		MessageID: l.Topics[2],
		Payload:   payload,
		Log:       l,
	}, nil
}

// PackOutboundData encodes the non-indexed event fields the way the gateway
// emits them.
func PackOutboundData(nonce uint64, payload []byte) ([]byte, error) {
	return createOutboundArguments(registry).Pack(nonce, payload)
}
