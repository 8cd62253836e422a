package message

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
)

type typeRegistry struct {
	addressTy      abi.Type
	bytesTy        abi.Type
	bytes32SliceTy abi.Type
	uint64Ty       abi.Type
}

func newTypeRegistry() (*typeRegistry, error) {
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		return nil, err
	}
	bytesTy, err := abi.NewType("bytes", "", nil)
	if err != nil {
		return nil, err
	}
	bytes32SliceTy, err := abi.NewType("bytes32[]", "", nil)
	if err != nil {
		return nil, err
	}
	uint64Ty, err := abi.NewType("uint64", "", nil)
	if err != nil {
		return nil, err
	}
	return &typeRegistry{
		addressTy:      addressTy,
		bytesTy:        bytesTy,
		bytes32SliceTy: bytes32SliceTy,
		uint64Ty:       uint64Ty,
	}, nil
}

// leafArguments is the (address, bytes32[], bytes) tuple the destination hashes
// a relayed log with.
func createLeafArguments(r *typeRegistry) abi.Arguments {
	return abi.Arguments([]abi.Argument{
		{Name: "address", Type: r.addressTy},
		{Name: "topics", Type: r.bytes32SliceTy},
		{Name: "data", Type: r.bytesTy},
	})
}

// outboundArguments are the non-indexed fields of OutboundMessageAccepted.
func createOutboundArguments(r *typeRegistry) abi.Arguments {
	return abi.Arguments([]abi.Argument{
		{Name: "nonce", Type: r.uint64Ty},
		{Name: "payload", Type: r.bytesTy},
	})
}
