package caip

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const commentRegistryABI = `[
  {
    "type": "function",
    "name": "getComment",
    "stateMutability": "view",
    "inputs": [{"name": "commentId", "type": "bytes32"}],
    "outputs": [
      {"name": "author", "type": "address"},
      {"name": "content", "type": "string"}
    ]
  }
]`

var commentRegistry abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(commentRegistryABI))
	if err != nil {
		panic(err)
	}
	commentRegistry = parsed
}

// DecodeGetComment returns the comment id passed to getComment(bytes32). ok is false when the calldata
// is a call to any other function.
func DecodeGetComment(calldata []byte) (commentID string, ok bool, err error) {
	method := commentRegistry.Methods["getComment"]
	if len(calldata) < 4 || !bytes.Equal(calldata[:4], method.ID) {
		return "", false, nil
	}

	args, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return "", false, fmt.Errorf("failed to decode getComment call: %w", err)
	}

	id, isBytes := args[0].([32]byte)
	if !isBytes {
		return "", false, fmt.Errorf("unexpected getComment argument type %T", args[0])
	}

	return hexutil.Encode(id[:]), true, nil
}

// EncodeGetComment builds the calldata for getComment(commentID)
func EncodeGetComment(commentID [32]byte) ([]byte, error) {
	return commentRegistry.Pack("getComment", commentID)
}
