// Package caip parses the chain agnostic identifiers that can appear in comment text: CAIP-19 asset
// ids for ERC-20 tokens and CAIP-373 style references to a prior contract call.
package caip

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mikeydub/comment-references/service/persist"
)

const (
	namespaceEIP155 = "eip155"
	assetERC20      = "erc20"
)

var ErrInvalidIdentifier = errors.New("invalid caip identifier")

// AssetID is a CAIP-19 ERC-20 asset id, e.g. eip155:1/erc20:0x6b17...
type AssetID struct {
	ChainID persist.ChainID
	Address persist.Address
}

func (a AssetID) String() string {
	return fmt.Sprintf("%s/%s:%s", a.ChainID.CAIP2(), assetERC20, a.Address)
}

// ParseAssetID parses an eip155 ERC-20 CAIP-19 asset id
func ParseAssetID(s string) (AssetID, error) {
	chainPart, assetPart, ok := strings.Cut(s, "/")
	if !ok {
		return AssetID{}, fmt.Errorf("%w: %q has no asset part", ErrInvalidIdentifier, s)
	}

	chainID, err := parseChain(chainPart)
	if err != nil {
		return AssetID{}, err
	}

	namespace, ref, ok := strings.Cut(assetPart, ":")
	if !ok || !strings.EqualFold(namespace, assetERC20) {
		return AssetID{}, fmt.Errorf("%w: %q is not an erc20 asset", ErrInvalidIdentifier, s)
	}

	address := persist.NewAddress(ref)
	if !address.IsValid() {
		return AssetID{}, fmt.Errorf("%w: %q is not an address", ErrInvalidIdentifier, ref)
	}

	return AssetID{ChainID: chainID, Address: address}, nil
}

// CallReference points at a call to a contract, e.g. eip155:8453:0xb20f...:call:0x9f5b...
type CallReference struct {
	ChainID  persist.ChainID
	Contract persist.Address
	Calldata []byte
}

func (c CallReference) String() string {
	return fmt.Sprintf("%s:%s:call:%s", c.ChainID.CAIP2(), c.Contract, hexutil.Encode(c.Calldata))
}

// ParseCallReference parses an eip155 call reference
func ParseCallReference(s string) (CallReference, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 5 || !strings.EqualFold(parts[3], "call") {
		return CallReference{}, fmt.Errorf("%w: %q is not a call reference", ErrInvalidIdentifier, s)
	}

	chainID, err := parseChain(parts[0] + ":" + parts[1])
	if err != nil {
		return CallReference{}, err
	}

	contract := persist.NewAddress(parts[2])
	if !contract.IsValid() {
		return CallReference{}, fmt.Errorf("%w: %q is not an address", ErrInvalidIdentifier, parts[2])
	}

	calldata, err := hexutil.Decode(strings.ToLower(parts[4]))
	if err != nil {
		return CallReference{}, fmt.Errorf("%w: bad calldata: %s", ErrInvalidIdentifier, err)
	}

	return CallReference{ChainID: chainID, Contract: contract, Calldata: calldata}, nil
}

func parseChain(s string) (persist.ChainID, error) {
	namespace, ref, ok := strings.Cut(s, ":")
	if !ok || namespace != namespaceEIP155 {
		return 0, fmt.Errorf("%w: %q is not an eip155 chain", ErrInvalidIdentifier, s)
	}
	id, err := strconv.Atoi(ref)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad chain id %q", ErrInvalidIdentifier, ref)
	}
	return persist.ChainID(id), nil
}
