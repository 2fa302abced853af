package erc20

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"

	"github.com/mikeydub/comment-references/service/persist"
)

const erc20MetadataABI = `[
  {"type": "function", "name": "name", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "string"}]},
  {"type": "function", "name": "symbol", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "string"}]},
  {"type": "function", "name": "decimals", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint8"}]}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		panic(err)
	}
	erc20ABI = parsed
}

// OnChain reads token metadata directly from contracts
type OnChain struct {
	callers map[persist.ChainID]bind.ContractCaller
}

func NewOnChain(callers map[persist.ChainID]bind.ContractCaller) *OnChain {
	return &OnChain{callers: callers}
}

// Chains returns the chains metadata can be read from
func (o *OnChain) Chains() []persist.ChainID {
	ids := make([]persist.ChainID, 0, len(o.callers))
	for id := range o.callers {
		ids = append(ids, id)
	}
	return ids
}

// Token reads the metadata of the contract at address on chainID. It returns nil if there is no contract
// there or the contract does not implement the ERC-20 metadata functions.
func (o *OnChain) Token(ctx context.Context, chainID persist.ChainID, address persist.Address) (*Token, error) {
	caller, ok := o.callers[chainID]
	if !ok {
		return nil, fmt.Errorf("no rpc configured for chain %d", chainID)
	}

	contract := bind.NewBoundContract(address.ToHexAddress(), erc20ABI, caller, nil, nil)
	opts := &bind.CallOpts{Context: ctx}

	var name, symbol string
	var decimals uint8

	for _, call := range []struct {
		method string
		into   any
	}{
		{"name", &name},
		{"symbol", &symbol},
		{"decimals", &decimals},
	} {
		out := []interface{}{call.into}
		if err := contract.Call(opts, &out, call.method); err != nil {
			if isNotERC20(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to call %s on %s: %w", call.method, address, err)
		}
	}

	return &Token{
		ChainID:  chainID,
		Address:  address,
		Name:     name,
		Symbol:   symbol,
		Decimals: int(decimals),
	}, nil
}

func isNotERC20(err error) bool {
	if errors.Is(err, bind.ErrNoCode) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "abi: attempting to unmarshall")
}
