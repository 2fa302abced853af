package erc20

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/comment-references/service/persist"
)

const dai = persist.Address("0x6b175474e89094c44da98b954eedeac495271d0f")

const testList = `{"name": "test", "tokens": [
	{"chainId": 1, "address": "0x6B175474E89094C44Da98b954EedeAC495271d0F", "name": "Dai Stablecoin", "symbol": "DAI", "decimals": 18, "logoURI": "https://example.com/dai.png"},
	{"chainId": 10, "address": "0x6b175474e89094c44da98b954eedeac495271d0f", "name": "Dai Stablecoin", "symbol": "DAI", "decimals": 18},
	{"chainId": 1, "address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "name": "USD Coin", "symbol": "USDC", "decimals": 6},
	{"chainId": 1, "address": "not-an-address", "name": "Broken", "symbol": "BRK", "decimals": 0}
]}`

func TestIndex(t *testing.T) {
	var list tokenList
	require.NoError(t, json.Unmarshal([]byte(testList), &list))
	idx := NewIndex(list.Tokens)

	t.Run("address lookups return every chain", func(t *testing.T) {
		tokens := idx.ByAddress(dai)
		require.Len(t, tokens, 2)
		assert.Equal(t, persist.ChainID(1), tokens[0].ChainID)
		assert.Equal(t, persist.ChainID(10), tokens[1].ChainID)
	})

	t.Run("symbol lookups are scoped to a chain and case insensitive", func(t *testing.T) {
		token, ok := idx.BySymbol("usdc", 1)
		assert.True(t, ok)
		assert.Equal(t, "USD Coin", token.Name)

		_, ok = idx.BySymbol("USDC", 10)
		assert.False(t, ok)
	})

	t.Run("invalid addresses are skipped", func(t *testing.T) {
		_, ok := idx.BySymbol("BRK", 1)
		assert.False(t, ok)
	})
}

func TestTokenList(t *testing.T) {
	var requests int32
	fail := atomic.Bool{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(testList))
	}))
	defer server.Close()

	now := time.Now()
	l := NewTokenList(server.URL, server.Client(), nil)
	l.now = func() time.Time { return now }

	ctx := context.Background()

	idx, err := l.Index(ctx)
	require.NoError(t, err)
	assert.Len(t, idx.ByAddress(dai), 2)

	_, err = l.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	t.Run("serves the stale list when a refresh fails", func(t *testing.T) {
		fail.Store(true)
		now = now.Add(2 * defaultListTTL)

		idx, err := l.Index(ctx)
		require.NoError(t, err)
		assert.Len(t, idx.ByAddress(dai), 2)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
	})

	t.Run("errors when there is no list at all", func(t *testing.T) {
		empty := NewTokenList(server.URL, server.Client(), nil)
		_, err := empty.Index(ctx)
		assert.Error(t, err)
	})
}

type fakeCaller struct {
	code    []byte
	outputs map[string][]byte
}

func (f fakeCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.code, nil
}

func (f fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	for name, out := range f.outputs {
		if bytes.Equal(call.Data[:4], erc20ABI.Methods[name].ID) {
			return out, nil
		}
	}
	return nil, nil
}

func TestOnChain(t *testing.T) {
	ctx := context.Background()

	pack := func(method string, v any) []byte {
		bs, err := erc20ABI.Methods[method].Outputs.Pack(v)
		require.NoError(t, err)
		return bs
	}

	t.Run("reads token metadata", func(t *testing.T) {
		o := NewOnChain(map[persist.ChainID]bind.ContractCaller{
			8453: fakeCaller{code: []byte{0x60}, outputs: map[string][]byte{
				"name":     pack("name", "Degen"),
				"symbol":   pack("symbol", "DEGEN"),
				"decimals": pack("decimals", uint8(18)),
			}},
		})

		token, err := o.Token(ctx, 8453, dai)
		require.NoError(t, err)
		assert.Equal(t, &Token{ChainID: 8453, Address: dai, Name: "Degen", Symbol: "DEGEN", Decimals: 18}, token)
	})

	t.Run("addresses without code are not tokens", func(t *testing.T) {
		o := NewOnChain(map[persist.ChainID]bind.ContractCaller{1: fakeCaller{}})
		token, err := o.Token(ctx, 1, dai)
		assert.NoError(t, err)
		assert.Nil(t, token)
	})

	t.Run("unconfigured chains error", func(t *testing.T) {
		o := NewOnChain(nil)
		_, err := o.Token(ctx, 1, dai)
		assert.Error(t, err)
	})
}
