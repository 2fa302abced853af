package config

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mikeydub/comment-references/env"
	"github.com/mikeydub/comment-references/service/persist"
)

const chainConfigKey = "CHAIN_CONFIG"

// Chain is the configuration of one chain the comment registry is deployed to
type Chain struct {
	ID              persist.ChainID
	CommentContract persist.Address
	RPCURL          string
}

// Chains maps a chain id to its configuration
type Chains map[persist.ChainID]Chain

// IDs returns the configured chain ids in ascending order
func (c Chains) IDs() []persist.ChainID {
	ids := make([]persist.ChainID, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CommentContract returns the comment registry deployed on chainID
func (c Chains) CommentContract(chainID persist.ChainID) (persist.Address, bool) {
	chain, ok := c[chainID]
	if !ok {
		return "", false
	}
	return chain.CommentContract, true
}

// Dial connects to every chain's RPC endpoint
func (c Chains) Dial(ctx context.Context) (map[persist.ChainID]*ethclient.Client, error) {
	clients := make(map[persist.ChainID]*ethclient.Client, len(c))
	for _, id := range c.IDs() {
		client, err := ethclient.DialContext(ctx, c[id].RPCURL)
		if err != nil {
			for _, open := range clients {
				open.Close()
			}
			return nil, fmt.Errorf("failed to dial chain %d: %w", id, err)
		}
		clients[id] = client
	}
	return clients, nil
}

// ChainsFromEnv parses CHAIN_CONFIG
func ChainsFromEnv() (Chains, error) {
	return ParseChains(env.GetString(chainConfigKey))
}

// ParseChains parses a comma separated list of <chainId>=<commentContractAddress>@<rpcURL>
func ParseChains(s string) (Chains, error) {
	chains := make(Chains)

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		idStr, rest, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid chain config %q: missing '='", part)
		}

		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid chain id %q", idStr)
		}

		addr, rpcURL, ok := strings.Cut(rest, "@")
		if !ok || rpcURL == "" {
			return nil, fmt.Errorf("invalid chain config %q: missing rpc url", part)
		}

		contract := persist.NewAddress(addr)
		if !contract.IsValid() {
			return nil, fmt.Errorf("invalid comment contract address %q for chain %d", addr, id)
		}

		chainID := persist.ChainID(id)
		if _, exists := chains[chainID]; exists {
			return nil, fmt.Errorf("chain %d configured more than once", id)
		}

		chains[chainID] = Chain{ID: chainID, CommentContract: contract, RPCURL: strings.TrimSpace(rpcURL)}
	}

	return chains, nil
}
