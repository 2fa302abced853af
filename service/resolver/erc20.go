package resolver

import (
	"context"
	"sort"

	"github.com/sourcegraph/conc/iter"

	"github.com/mikeydub/comment-references/service/caip"
	"github.com/mikeydub/comment-references/service/erc20"
	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/service/references"
)

type erc20Resolver struct {
	list    TokenLister
	onChain TokenReader
}

// byAddresses finds tokens in the token list, which covers every chain a token is deployed to. Tokens
// that aren't listed are read from their contracts on each configured chain.
func (r erc20Resolver) byAddresses(ctx context.Context, addresses []persist.Address) ([]*references.ERC20Reference, []error) {
	idx, err := r.list.Index(ctx)
	if err != nil {
		logger.For(ctx).WithError(err).Warn("token list unavailable, reading tokens from chain")
		idx = erc20.NewIndex(nil)
	}

	results := make([]*references.ERC20Reference, len(addresses))
	errs := make([]error, len(addresses))

	iter.ForEachIdx(addresses, func(i int, a *persist.Address) {
		if listed := idx.ByAddress(*a); len(listed) > 0 {
			results[i] = erc20Reference(listed)
			return
		}
		results[i], errs[i] = r.readOnChain(ctx, *a)
	})

	return results, errs
}

// readOnChain reads address on every chain at once. It only errors if no chain had the token and at least
// one chain couldn't be read.
func (r erc20Resolver) readOnChain(ctx context.Context, address persist.Address) (*references.ERC20Reference, error) {
	if r.onChain == nil {
		return nil, nil
	}

	chains := r.onChain.Chains()
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })

	type read struct {
		token *erc20.Token
		err   error
	}

	reads := iter.Map(chains, func(chainID *persist.ChainID) read {
		t, err := r.onChain.Token(ctx, *chainID, address)
		return read{token: t, err: err}
	})

	var found []erc20.Token
	var firstErr error
	for _, rd := range reads {
		if rd.token != nil {
			found = append(found, *rd.token)
		} else if rd.err != nil && firstErr == nil {
			firstErr = rd.err
		}
	}

	if len(found) == 0 {
		return nil, firstErr
	}

	return erc20Reference(found), nil
}

// byTickers finds each symbol among the tokens listed on the chain the comment was posted to
func (r erc20Resolver) byTickers(ctx context.Context, keys []references.TickerKey) ([]*references.ERC20Reference, []error) {
	idx, err := r.list.Index(ctx)
	if err != nil {
		return batchError[references.ERC20Reference](len(keys), err)
	}

	results := make([]*references.ERC20Reference, len(keys))
	for i, k := range keys {
		if t, ok := idx.BySymbol(k.Symbol, k.ChainID); ok {
			results[i] = erc20Reference([]erc20.Token{t})
		}
	}

	return results, nil
}

// erc20Reference describes a token from its deployments. The first deployment supplies the metadata.
func erc20Reference(deployments []erc20.Token) *references.ERC20Reference {
	first := deployments[0]

	chains := make([]references.ERC20Chain, len(deployments))
	for i, t := range deployments {
		chains[i] = references.ERC20Chain{
			ChainID: t.ChainID,
			CAIP:    caip.AssetID{ChainID: t.ChainID, Address: t.Address}.String(),
		}
	}

	return &references.ERC20Reference{
		Symbol:   first.Symbol,
		Name:     first.Name,
		Address:  first.Address,
		Decimals: first.Decimals,
		LogoURI:  nonEmpty(first.LogoURI),
		Chains:   chains,
	}
}
