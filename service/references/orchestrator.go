package references

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/iter"

	"github.com/mikeydub/comment-references/service/caip"
	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/service/media"
	"github.com/mikeydub/comment-references/service/persist"
)

// Lookup loads a value by key. A nil value with a nil error means there is no match.
type Lookup[K any, V any] interface {
	Load(ctx context.Context, key K) (*V, error)
}

// TickerKey looks up a token by symbol on one chain
type TickerKey struct {
	Symbol  string          `json:"symbol"`
	ChainID persist.ChainID `json:"chainId"`
}

// CallKey identifies a quoted contract call
type CallKey struct {
	ChainID  persist.ChainID `json:"chainId"`
	Contract persist.Address `json:"contract"`
	Calldata string          `json:"calldata"`
}

// Resolvers holds one lookup per kind of reference. Every field must be set.
type Resolvers struct {
	ENSByAddress       Lookup[persist.Address, ENSReference]
	ENSByName          Lookup[string, ENSReference]
	FarcasterByAddress Lookup[persist.Address, FarcasterReference]
	FarcasterByName    Lookup[string, FarcasterReference]
	ERC20ByAddress     Lookup[persist.Address, ERC20Reference]
	ERC20ByTicker      Lookup[TickerKey, ERC20Reference]
	URL                Lookup[string, media.Metadata]
	IPFS               Lookup[string, media.Metadata]
	QuotedComment      Lookup[CallKey, QuotedCommentReference]
}

// Resolve tokenizes content and resolves every candidate concurrently. Candidates that fail are logged and
// counted in the status; a returned error is always an ErrOrchestrator and means no result could be built.
func Resolve(ctx context.Context, content string, chainID persist.ChainID, resolvers Resolvers) (result Result, err error) {
	candidates := Tokenize(content)

	type outcome struct {
		ref Reference
		err error
	}

	outcomes := make([]outcome, len(candidates))

	var wg conc.WaitGroup
	for i, c := range candidates {
		i, c := i, c
		wg.Go(func() {
			ref, err := resolveCandidate(ctx, c, chainID, resolvers)
			if err != nil {
				err = ErrResolution{Kind: c.Kind, Text: c.RawText, Err: err}
			}
			outcomes[i] = outcome{ref: ref, err: err}
		})
	}

	if recovered := wg.WaitAndRecover(); recovered != nil {
		return FailedResult(), ErrOrchestrator{Err: recovered.AsError()}
	}

	result = Result{
		References:           make(References, 0, len(candidates)),
		AllResolvedPositions: make([]Position, len(candidates)),
	}

	errored := 0
	for i, o := range outcomes {
		result.AllResolvedPositions[i] = candidates[i].Position
		if o.err != nil {
			errored++
			logger.For(ctx).WithError(o.err).WithFields(logrus.Fields{
				"kind": candidates[i].Kind,
				"text": candidates[i].RawText,
			}).Warn("failed to resolve reference")
			continue
		}
		if o.ref != nil {
			result.References = append(result.References, o.ref.withPosition(candidates[i].Position))
		}
	}

	result.References.sortByPosition()
	result.Status = statusOf(len(candidates), errored)

	logger.For(ctx).WithFields(logrus.Fields{
		"candidates": len(candidates),
		"references": len(result.References),
		"errored":    errored,
		"status":     result.Status,
	}).Debug("resolved comment references")

	return result, nil
}

// statusOf is success when nothing failed (including when there was nothing to resolve), failed when
// everything failed, and partial otherwise
func statusOf(attempted, errored int) persist.ResolutionStatus {
	switch {
	case errored == 0:
		return persist.ResolutionStatusSuccess
	case errored == attempted:
		return persist.ResolutionStatusFailed
	default:
		return persist.ResolutionStatusPartial
	}
}

func resolveCandidate(ctx context.Context, c Candidate, chainID persist.ChainID, r Resolvers) (Reference, error) {
	switch c.Kind {
	case CandidateAddress:
		return resolveAddress(ctx, persist.NewAddress(c.Value), r)
	case CandidateERC20Address:
		return load(ctx, r.ERC20ByAddress, persist.NewAddress(c.Value))
	case CandidateENSName:
		return load(ctx, r.ENSByName, strings.ToLower(c.Value))
	case CandidateFarcasterName:
		return load(ctx, r.FarcasterByName, strings.ToLower(c.Value))
	case CandidateERC20Asset:
		asset, err := caip.ParseAssetID(c.Value)
		if err != nil {
			return nil, nil
		}
		return load(ctx, r.ERC20ByAddress, asset.Address)
	case CandidateTicker:
		return load(ctx, r.ERC20ByTicker, TickerKey{Symbol: strings.ToUpper(c.Value), ChainID: chainID})
	case CandidateURL:
		return loadMedia(ctx, r.URL, c.Value)
	case CandidateIPFSURL:
		return loadMedia(ctx, r.IPFS, c.Value)
	case CandidateQuotedComment:
		call, err := caip.ParseCallReference(c.Value)
		if err != nil {
			return nil, nil
		}
		return load(ctx, r.QuotedComment, CallKey{ChainID: call.ChainID, Contract: call.Contract, Calldata: hexutil.Encode(call.Calldata)})
	default:
		panic(fmt.Sprintf("unhandled candidate kind %q", c.Kind))
	}
}

// resolveAddress looks an address up as ENS, Farcaster and ERC-20 at once and returns the first match in
// that order. A lookup that errors only fails the candidate if no lookup matched.
func resolveAddress(ctx context.Context, address persist.Address, r Resolvers) (Reference, error) {
	lookups := []func(context.Context) (Reference, error){
		func(ctx context.Context) (Reference, error) { return load(ctx, r.ENSByAddress, address) },
		func(ctx context.Context) (Reference, error) { return load(ctx, r.FarcasterByAddress, address) },
		func(ctx context.Context) (Reference, error) { return load(ctx, r.ERC20ByAddress, address) },
	}

	type outcome struct {
		ref Reference
		err error
	}

	outcomes := iter.Map(lookups, func(f *func(context.Context) (Reference, error)) outcome {
		ref, err := (*f)(ctx)
		return outcome{ref: ref, err: err}
	})

	var firstErr error
	for _, o := range outcomes {
		if o.ref != nil {
			return o.ref, nil
		}
		if o.err != nil && firstErr == nil {
			firstErr = o.err
		}
	}

	return nil, firstErr
}

func load[K any, V Reference](ctx context.Context, lookup Lookup[K, V], key K) (Reference, error) {
	v, err := lookup.Load(ctx, key)
	if err != nil || v == nil {
		return nil, err
	}
	return *v, nil
}

func loadMedia(ctx context.Context, lookup Lookup[string, media.Metadata], u string) (Reference, error) {
	m, err := lookup.Load(ctx, u)
	if err != nil || m == nil {
		return nil, err
	}
	return NewMediaReference(*m), nil
}
