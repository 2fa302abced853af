package references

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/comment-references/service/media"
	"github.com/mikeydub/comment-references/service/persist"
)

type lookupFunc[K any, V any] func(ctx context.Context, key K) (*V, error)

func (f lookupFunc[K, V]) Load(ctx context.Context, key K) (*V, error) { return f(ctx, key) }

func none[K any, V any]() lookupFunc[K, V] {
	return func(context.Context, K) (*V, error) { return nil, nil }
}

func failing[K any, V any](err error) lookupFunc[K, V] {
	return func(context.Context, K) (*V, error) { return nil, err }
}

var errUpstream = errors.New("upstream unavailable")

// emptyResolvers matches nothing
func emptyResolvers() Resolvers {
	return Resolvers{
		ENSByAddress:       none[persist.Address, ENSReference](),
		ENSByName:          none[string, ENSReference](),
		FarcasterByAddress: none[persist.Address, FarcasterReference](),
		FarcasterByName:    none[string, FarcasterReference](),
		ERC20ByAddress:     none[persist.Address, ERC20Reference](),
		ERC20ByTicker:      none[TickerKey, ERC20Reference](),
		URL:                none[string, media.Metadata](),
		IPFS:               none[string, media.Metadata](),
		QuotedComment:      none[CallKey, QuotedCommentReference](),
	}
}

func ensByName(addr persist.Address) lookupFunc[string, ENSReference] {
	return func(_ context.Context, name string) (*ENSReference, error) {
		return &ENSReference{Name: name, Address: addr, URL: "https://app.ens.domains/" + name}, nil
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	addr := persist.NewAddress(testAddress)

	t.Run("same name twice yields two references", func(t *testing.T) {
		r := emptyResolvers()
		r.ENSByName = ensByName(addr)

		result, err := Resolve(ctx, "luc.eth luc.eth", persist.ChainIDBase, r)

		require.NoError(t, err)
		assert.Equal(t, persist.ResolutionStatusSuccess, result.Status)
		require.Len(t, result.References, 2)
		assert.Equal(t, Position{0, 7}, result.References[0].ReferencePosition())
		assert.Equal(t, Position{8, 15}, result.References[1].ReferencePosition())
		assert.Equal(t, ReferenceTypeENS, result.References[0].(ENSReference).Type)
		assert.Equal(t, []Position{{0, 7}, {8, 15}}, result.AllResolvedPositions)
	})

	t.Run("unmatched address is not a failure", func(t *testing.T) {
		result, err := Resolve(ctx, "Test "+testAddress, persist.ChainIDBase, emptyResolvers())

		require.NoError(t, err)
		assert.Equal(t, persist.ResolutionStatusSuccess, result.Status)
		assert.Empty(t, result.References)
		assert.NotNil(t, result.References)
	})

	t.Run("no candidates is success", func(t *testing.T) {
		result, err := Resolve(ctx, "just words", persist.ChainIDBase, emptyResolvers())

		require.NoError(t, err)
		assert.Equal(t, persist.ResolutionStatusSuccess, result.Status)
		assert.Empty(t, result.AllResolvedPositions)
	})

	t.Run("only candidate errors", func(t *testing.T) {
		r := emptyResolvers()
		r.URL = failing[string, media.Metadata](errUpstream)

		result, err := Resolve(ctx, "👀 https://example.com 💻", persist.ChainIDBase, r)

		require.NoError(t, err)
		assert.Equal(t, persist.ResolutionStatusFailed, result.Status)
		assert.Empty(t, result.References)
		assert.Equal(t, []Position{{2, 21}}, result.AllResolvedPositions)
	})

	t.Run("one of three candidates errors", func(t *testing.T) {
		r := emptyResolvers()
		r.ENSByName = ensByName(addr)
		r.URL = failing[string, media.Metadata](errUpstream)
		r.ERC20ByTicker = lookupFunc[TickerKey, ERC20Reference](func(_ context.Context, key TickerKey) (*ERC20Reference, error) {
			assert.Equal(t, TickerKey{Symbol: "DEGEN", ChainID: persist.ChainIDBase}, key)
			return &ERC20Reference{Symbol: key.Symbol, Name: "Degen", Decimals: 18}, nil
		})

		result, err := Resolve(ctx, "$degen https://example.com luc.eth", persist.ChainIDBase, r)

		require.NoError(t, err)
		assert.Equal(t, persist.ResolutionStatusPartial, result.Status)
		require.Len(t, result.References, 2)
		assert.Equal(t, ReferenceTypeERC20, result.References[0].ReferenceType())
		assert.Equal(t, Position{0, 6}, result.References[0].ReferencePosition())
		assert.Equal(t, ReferenceTypeENS, result.References[1].ReferenceType())
		assert.Equal(t, Position{27, 34}, result.References[1].ReferencePosition())
		assert.Len(t, result.AllResolvedPositions, 3)
	})

	t.Run("address prefers ens over farcaster and erc20", func(t *testing.T) {
		r := emptyResolvers()
		r.ENSByAddress = lookupFunc[persist.Address, ENSReference](func(_ context.Context, a persist.Address) (*ENSReference, error) {
			return &ENSReference{Name: "luc.eth", Address: a}, nil
		})
		r.FarcasterByAddress = lookupFunc[persist.Address, FarcasterReference](func(_ context.Context, a persist.Address) (*FarcasterReference, error) {
			return &FarcasterReference{Fid: 1, Username: "luc", Address: a}, nil
		})

		result, err := Resolve(ctx, "@"+testAddress, persist.ChainIDBase, r)

		require.NoError(t, err)
		require.Len(t, result.References, 1)
		assert.Equal(t, "luc.eth", result.References[0].(ENSReference).Name)
	})

	t.Run("address match wins over an earlier error", func(t *testing.T) {
		r := emptyResolvers()
		r.ENSByAddress = failing[persist.Address, ENSReference](errUpstream)
		r.ERC20ByAddress = lookupFunc[persist.Address, ERC20Reference](func(_ context.Context, a persist.Address) (*ERC20Reference, error) {
			return &ERC20Reference{Symbol: "DAI", Address: a}, nil
		})

		result, err := Resolve(ctx, testAddress, persist.ChainIDBase, r)

		require.NoError(t, err)
		assert.Equal(t, persist.ResolutionStatusSuccess, result.Status)
		require.Len(t, result.References, 1)
		assert.Equal(t, ReferenceTypeERC20, result.References[0].ReferenceType())
	})

	t.Run("address with no match and an error fails", func(t *testing.T) {
		r := emptyResolvers()
		r.FarcasterByAddress = failing[persist.Address, FarcasterReference](errUpstream)

		result, err := Resolve(ctx, testAddress, persist.ChainIDBase, r)

		require.NoError(t, err)
		assert.Equal(t, persist.ResolutionStatusFailed, result.Status)
	})

	t.Run("dispatches each kind to its resolver", func(t *testing.T) {
		var urls, ipfs, farcaster, assets int32
		r := emptyResolvers()
		r.URL = lookupFunc[string, media.Metadata](func(_ context.Context, u string) (*media.Metadata, error) {
			atomic.AddInt32(&urls, 1)
			return &media.Metadata{URL: u, Kind: media.KindImage, MediaType: "image/png"}, nil
		})
		r.IPFS = lookupFunc[string, media.Metadata](func(_ context.Context, u string) (*media.Metadata, error) {
			atomic.AddInt32(&ipfs, 1)
			return &media.Metadata{URL: "https://ipfs.io/ipfs/bafy", Kind: media.KindVideo, MediaType: "video/mp4"}, nil
		})
		r.FarcasterByName = lookupFunc[string, FarcasterReference](func(_ context.Context, name string) (*FarcasterReference, error) {
			atomic.AddInt32(&farcaster, 1)
			assert.Equal(t, "dwr.fcast.id", name)
			return &FarcasterReference{Fid: 3, Username: "dwr"}, nil
		})
		r.ERC20ByAddress = lookupFunc[persist.Address, ERC20Reference](func(_ context.Context, a persist.Address) (*ERC20Reference, error) {
			atomic.AddInt32(&assets, 1)
			assert.Equal(t, persist.Address("0x6b175474e89094c44da98b954eedeac495271d0f"), a)
			return &ERC20Reference{Symbol: "DAI", Address: a}, nil
		})

		content := "https://example.com/a.png ipfs://bafy @DWR.fcast.id $eip155:1/erc20:0x6B175474E89094C44Da98b954EedeAC495271d0F"
		result, err := Resolve(ctx, content, persist.ChainIDBase, r)

		require.NoError(t, err)
		assert.Equal(t, persist.ResolutionStatusSuccess, result.Status)
		require.Len(t, result.References, 4)
		assert.Equal(t, ReferenceTypeImage, result.References[0].ReferenceType())
		assert.Equal(t, ReferenceTypeVideo, result.References[1].ReferenceType())
		assert.Equal(t, ReferenceTypeFarcaster, result.References[2].ReferenceType())
		assert.Equal(t, ReferenceTypeERC20, result.References[3].ReferenceType())
		assert.EqualValues(t, 1, urls)
		assert.EqualValues(t, 1, ipfs)
		assert.EqualValues(t, 1, farcaster)
		assert.EqualValues(t, 1, assets)
	})

	t.Run("panicking resolver fails the pass", func(t *testing.T) {
		r := emptyResolvers()
		r.ENSByName = lookupFunc[string, ENSReference](func(context.Context, string) (*ENSReference, error) {
			panic("resolver bug")
		})

		result, err := Resolve(ctx, "luc.eth", persist.ChainIDBase, r)

		require.Error(t, err)
		var orchestratorErr ErrOrchestrator
		assert.ErrorAs(t, err, &orchestratorErr)
		assert.Equal(t, persist.ResolutionStatusFailed, result.Status)
		assert.Empty(t, result.References)
	})
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, persist.ResolutionStatusSuccess, statusOf(0, 0))
	assert.Equal(t, persist.ResolutionStatusSuccess, statusOf(3, 0))
	assert.Equal(t, persist.ResolutionStatusPartial, statusOf(3, 1))
	assert.Equal(t, persist.ResolutionStatusFailed, statusOf(3, 3))
}
