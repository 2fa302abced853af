// Package resolver builds the loaders behind each kind of comment reference from the clients of the
// services they look things up in.
package resolver

import (
	"context"
	"time"

	"github.com/mikeydub/comment-references/config"
	"github.com/mikeydub/comment-references/service/erc20"
	"github.com/mikeydub/comment-references/service/eth"
	"github.com/mikeydub/comment-references/service/farcaster"
	"github.com/mikeydub/comment-references/service/loader"
	"github.com/mikeydub/comment-references/service/media"
	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/service/redis"
	"github.com/mikeydub/comment-references/service/references"
	"github.com/mikeydub/comment-references/service/tracing"
)

type ENSClient interface {
	ReverseResolve(ctx context.Context, address persist.Address) (string, error)
	Resolve(ctx context.Context, name string) (persist.Address, error)
	AvatarRecord(ctx context.Context, name string) (eth.AvatarRecord, error)
	SearchNames(ctx context.Context, addresses []persist.Address) (map[persist.Address]string, []error, error)
}

type FarcasterClient interface {
	UsersByAddresses(ctx context.Context, addresses []persist.Address) ([]*farcaster.NeynarUser, []error, error)
	UserByUsername(ctx context.Context, username string) (*farcaster.NeynarUser, []error, error)
}

type TokenLister interface {
	Index(ctx context.Context) (*erc20.Index, error)
}

type TokenReader interface {
	Chains() []persist.ChainID
	Token(ctx context.Context, chainID persist.ChainID, address persist.Address) (*erc20.Token, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*media.Metadata, error)
}

type IPFSGateway interface {
	Resolve(ctx context.Context, ipfsURL string) (string, error)
}

// Deps are the clients and settings resolvers are built from
type Deps struct {
	ENS       ENSClient
	Farcaster FarcasterClient
	TokenList TokenLister
	OnChain   TokenReader
	Fetcher   Fetcher
	IPFS      IPFSGateway
	Comments  persist.CommentRepository
	Chains    config.Chains

	// Cache shares loader results through redis. When nil each loader caches in memory.
	Cache        *redis.Cache
	CacheTTL     time.Duration
	StaleAfter   time.Duration
	BatchTimeout time.Duration
	Observer     loader.Observer
}

// New builds one loader per kind of reference. ctx is the base context of every batch.
func New(ctx context.Context, d Deps) references.Resolvers {
	ens := ensResolver{client: d.ENS, ipfs: d.IPFS}
	fc := farcasterResolver{client: d.Farcaster}
	tokens := erc20Resolver{list: d.TokenList, onChain: d.OnChain}
	links := mediaResolver{fetcher: d.Fetcher, ipfs: d.IPFS, retry: defaultIPFSRetry}
	quotes := quotedCommentResolver{comments: d.Comments, chains: d.Chains}

	return references.Resolvers{
		ENSByAddress:       newLoader(ctx, d, "ensByAddress", 0, addressKey, ens.byAddresses),
		ENSByName:          newLoader(ctx, d, "ensByName", 0, stringKey, ens.byNames),
		FarcasterByAddress: newLoader(ctx, d, "farcasterByAddress", farcaster.MaxAddressesPerRequest, addressKey, fc.byAddresses),
		FarcasterByName:    newLoader(ctx, d, "farcasterByName", 1, stringKey, fc.byNames),
		ERC20ByAddress:     newLoader(ctx, d, "erc20ByAddress", 0, addressKey, tokens.byAddresses),
		ERC20ByTicker:      newLoader(ctx, d, "erc20ByTicker", 0, nil, tokens.byTickers),
		URL:                newLoader(ctx, d, "url", 0, stringKey, links.byURLs),
		IPFS:               newLoader(ctx, d, "ipfs", 0, stringKey, links.byIPFSURLs),
		QuotedComment:      newLoader(ctx, d, "quotedComment", 0, nil, quotes.byCalls),
	}
}

func newLoader[K any, V any](ctx context.Context, d Deps, name string, maxBatchSize int, keyFunc func(K) string, batchFunc loader.BatchFunc[K, V]) *loader.Loader[K, V] {
	return loader.New(ctx, loader.Config[K, V]{
		Name:          name,
		MaxBatchSize:  maxBatchSize,
		BatchTimeout:  d.BatchTimeout,
		KeyFunc:       keyFunc,
		Cache:         newCache[V](d, name),
		StaleAfter:    d.StaleAfter,
		Observer:      d.Observer,
		PreFetchHook:  tracing.LoaderPreFetchHook,
		PostFetchHook: tracing.LoaderPostFetchHook,
	}, batchFunc)
}

func newCache[V any](d Deps, name string) loader.Cache[V] {
	ttl := d.CacheTTL
	if ttl <= 0 {
		ttl = loader.DefaultCacheTTL
	}
	if d.Cache != nil {
		return loader.NewRedisCache[V](d.Cache.Namespace(name), ttl)
	}
	return loader.NewMemoryCache[V](loader.DefaultCacheSize, ttl)
}

func addressKey(a persist.Address) string { return a.String() }
func stringKey(s string) string           { return s }

// batchError applies err to every key of a batch
func batchError[V any](n int, err error) ([]*V, []error) {
	return make([]*V, n), []error{err}
}
