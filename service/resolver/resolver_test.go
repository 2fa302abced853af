package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/comment-references/config"
	"github.com/mikeydub/comment-references/service/caip"
	"github.com/mikeydub/comment-references/service/erc20"
	"github.com/mikeydub/comment-references/service/eth"
	"github.com/mikeydub/comment-references/service/farcaster"
	"github.com/mikeydub/comment-references/service/media"
	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/service/references"
	"github.com/mikeydub/comment-references/util"
	"github.com/mikeydub/comment-references/util/retry"
)

var (
	addrA = persist.NewAddress("0x1111111111111111111111111111111111111111")
	addrB = persist.NewAddress("0x2222222222222222222222222222222222222222")
	addrC = persist.NewAddress("0x3333333333333333333333333333333333333333")

	errUpstream     = errors.New("upstream unavailable")
	commentRegistry = persist.NewAddress("0xb20fe2f4fe5e4b11ebd3e6cf5b8cc06bad7f6e5c")
)

type fakeENS struct {
	mu       sync.Mutex
	reverse  map[persist.Address]string
	forward  map[string]persist.Address
	avatars  map[string]eth.AvatarRecord
	search   map[persist.Address]string
	searched [][]persist.Address
	errs     map[persist.Address]error
}

func (f *fakeENS) ReverseResolve(ctx context.Context, a persist.Address) (string, error) {
	if err := f.errs[a]; err != nil {
		return "", err
	}
	if name, ok := f.reverse[a]; ok {
		return name, nil
	}
	return "", eth.ErrNoResolution
}

func (f *fakeENS) Resolve(ctx context.Context, name string) (persist.Address, error) {
	if a, ok := f.forward[name]; ok {
		return a, nil
	}
	return "", eth.ErrNoResolution
}

func (f *fakeENS) AvatarRecord(ctx context.Context, name string) (eth.AvatarRecord, error) {
	return f.avatars[name], nil
}

func (f *fakeENS) SearchNames(ctx context.Context, addresses []persist.Address) (map[persist.Address]string, []error, error) {
	f.mu.Lock()
	f.searched = append(f.searched, addresses)
	f.mu.Unlock()
	found := map[persist.Address]string{}
	for _, a := range addresses {
		if name, ok := f.search[a]; ok {
			found[a] = name
		}
	}
	return found, nil, nil
}

type fakeGateway struct{}

func (fakeGateway) Resolve(ctx context.Context, ipfsURL string) (string, error) {
	path, err := ipfsPath(ipfsURL)
	if err != nil {
		return "", err
	}
	return "https://gateway.test/ipfs/" + path, nil
}

func ipfsPath(u string) (string, error) {
	if len(u) <= len("ipfs://") {
		return "", errors.New("bad ipfs url")
	}
	return u[len("ipfs://"):], nil
}

func TestENSResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("reverse records then a single search for the rest", func(t *testing.T) {
		client := &fakeENS{
			reverse: map[persist.Address]string{addrA: "a.eth"},
			search:  map[persist.Address]string{addrB: "b.eth"},
			avatars: map[string]eth.AvatarRecord{
				"a.eth": eth.EnsHttpRecord{URL: "https://example.com/a.png"},
				"b.eth": eth.EnsIpfsRecord{URL: "ipfs://bafy/b.png"},
			},
		}
		r := ensResolver{client: client, ipfs: fakeGateway{}}

		results, errs := r.byAddresses(ctx, []persist.Address{addrA, addrB, addrC})

		require.Len(t, results, 3)
		for _, err := range errs {
			assert.NoError(t, err)
		}
		require.NotNil(t, results[0])
		assert.Equal(t, "a.eth", results[0].Name)
		assert.Equal(t, "https://example.com/a.png", *results[0].AvatarURL)
		assert.Equal(t, eth.ProfileURL("a.eth"), results[0].URL)
		require.NotNil(t, results[1])
		assert.Equal(t, "b.eth", results[1].Name)
		assert.Equal(t, addrB, results[1].Address)
		assert.Equal(t, "https://gateway.test/ipfs/bafy/b.png", *results[1].AvatarURL)
		assert.Nil(t, results[2])
		assert.Equal(t, [][]persist.Address{{addrB, addrC}}, client.searched)
	})

	t.Run("reverse lookup failure fails only that address", func(t *testing.T) {
		client := &fakeENS{
			reverse: map[persist.Address]string{addrA: "a.eth"},
			errs:    map[persist.Address]error{addrB: errUpstream},
		}
		r := ensResolver{client: client, ipfs: fakeGateway{}}

		results, errs := r.byAddresses(ctx, []persist.Address{addrA, addrB})

		assert.NotNil(t, results[0])
		assert.Nil(t, errs[0])
		assert.ErrorIs(t, errs[1], errUpstream)
		assert.Empty(t, client.searched)
	})

	t.Run("names", func(t *testing.T) {
		client := &fakeENS{
			forward: map[string]persist.Address{"luc.eth": addrA},
			avatars: map[string]eth.AvatarRecord{"luc.eth": eth.EnsTokenRecord{ChainID: "1", AssetNamespace: "erc721"}},
		}
		r := ensResolver{client: client, ipfs: fakeGateway{}}

		results, errs := r.byNames(ctx, []string{"luc.eth", "nobody.eth"})

		assert.Equal(t, []error{nil, nil}, errs)
		require.NotNil(t, results[0])
		assert.Equal(t, addrA, results[0].Address)
		assert.Equal(t, eth.MetadataAvatarURL("luc.eth"), *results[0].AvatarURL)
		assert.Nil(t, results[1])
	})
}

type fakeFarcaster struct {
	users      map[persist.Address]*farcaster.NeynarUser
	byName     map[string]*farcaster.NeynarUser
	schemaErrs []error
	err        error
	calls      [][]persist.Address
}

func (f *fakeFarcaster) UsersByAddresses(ctx context.Context, addresses []persist.Address) ([]*farcaster.NeynarUser, []error, error) {
	f.calls = append(f.calls, addresses)
	if f.err != nil {
		return nil, nil, f.err
	}
	users := make([]*farcaster.NeynarUser, len(addresses))
	for i, a := range addresses {
		users[i] = f.users[a]
	}
	return users, f.schemaErrs, nil
}

func (f *fakeFarcaster) UserByUsername(ctx context.Context, username string) (*farcaster.NeynarUser, []error, error) {
	return f.byName[username], f.schemaErrs, f.err
}

func TestFarcasterResolver(t *testing.T) {
	ctx := context.Background()
	dwr := &farcaster.NeynarUser{Fid: 3, Username: "dwr", DisplayName: "Dan", CustodyAddress: addrC.String()}
	dwr.Verified.EthAddresses = []string{"0x2222222222222222222222222222222222222222"}

	t.Run("addresses", func(t *testing.T) {
		client := &fakeFarcaster{users: map[persist.Address]*farcaster.NeynarUser{addrA: dwr}}
		r := farcasterResolver{client: client}

		results, errs := r.byAddresses(ctx, []persist.Address{addrA, addrB})

		assert.Empty(t, errs)
		require.NotNil(t, results[0])
		assert.Equal(t, 3, results[0].Fid)
		assert.Equal(t, "dwr.fcast.id", results[0].Fname)
		assert.Equal(t, addrA, results[0].Address)
		assert.Equal(t, "Dan", *results[0].DisplayName)
		assert.Nil(t, results[0].PfpURL)
		assert.Nil(t, results[1])
	})

	t.Run("request failure fails the batch", func(t *testing.T) {
		r := farcasterResolver{client: &fakeFarcaster{err: errUpstream}}

		results, errs := r.byAddresses(ctx, []persist.Address{addrA, addrB})

		assert.Len(t, results, 2)
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], errUpstream)
	})

	t.Run("names", func(t *testing.T) {
		r := farcasterResolver{client: &fakeFarcaster{byName: map[string]*farcaster.NeynarUser{"dwr": dwr}}}

		results, errs := r.byNames(ctx, []string{"dwr.fcast.id", "luc.eth", "nobody.fcast.id"})

		assert.Equal(t, []error{nil, nil, nil}, errs)
		require.NotNil(t, results[0])
		assert.Equal(t, addrB, results[0].Address)
		assert.Nil(t, results[1])
		assert.Nil(t, results[2])
	})

	t.Run("invalid records are no match", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			switch req.URL.Path {
			case "/user/by_username":
				w.Write([]byte(`{"user": {"fid": 0, "username": ""}}`))
			default:
				w.Write([]byte(`{"0x1111111111111111111111111111111111111111": "not a list"}`))
			}
		}))
		defer server.Close()
		r := farcasterResolver{client: farcaster.NewNeynarAPI(server.Client(), "test-key").WithBaseURL(server.URL)}

		byName, errs := r.byNames(ctx, []string{"luc.fcast.id"})
		assert.Equal(t, []error{nil}, errs)
		assert.Nil(t, byName[0])

		byAddress, errs := r.byAddresses(ctx, []persist.Address{addrA})
		assert.Empty(t, errs)
		assert.Nil(t, byAddress[0])
	})
}

type fakeTokenList struct {
	tokens []erc20.Token
	err    error
}

func (f fakeTokenList) Index(ctx context.Context) (*erc20.Index, error) {
	if f.err != nil {
		return nil, f.err
	}
	return erc20.NewIndex(f.tokens), nil
}

type fakeChainReader struct {
	tokens map[persist.ChainID]map[persist.Address]erc20.Token
	errs   map[persist.ChainID]error
}

func (f fakeChainReader) Chains() []persist.ChainID {
	return []persist.ChainID{persist.ChainIDBase, persist.ChainIDEthereum}
}

func (f fakeChainReader) Token(ctx context.Context, chainID persist.ChainID, address persist.Address) (*erc20.Token, error) {
	if err := f.errs[chainID]; err != nil {
		return nil, err
	}
	if t, ok := f.tokens[chainID][address]; ok {
		return &t, nil
	}
	return nil, nil
}

func TestERC20Resolver(t *testing.T) {
	ctx := context.Background()
	list := fakeTokenList{tokens: []erc20.Token{
		{ChainID: persist.ChainIDEthereum, Address: addrA, Name: "Dai", Symbol: "DAI", Decimals: 18, LogoURI: "https://example.com/dai.png"},
		{ChainID: persist.ChainIDBase, Address: addrA, Name: "Dai", Symbol: "DAI", Decimals: 18},
		{ChainID: persist.ChainIDBase, Address: addrB, Name: "Degen", Symbol: "DEGEN", Decimals: 18},
	}}
	chain := fakeChainReader{tokens: map[persist.ChainID]map[persist.Address]erc20.Token{
		persist.ChainIDBase: {addrC: {ChainID: persist.ChainIDBase, Address: addrC, Name: "Unlisted", Symbol: "UNL", Decimals: 6}},
	}}

	t.Run("listed and unlisted addresses", func(t *testing.T) {
		r := erc20Resolver{list: list, onChain: chain}

		results, errs := r.byAddresses(ctx, []persist.Address{addrA, addrC})

		assert.Equal(t, []error{nil, nil}, errs)
		require.NotNil(t, results[0])
		assert.Equal(t, "DAI", results[0].Symbol)
		assert.Equal(t, "https://example.com/dai.png", *results[0].LogoURI)
		assert.Equal(t, []references.ERC20Chain{
			{ChainID: persist.ChainIDEthereum, CAIP: "eip155:1/erc20:" + addrA.String()},
			{ChainID: persist.ChainIDBase, CAIP: "eip155:8453/erc20:" + addrA.String()},
		}, results[0].Chains)
		require.NotNil(t, results[1])
		assert.Equal(t, "UNL", results[1].Symbol)
		assert.Equal(t, 6, results[1].Decimals)
		assert.Nil(t, results[1].LogoURI)
	})

	t.Run("token list outage falls back to chain", func(t *testing.T) {
		r := erc20Resolver{list: fakeTokenList{err: errUpstream}, onChain: chain}

		results, errs := r.byAddresses(ctx, []persist.Address{addrA, addrC})

		assert.Equal(t, []error{nil, nil}, errs)
		assert.Nil(t, results[0])
		assert.NotNil(t, results[1])
	})

	t.Run("chain errors only matter without a match", func(t *testing.T) {
		flaky := chain
		flaky.errs = map[persist.ChainID]error{persist.ChainIDEthereum: errUpstream}
		r := erc20Resolver{list: fakeTokenList{}, onChain: flaky}

		results, errs := r.byAddresses(ctx, []persist.Address{addrC, addrB})

		assert.NotNil(t, results[0])
		assert.NoError(t, errs[0])
		assert.Nil(t, results[1])
		assert.ErrorIs(t, errs[1], errUpstream)
	})

	t.Run("tickers", func(t *testing.T) {
		r := erc20Resolver{list: list, onChain: chain}

		results, errs := r.byTickers(ctx, []references.TickerKey{
			{Symbol: "DEGEN", ChainID: persist.ChainIDBase},
			{Symbol: "DEGEN", ChainID: persist.ChainIDEthereum},
			{Symbol: "DAI", ChainID: persist.ChainIDBase},
		})

		assert.Empty(t, errs)
		require.NotNil(t, results[0])
		assert.Equal(t, addrB, results[0].Address)
		assert.Nil(t, results[1])
		require.NotNil(t, results[2])
		assert.Len(t, results[2].Chains, 1)
	})
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(url string, call int) (*media.Metadata, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*media.Metadata, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[url]++
	call := f.calls[url]
	f.mu.Unlock()
	return f.respond(url, call)
}

func httpErr(url string, status int) error {
	return util.ErrHTTP{URL: url, Status: status, Err: errors.New(http.StatusText(status))}
}

func TestMediaResolver(t *testing.T) {
	ctx := context.Background()
	fastRetry := retry.Retry{Base: time.Millisecond, Cap: 2 * time.Millisecond, Tries: 3}

	t.Run("urls", func(t *testing.T) {
		fetcher := &fakeFetcher{respond: func(url string, call int) (*media.Metadata, error) {
			switch url {
			case "https://example.com/missing":
				return nil, httpErr(url, http.StatusNotFound)
			case "https://example.com/down":
				return nil, httpErr(url, http.StatusBadGateway)
			default:
				return &media.Metadata{URL: url, Kind: media.KindWebpage, MediaType: "text/html"}, nil
			}
		}}
		r := mediaResolver{fetcher: fetcher, ipfs: fakeGateway{}, retry: fastRetry}

		results, errs := r.byURLs(ctx, []string{"https://example.com", "https://example.com/missing", "https://example.com/down"})

		assert.NotNil(t, results[0])
		assert.NoError(t, errs[0])
		assert.Nil(t, results[1])
		assert.NoError(t, errs[1])
		assert.Nil(t, results[2])
		assert.Error(t, errs[2])
	})

	t.Run("ipfs retries until the gateway has the content", func(t *testing.T) {
		fetcher := &fakeFetcher{respond: func(url string, call int) (*media.Metadata, error) {
			if call < 3 {
				return nil, httpErr(url, http.StatusNotFound)
			}
			return &media.Metadata{URL: url, Kind: media.KindImage, MediaType: "image/png"}, nil
		}}
		r := mediaResolver{fetcher: fetcher, ipfs: fakeGateway{}, retry: fastRetry}

		results, errs := r.byIPFSURLs(ctx, []string{"ipfs://bafy/a.png"})

		assert.NoError(t, errs[0])
		require.NotNil(t, results[0])
		assert.Equal(t, "https://gateway.test/ipfs/bafy/a.png", results[0].URL)
		assert.Equal(t, 3, fetcher.calls["https://gateway.test/ipfs/bafy/a.png"])
	})

	t.Run("ipfs content that never appears is no match", func(t *testing.T) {
		fetcher := &fakeFetcher{respond: func(url string, call int) (*media.Metadata, error) {
			return nil, httpErr(url, http.StatusNotFound)
		}}
		r := mediaResolver{fetcher: fetcher, ipfs: fakeGateway{}, retry: fastRetry}

		results, errs := r.byIPFSURLs(ctx, []string{"ipfs://bafy"})

		assert.Nil(t, results[0])
		assert.NoError(t, errs[0])
		assert.Equal(t, 3, fetcher.calls["https://gateway.test/ipfs/bafy"])
	})

	t.Run("ipfs gateway errors are retried then fail", func(t *testing.T) {
		fetcher := &fakeFetcher{respond: func(url string, call int) (*media.Metadata, error) {
			return nil, httpErr(url, http.StatusServiceUnavailable)
		}}
		r := mediaResolver{fetcher: fetcher, ipfs: fakeGateway{}, retry: fastRetry}

		_, errs := r.byIPFSURLs(ctx, []string{"ipfs://bafy"})

		assert.ErrorIs(t, errs[0], retry.ErrOutOfRetries)
	})
}

type fakeComments struct {
	comments map[persist.CommentKey]*persist.Comment
	err      error
	calls    int
}

func (f *fakeComments) FindByIDs(ctx context.Context, keys []persist.CommentKey) ([]*persist.Comment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	found := make([]*persist.Comment, len(keys))
	for i, k := range keys {
		found[i] = f.comments[k]
	}
	return found, nil
}

func getCommentCall(t *testing.T, id byte) string {
	var commentID [32]byte
	commentID[31] = id
	calldata, err := caip.EncodeGetComment(commentID)
	require.NoError(t, err)
	return hexutil.Encode(calldata)
}

func commentIDHex(id byte) string {
	var commentID [32]byte
	commentID[31] = id
	return hexutil.Encode(commentID[:])
}

func TestQuotedCommentResolver(t *testing.T) {
	ctx := context.Background()
	chains := config.Chains{persist.ChainIDBase: {ID: persist.ChainIDBase, CommentContract: commentRegistry, RPCURL: "http://localhost:8545"}}

	key := persist.CommentKey{ID: commentIDHex(1), ChainID: persist.ChainIDBase}
	deletedKey := persist.CommentKey{ID: commentIDHex(2), ChainID: persist.ChainIDBase}
	comments := &fakeComments{comments: map[persist.CommentKey]*persist.Comment{
		key:        {ID: key.ID, ChainID: persist.ChainIDBase, ContractAddress: commentRegistry, Content: "gm"},
		deletedKey: {ID: deletedKey.ID, ChainID: persist.ChainIDBase, ContractAddress: commentRegistry, Deleted: true},
	}}
	r := quotedCommentResolver{comments: comments, chains: chains}

	calls := []references.CallKey{
		{ChainID: persist.ChainIDBase, Contract: commentRegistry, Calldata: getCommentCall(t, 1)},
		{ChainID: persist.ChainIDBase, Contract: addrA, Calldata: getCommentCall(t, 1)},
		{ChainID: persist.ChainIDEthereum, Contract: commentRegistry, Calldata: getCommentCall(t, 1)},
		{ChainID: persist.ChainIDBase, Contract: commentRegistry, Calldata: "0xdeadbeef"},
		{ChainID: persist.ChainIDBase, Contract: commentRegistry, Calldata: getCommentCall(t, 2)},
	}

	results, errs := r.byCalls(ctx, calls)

	assert.Empty(t, errs)
	assert.Equal(t, 1, comments.calls)
	require.NotNil(t, results[0])
	assert.Equal(t, key.ID, results[0].ID)
	assert.Equal(t, commentRegistry, results[0].ContractAddress)
	for _, r := range results[1:] {
		assert.Nil(t, r)
	}

	t.Run("store failure fails the batch", func(t *testing.T) {
		r := quotedCommentResolver{comments: &fakeComments{err: errUpstream}, chains: chains}

		_, errs := r.byCalls(ctx, calls[:1])

		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], errUpstream)
	})

	t.Run("nothing to look up", func(t *testing.T) {
		store := &fakeComments{}
		r := quotedCommentResolver{comments: store, chains: chains}

		results, errs := r.byCalls(ctx, calls[1:4])

		assert.Empty(t, errs)
		assert.Len(t, results, 3)
		assert.Zero(t, store.calls)
	})
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	resolvers := New(ctx, Deps{
		ENS: &fakeENS{
			forward: map[string]persist.Address{"luc.eth": addrA},
			reverse: map[persist.Address]string{addrB: "b.eth"},
		},
		Farcaster:    &fakeFarcaster{},
		TokenList:    fakeTokenList{},
		OnChain:      fakeChainReader{},
		Fetcher:      &fakeFetcher{respond: func(url string, call int) (*media.Metadata, error) { return nil, httpErr(url, http.StatusGone) }},
		IPFS:         fakeGateway{},
		Comments:     &fakeComments{},
		Chains:       config.Chains{},
		BatchTimeout: time.Millisecond,
	})

	result, err := references.Resolve(ctx, "luc.eth and "+addrB.String()+" https://example.com/gone", persist.ChainIDBase, resolvers)

	require.NoError(t, err)
	assert.Equal(t, persist.ResolutionStatusSuccess, result.Status)
	require.Len(t, result.References, 2)
	assert.Equal(t, "luc.eth", result.References[0].(references.ENSReference).Name)
	assert.Equal(t, "b.eth", result.References[1].(references.ENSReference).Name)
}
