package erc20

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/service/redis"
	"github.com/mikeydub/comment-references/util"
)

// DefaultTokenListURL is the Uniswap default token list
const DefaultTokenListURL = "https://tokens.uniswap.org"

const defaultListTTL = time.Hour

// Token is an ERC-20 token deployed on one chain
type Token struct {
	ChainID  persist.ChainID `json:"chainId"`
	Address  persist.Address `json:"address"`
	Name     string          `json:"name"`
	Symbol   string          `json:"symbol"`
	Decimals int             `json:"decimals"`
	LogoURI  string          `json:"logoURI,omitempty"`
}

type tokenList struct {
	Name   string  `json:"name"`
	Tokens []Token `json:"tokens"`
}

type symbolKey struct {
	symbol  string
	chainID persist.ChainID
}

// Index looks tokens up by address or by symbol
type Index struct {
	byAddress map[persist.Address][]Token
	bySymbol  map[symbolKey]Token
}

func NewIndex(tokens []Token) *Index {
	idx := &Index{
		byAddress: make(map[persist.Address][]Token),
		bySymbol:  make(map[symbolKey]Token),
	}
	for _, t := range tokens {
		t.Address = persist.NewAddress(t.Address.String())
		if !t.Address.IsValid() {
			continue
		}
		idx.byAddress[t.Address] = append(idx.byAddress[t.Address], t)

		// The first token listed for a symbol on a chain wins
		key := symbolKey{symbol: strings.ToUpper(t.Symbol), chainID: t.ChainID}
		if _, ok := idx.bySymbol[key]; !ok {
			idx.bySymbol[key] = t
		}
	}
	return idx
}

// ByAddress returns every deployment listed for address
func (i *Index) ByAddress(address persist.Address) []Token {
	return i.byAddress[address]
}

// BySymbol returns the token with symbol on chainID
func (i *Index) BySymbol(symbol string, chainID persist.ChainID) (Token, bool) {
	t, ok := i.bySymbol[symbolKey{symbol: strings.ToUpper(symbol), chainID: chainID}]
	return t, ok
}

// TokenList downloads and indexes a token list. The parsed list is kept in memory for a TTL and, when a
// redis cache is configured, the raw list is shared between processes.
type TokenList struct {
	url        string
	httpClient *http.Client
	cache      *redis.Cache
	ttl        time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	index     *Index
	fetchedAt time.Time
	group     singleflight.Group
}

func NewTokenList(url string, httpClient *http.Client, cache *redis.Cache) *TokenList {
	if url == "" {
		url = DefaultTokenListURL
	}
	return &TokenList{url: url, httpClient: httpClient, cache: cache, ttl: defaultListTTL, now: time.Now}
}

// Index returns the current token index, fetching the list if it is missing or expired
func (l *TokenList) Index(ctx context.Context) (*Index, error) {
	l.mu.RLock()
	idx, fetchedAt := l.index, l.fetchedAt
	l.mu.RUnlock()

	if idx != nil && l.now().Sub(fetchedAt) < l.ttl {
		return idx, nil
	}

	v, err, _ := l.group.Do("index", func() (any, error) {
		bs, err := l.load(ctx)
		if err != nil {
			return nil, err
		}

		var list tokenList
		if err := json.Unmarshal(bs, &list); err != nil {
			return nil, fmt.Errorf("invalid token list from %s: %w", l.url, err)
		}

		idx := NewIndex(list.Tokens)

		l.mu.Lock()
		l.index, l.fetchedAt = idx, l.now()
		l.mu.Unlock()

		logger.For(ctx).Infof("loaded %d tokens from %s", len(list.Tokens), l.url)
		return idx, nil
	})
	if err != nil {
		// Serve the expired list rather than failing every lookup
		if idx != nil {
			logger.For(ctx).WithError(err).Warn("failed to refresh token list, serving stale list")
			return idx, nil
		}
		return nil, err
	}

	return v.(*Index), nil
}

func (l *TokenList) load(ctx context.Context) ([]byte, error) {
	if l.cache == nil {
		return l.download(ctx)
	}
	return redis.LazyCache{
		Cache:    l.cache,
		Key:      l.url,
		TTL:      l.ttl,
		CalcFunc: l.download,
	}.Load(ctx)
}

func (l *TokenList) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, util.BodyAsError(resp)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	return raw, nil
}
