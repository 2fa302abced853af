package eth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/shurcooL/graphql"
	ens "github.com/wealdtech/go-ens/v3"

	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/util/retry"
)

var ErrNoResolution = errors.New("no resolution")
var ErrUnknownENSAvatarURI = errors.New("unknown ENS avatar uri")

// ErrSchema is returned when the name-search subgraph returns a record that fails validation
type ErrSchema struct {
	Record string
	Err    error
}

func (e ErrSchema) Error() string {
	return fmt.Sprintf("invalid ens subgraph record %s: %s", e.Record, e.Err)
}

func (e ErrSchema) Unwrap() error { return e.Err }

// Regex for CAIP-19 asset type with required asset ID
// https://github.com/ChainAgnostic/CAIPs/blob/master/CAIPs/caip-19.md
var caip19AssetTypeWithAssetID = regexp.MustCompile(
	"^(?P<chain_id>[-a-z0-9]{3,8}:[-_a-zA-Z0-9]{1,32})/" +
		"(?P<asset_namespace>[-a-z0-9]{3,8}):" +
		"(?P<asset_reference>[-.%a-zA-Z0-9]{1,78})/" +
		"(?P<token_id>[-.%a-zA-Z0-9]{1,78})$",
)

const (
	DefaultSubgraphURL = "https://api.thegraph.com/subgraphs/name/ensdomains/ens"
	ensMetadataURL     = "https://metadata.ens.domains/mainnet/avatar/"
	ensAppURL          = "https://app.ens.domains/"
)

// The subgraph search runs inside a shared batch that every comment with an unnamed address waits on, so
// rate limiting only gets a few quick retries
var subgraphRetry = retry.Retry{Base: 300 * time.Millisecond, Cap: 2 * time.Second, Tries: 3, Jitter: true}

// ENS resolves names through the ENS registry and, for addresses without a primary name, the ENS subgraph
type ENS struct {
	backend  bind.ContractBackend
	subgraph *graphql.Client
	validate *validator.Validate
	now      func() time.Time
}

func NewENS(backend bind.ContractBackend, subgraphURL string, httpClient *http.Client) *ENS {
	if subgraphURL == "" {
		subgraphURL = DefaultSubgraphURL
	}
	return &ENS{
		backend:  backend,
		subgraph: graphql.NewClient(subgraphURL, httpClient),
		validate: validator.New(),
		now:      time.Now,
	}
}

// ReverseResolve returns the primary name of address. The name must forward resolve to the same address,
// otherwise anyone could claim a name by setting a reverse record.
func (e *ENS) ReverseResolve(ctx context.Context, address persist.Address) (string, error) {
	domain, err := ens.ReverseResolve(e.backend, address.ToHexAddress())
	if err != nil {
		return "", asNoResolution(err)
	}
	if domain == "" {
		return "", ErrNoResolution
	}

	resolved, err := e.Resolve(ctx, domain)
	if err != nil {
		return "", err
	}

	if resolved != address {
		return "", ErrNoResolution
	}

	return domain, nil
}

// Resolve returns the address name resolves to
func (e *ENS) Resolve(ctx context.Context, name string) (persist.Address, error) {
	name, err := NormalizeDomain(name)
	if err != nil {
		return "", ErrNoResolution
	}

	addr, err := ens.Resolve(e.backend, name)
	if err != nil {
		return "", asNoResolution(err)
	}
	if addr == (common.Address{}) {
		return "", ErrNoResolution
	}

	return persist.NewAddress(addr.Hex()), nil
}

// AvatarRecord returns the parsed avatar text record of name. It returns a nil record if name has no avatar.
func (e *ENS) AvatarRecord(ctx context.Context, name string) (AvatarRecord, error) {
	resolver, err := ens.NewResolver(e.backend, name)
	if err != nil {
		return nil, asNoResolution(err)
	}

	record, err := resolver.Text("avatar")
	if err != nil {
		return nil, err
	}

	if record == "" {
		return nil, nil
	}

	return toRecord(record)
}

type subgraphDomain struct {
	Name            string `validate:"required"`
	ResolvedAddress struct {
		ID string `validate:"required,eth_addr"`
	}
	ExpiryDate *string
}

type domainsByResolvedAddressQuery struct {
	Domains []subgraphDomain `graphql:"domains(first: $first, where: {resolvedAddress_in: $addresses}, orderBy: createdAt, orderDirection: asc)"`
}

// SearchNames finds a name resolving to each address in the ENS subgraph, skipping expired names. The
// returned map only contains addresses with a match. Records failing validation are skipped and returned
// as schema errors alongside the matches.
func (e *ENS) SearchNames(ctx context.Context, addresses []persist.Address) (map[persist.Address]string, []error, error) {
	if len(addresses) == 0 {
		return map[persist.Address]string{}, nil, nil
	}

	vars := make([]graphql.String, len(addresses))
	for i, a := range addresses {
		vars[i] = graphql.String(a.String())
	}

	var query domainsByResolvedAddressQuery
	err := retry.RetryQueryWithRetry(ctx, e.subgraph, &query, map[string]any{
		"addresses": vars,
		"first":     graphql.Int(len(addresses) * 10),
	}, subgraphRetry)
	if err != nil {
		return nil, nil, err
	}

	names := make(map[persist.Address]string, len(addresses))
	var schemaErrs []error

	for _, d := range query.Domains {
		if err := e.validate.Struct(d); err != nil {
			schemaErrs = append(schemaErrs, ErrSchema{Record: d.Name, Err: err})
			continue
		}

		if IsExpired(d.ExpiryDate, e.now()) {
			continue
		}

		addr := persist.NewAddress(d.ResolvedAddress.ID)
		if _, ok := names[addr]; !ok {
			names[addr] = d.Name
		}
	}

	return names, schemaErrs, nil
}

// IsExpired reports whether an expiry timestamp (unix seconds) is in the past. A missing expiry never expires.
func IsExpired(expiry *string, now time.Time) bool {
	if expiry == nil || *expiry == "" || *expiry == "0" {
		return false
	}
	var secs int64
	if _, err := fmt.Sscan(*expiry, &secs); err != nil {
		return false
	}
	return time.Unix(secs, 0).Before(now)
}

// NormalizeDomain converts a domain to its canonical form
func NormalizeDomain(domain string) (string, error) {
	if domain == "" {
		return "", errors.New("empty domain")
	}
	domain, err := ens.NormaliseDomain(domain)
	if err != nil {
		return "", err
	}
	return domain, nil
}

// ProfileURL is the public page of name
func ProfileURL(name string) string {
	return ensAppURL + name
}

// MetadataAvatarURL is an image URL for name's avatar rendered by the ENS metadata service
func MetadataAvatarURL(name string) string {
	return ensMetadataURL + name
}

func asNoResolution(err error) error {
	msg := err.Error()
	for _, s := range []string{"not a resolver", "no resolution", "no resolver", "unregistered name", "no address"} {
		if strings.Contains(msg, s) {
			return ErrNoResolution
		}
	}
	return err
}

func toRecord(r string) (AvatarRecord, error) {
	switch {
	case strings.HasPrefix(r, "https://"), strings.HasPrefix(r, "http://"):
		return EnsHttpRecord{URL: r}, nil
	case strings.HasPrefix(r, "ipfs://"):
		return EnsIpfsRecord{URL: r}, nil
	case caip19AssetTypeWithAssetID.MatchString(r):
		g := caip19AssetTypeWithAssetID.FindStringSubmatch(r)
		return EnsTokenRecord{
			ChainID:        g[1],
			AssetNamespace: g[2],
			AssetReference: g[3],
			AssetID:        g[4],
		}, nil
	default:
		return nil, ErrUnknownENSAvatarURI
	}
}

type AvatarRecord interface {
	IsAvatarURI()
}

type EnsHttpRecord struct {
	URL string
}

func (EnsHttpRecord) IsAvatarURI() {}

type EnsIpfsRecord struct {
	URL string
}

func (EnsIpfsRecord) IsAvatarURI() {}

// EnsTokenRecord is an NFT avatar, e.g. eip155:1/erc721:0xb47e.../2430
type EnsTokenRecord struct {
	ChainID        string
	AssetNamespace string
	AssetReference string
	AssetID        string
}

func (EnsTokenRecord) IsAvatarURI() {}
