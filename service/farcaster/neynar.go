package farcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/mikeydub/comment-references/env"
	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/util"
	"github.com/mikeydub/comment-references/util/retry"
)

const neynarV2BaseURL = "https://api.neynar.com/v2/farcaster"

// MaxAddressesPerRequest is the largest batch the bulk-by-address endpoint accepts
const MaxAddressesPerRequest = 350

// Neynar's starter plan allows 300 requests per minute
const defaultRequestsPerSecond = 5

// Rate limited requests are retried briefly; callers are waiting on them
var rateLimitRetry = retry.Retry{Base: 500 * time.Millisecond, Cap: 2 * time.Second, Tries: 3, Jitter: true}

const (
	fnameSuffix = ".fcast.id"
	warpcastURL = "https://warpcast.com/"
)

func init() {
	env.RegisterValidation("NEYNAR_API_KEY", "required")
}

// ErrSchema is returned for users that fail response validation
type ErrSchema struct {
	Err error
}

func (e ErrSchema) Error() string {
	return fmt.Sprintf("invalid neynar user: %s", e.Err)
}

func (e ErrSchema) Unwrap() error { return e.Err }

type NeynarAPI struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	validate   *validator.Validate
	limiter    *rate.Limiter
}

func NewNeynarAPI(httpClient *http.Client, apiKey string) *NeynarAPI {
	return &NeynarAPI{
		httpClient: httpClient,
		apiKey:     apiKey,
		baseURL:    neynarV2BaseURL,
		validate:   validator.New(),
		limiter:    rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultRequestsPerSecond),
	}
}

// WithBaseURL returns a copy of the client that sends requests to baseURL
func (n *NeynarAPI) WithBaseURL(baseURL string) *NeynarAPI {
	c := *n
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return &c
}

type NeynarUser struct {
	Fid            int    `json:"fid" validate:"gt=0"`
	Username       string `json:"username" validate:"required"`
	DisplayName    string `json:"display_name"`
	PfpURL         string `json:"pfp_url" validate:"omitempty,url"`
	CustodyAddress string `json:"custody_address"`
	Verified       struct {
		EthAddresses []string `json:"eth_addresses"`
	} `json:"verified_addresses"`
}

// ProfileURL is the user's public profile page
func (u NeynarUser) ProfileURL() string {
	return warpcastURL + u.Username
}

// Fname is the user's name in <username>.fcast.id form
func (u NeynarUser) Fname() string {
	return u.Username + fnameSuffix
}

// UsernameFromFname strips the .fcast.id suffix from a Farcaster name mention. ok is false when name is not
// a Farcaster name.
func UsernameFromFname(name string) (username string, ok bool) {
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, fnameSuffix) || len(lower) == len(fnameSuffix) {
		return "", false
	}
	return strings.TrimSuffix(lower, fnameSuffix), true
}

// UsersByAddresses returns the first user verified for each address, in address order. Addresses without
// a user are nil. Users failing validation are dropped and their errors returned alongside the users, as is
// the error for a body that can't be decoded at all.
func (n *NeynarAPI) UsersByAddresses(ctx context.Context, addresses []persist.Address) ([]*NeynarUser, []error, error) {
	results := make([]*NeynarUser, len(addresses))
	if len(addresses) == 0 {
		return results, nil, nil
	}

	strs := make([]string, len(addresses))
	for i, a := range addresses {
		strs[i] = a.String()
	}

	u := fmt.Sprintf("%s/user/bulk-by-address?addresses=%s", n.baseURL, url.QueryEscape(strings.Join(strs, ",")))

	var body map[string][]NeynarUser
	found, err := n.get(ctx, u, &body)
	if util.ErrorAs[ErrSchema](err) {
		return results, []error{err}, nil
	}
	if err != nil || !found {
		return results, nil, err
	}

	byAddress := make(map[persist.Address][]NeynarUser, len(body))
	for addr, users := range body {
		byAddress[persist.NewAddress(addr)] = users
	}

	var schemaErrs []error
	for i, a := range addresses {
		for _, user := range byAddress[a] {
			if err := n.validate.Struct(user); err != nil {
				schemaErrs = append(schemaErrs, ErrSchema{Err: err})
				continue
			}
			user := user
			results[i] = &user
			break
		}
	}

	return results, schemaErrs, nil
}

type userByUsernameResponse struct {
	User *NeynarUser `json:"user"`
}

// UserByUsername returns the user with username, or nil if there is none. A user failing validation is
// returned as a schema error instead, with a nil user.
func (n *NeynarAPI) UserByUsername(ctx context.Context, username string) (*NeynarUser, []error, error) {
	u := fmt.Sprintf("%s/user/by_username?username=%s", n.baseURL, url.QueryEscape(username))

	var body userByUsernameResponse
	found, err := n.get(ctx, u, &body)
	if util.ErrorAs[ErrSchema](err) {
		return nil, []error{err}, nil
	}
	if err != nil || !found || body.User == nil {
		return nil, nil, err
	}

	if err := n.validate.Struct(body.User); err != nil {
		return nil, []error{ErrSchema{Err: err}}, nil
	}

	return body.User, nil, nil
}

// get decodes a successful response into into. found is false when the API returned 404.
func (n *NeynarAPI) get(ctx context.Context, u string, into any) (found bool, err error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", n.apiKey)

	resp, err := retry.RetryRequestWithRetry(n.httpClient, req, rateLimitRetry)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}

	if resp.StatusCode != http.StatusOK {
		return false, util.BodyAsError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return false, ErrSchema{Err: err}
	}

	return true, nil
}
