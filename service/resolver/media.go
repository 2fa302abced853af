package resolver

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/mikeydub/comment-references/service/media"
	"github.com/mikeydub/comment-references/util/retry"
)

// Content pinned to a gateway may take a moment to become available, so gateway fetches are retried
var defaultIPFSRetry = retry.Retry{Base: 300 * time.Millisecond, Cap: 2 * time.Second, Tries: 3}

type mediaResolver struct {
	fetcher Fetcher
	ipfs    IPFSGateway
	retry   retry.Retry
}

// byURLs fetches each URL. URLs the server says don't exist are no match rather than errors.
func (r mediaResolver) byURLs(ctx context.Context, urls []string) ([]*media.Metadata, []error) {
	results := make([]*media.Metadata, len(urls))
	errs := make([]error, len(urls))

	iter.ForEachIdx(urls, func(i int, u *string) {
		results[i], errs[i] = noMatchIsNil(r.fetcher.Fetch(ctx, *u))
	})

	return results, errs
}

// byIPFSURLs fetches each ipfs:// URL through the gateway
func (r mediaResolver) byIPFSURLs(ctx context.Context, urls []string) ([]*media.Metadata, []error) {
	results := make([]*media.Metadata, len(urls))
	errs := make([]error, len(urls))

	iter.ForEachIdx(urls, func(i int, u *string) {
		gatewayURL, err := r.ipfs.Resolve(ctx, *u)
		if err != nil {
			errs[i] = err
			return
		}

		var m *media.Metadata
		err = retry.RetryFunc(ctx, func(ctx context.Context) error {
			m, err = r.fetcher.Fetch(ctx, gatewayURL)
			return err
		}, media.IsRetryable, r.retry)

		results[i], errs[i] = noMatchIsNil(m, err)
	})

	return results, errs
}

func noMatchIsNil(m *media.Metadata, err error) (*media.Metadata, error) {
	if media.IsNoMatch(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
