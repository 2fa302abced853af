package resolver

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc/iter"

	"github.com/mikeydub/comment-references/service/eth"
	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/service/references"
	sentryutil "github.com/mikeydub/comment-references/service/sentry"
)

type ensResolver struct {
	client ENSClient
	ipfs   IPFSGateway
}

type nameResult struct {
	name string
	err  error
}

// byAddresses finds the name of each address. Reverse records are checked for every address in
// parallel; the addresses without one are then searched for in a single subgraph query.
func (r ensResolver) byAddresses(ctx context.Context, addresses []persist.Address) ([]*references.ENSReference, []error) {
	names := iter.Map(addresses, func(a *persist.Address) nameResult {
		name, err := r.client.ReverseResolve(ctx, *a)
		if errors.Is(err, eth.ErrNoResolution) {
			return nameResult{}
		}
		return nameResult{name: name, err: err}
	})

	var misses []persist.Address
	for i, n := range names {
		if n.name == "" && n.err == nil {
			misses = append(misses, addresses[i])
		}
	}

	if len(misses) > 0 {
		found, schemaErrs, err := r.client.SearchNames(ctx, misses)
		reportSchemaErrors(ctx, schemaErrs)
		for i, n := range names {
			if n.name != "" || n.err != nil {
				continue
			}
			if err != nil {
				names[i].err = err
				continue
			}
			names[i].name = found[addresses[i]]
		}
	}

	results := make([]*references.ENSReference, len(addresses))
	errs := make([]error, len(addresses))

	iter.ForEachIdx(names, func(i int, n *nameResult) {
		if n.err != nil {
			errs[i] = n.err
			return
		}
		if n.name != "" {
			results[i] = r.reference(ctx, n.name, addresses[i])
		}
	})

	return results, errs
}

// byNames resolves each name to its address
func (r ensResolver) byNames(ctx context.Context, names []string) ([]*references.ENSReference, []error) {
	results := make([]*references.ENSReference, len(names))
	errs := make([]error, len(names))

	iter.ForEachIdx(names, func(i int, name *string) {
		address, err := r.client.Resolve(ctx, *name)
		if errors.Is(err, eth.ErrNoResolution) {
			return
		}
		if err != nil {
			errs[i] = err
			return
		}
		results[i] = r.reference(ctx, *name, address)
	})

	return results, errs
}

func (r ensResolver) reference(ctx context.Context, name string, address persist.Address) *references.ENSReference {
	return &references.ENSReference{
		Name:      name,
		Address:   address,
		AvatarURL: r.avatarURL(ctx, name),
		URL:       eth.ProfileURL(name),
	}
}

// avatarURL returns a displayable URL for the avatar of name. A missing or unreadable avatar is not an
// error; the reference is still useful without it.
func (r ensResolver) avatarURL(ctx context.Context, name string) *string {
	record, err := r.client.AvatarRecord(ctx, name)
	if err != nil {
		if !errors.Is(err, eth.ErrNoResolution) {
			logger.For(ctx).WithError(err).Debugf("failed to read avatar of %s", name)
		}
		return nil
	}

	switch rec := record.(type) {
	case eth.EnsHttpRecord:
		return &rec.URL
	case eth.EnsIpfsRecord:
		u, err := r.ipfs.Resolve(ctx, rec.URL)
		if err != nil {
			logger.For(ctx).WithError(err).Debugf("failed to resolve ipfs avatar of %s", name)
			return nil
		}
		return &u
	case eth.EnsTokenRecord:
		u := eth.MetadataAvatarURL(name)
		return &u
	default:
		return nil
	}
}

// reportSchemaErrors reports records an upstream returned that failed validation. They are treated as no
// match so they never reach callers.
func reportSchemaErrors(ctx context.Context, errs []error) {
	for _, err := range errs {
		logger.For(ctx).WithError(err).Warn("upstream returned an invalid record")
		sentryutil.ReportError(ctx, err)
	}
}
