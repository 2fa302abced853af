package resolver

import (
	"context"
	"strings"

	"github.com/mikeydub/comment-references/service/farcaster"
	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/service/references"
)

type farcasterResolver struct {
	client FarcasterClient
}

// byAddresses looks up the users verified for each address in one request
func (r farcasterResolver) byAddresses(ctx context.Context, addresses []persist.Address) ([]*references.FarcasterReference, []error) {
	users, schemaErrs, err := r.client.UsersByAddresses(ctx, addresses)
	if err != nil {
		return batchError[references.FarcasterReference](len(addresses), err)
	}

	reportSchemaErrors(ctx, schemaErrs)

	results := make([]*references.FarcasterReference, len(addresses))
	for i, u := range users {
		if u != nil {
			results[i] = farcasterReference(*u, addresses[i])
		}
	}

	return results, nil
}

// byNames looks up users by their <username>.fcast.id name. The API has no bulk endpoint for this, so
// the loader sends one name per batch.
func (r farcasterResolver) byNames(ctx context.Context, names []string) ([]*references.FarcasterReference, []error) {
	results := make([]*references.FarcasterReference, len(names))
	errs := make([]error, len(names))

	for i, name := range names {
		username, ok := farcaster.UsernameFromFname(name)
		if !ok {
			continue
		}

		u, schemaErrs, err := r.client.UserByUsername(ctx, username)
		reportSchemaErrors(ctx, schemaErrs)
		if err != nil {
			errs[i] = err
			continue
		}
		if u != nil {
			results[i] = farcasterReference(*u, primaryAddress(*u))
		}
	}

	return results, errs
}

func farcasterReference(u farcaster.NeynarUser, address persist.Address) *references.FarcasterReference {
	return &references.FarcasterReference{
		Fid:         u.Fid,
		Fname:       u.Fname(),
		Username:    u.Username,
		DisplayName: nonEmpty(u.DisplayName),
		PfpURL:      nonEmpty(u.PfpURL),
		Address:     address,
		URL:         u.ProfileURL(),
	}
}

// primaryAddress is the user's first verified address, or their custody address if they have none
func primaryAddress(u farcaster.NeynarUser) persist.Address {
	if len(u.Verified.EthAddresses) > 0 {
		return persist.NewAddress(u.Verified.EthAddresses[0])
	}
	return persist.NewAddress(u.CustodyAddress)
}

func nonEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
