package resolver

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mikeydub/comment-references/config"
	"github.com/mikeydub/comment-references/service/caip"
	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/service/references"
)

type quotedCommentResolver struct {
	comments persist.CommentRepository
	chains   config.Chains
}

// byCalls decodes each call as a getComment call to the comment registry of its chain, then looks every
// comment up in a single query. Calls to anything else are no match.
func (r quotedCommentResolver) byCalls(ctx context.Context, calls []references.CallKey) ([]*references.QuotedCommentReference, []error) {
	results := make([]*references.QuotedCommentReference, len(calls))

	var keys []persist.CommentKey
	var positions []int

	for i, call := range calls {
		id, ok := r.commentID(ctx, call)
		if !ok {
			continue
		}
		keys = append(keys, persist.CommentKey{ID: id, ChainID: call.ChainID})
		positions = append(positions, i)
	}

	if len(keys) == 0 {
		return results, nil
	}

	found, err := r.comments.FindByIDs(ctx, keys)
	if err != nil {
		return batchError[references.QuotedCommentReference](len(calls), err)
	}

	for j, c := range found {
		if j >= len(positions) {
			break
		}
		if c == nil || c.Deleted {
			continue
		}
		results[positions[j]] = &references.QuotedCommentReference{
			ID:              c.ID,
			ChainID:         c.ChainID,
			ContractAddress: c.ContractAddress,
		}
	}

	return results, nil
}

func (r quotedCommentResolver) commentID(ctx context.Context, call references.CallKey) (string, bool) {
	contract, ok := r.chains.CommentContract(call.ChainID)
	if !ok || !strings.EqualFold(contract.String(), call.Contract.String()) {
		return "", false
	}

	calldata, err := hexutil.Decode(call.Calldata)
	if err != nil {
		return "", false
	}

	id, ok, err := caip.DecodeGetComment(calldata)
	if err != nil {
		logger.For(ctx).WithError(err).Debugf("ignoring malformed getComment call to %s", call.Contract)
		return "", false
	}

	return id, ok
}
