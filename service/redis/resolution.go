package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/util"
)

// ResolutionStore keeps resolution results in redis, one key per comment revision. SET overwrites in
// place, so concurrent writers for the same revision never produce more than one entry.
type ResolutionStore struct {
	cache *Cache
}

func NewResolutionStore(cache *Cache) *ResolutionStore {
	return &ResolutionStore{cache: cache}
}

func resolutionKey(commentID string, revision int) string {
	return fmt.Sprintf("%s:%d", commentID, revision)
}

func (s *ResolutionStore) Get(ctx context.Context, commentID string, revision int) (persist.ResolutionCacheEntry, error) {
	bs, err := s.cache.Get(ctx, resolutionKey(commentID, revision))
	if util.ErrorAs[ErrKeyNotFound](err) {
		return persist.ResolutionCacheEntry{}, persist.ErrResolutionNotFound{CommentID: commentID, Revision: revision}
	}
	if err != nil {
		return persist.ResolutionCacheEntry{}, err
	}

	var entry persist.ResolutionCacheEntry
	if err := json.Unmarshal(bs, &entry); err != nil {
		return persist.ResolutionCacheEntry{}, err
	}

	return entry, nil
}

func (s *ResolutionStore) Upsert(ctx context.Context, entry persist.ResolutionCacheEntry) error {
	bs, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, resolutionKey(entry.CommentID, entry.CommentRevision), bs, 0)
}
