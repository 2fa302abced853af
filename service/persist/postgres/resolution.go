package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/mikeydub/comment-references/service/persist"
)

const getResolution = `-- name: GetCommentReferenceResolution
SELECT comment_id, comment_revision, "references", status, updated_at
FROM comment_reference_resolutions
WHERE comment_id = $1 AND comment_revision = $2`

const upsertResolution = `-- name: UpsertCommentReferenceResolution
INSERT INTO comment_reference_resolutions (comment_id, comment_revision, "references", status, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (comment_id, comment_revision)
DO UPDATE SET "references" = excluded."references", status = excluded.status, updated_at = excluded.updated_at`

// ResolutionCacheRepository persists resolution results in comment_reference_resolutions, whose primary
// key is (comment_id, comment_revision).
type ResolutionCacheRepository struct {
	pool *pgxpool.Pool
}

func NewResolutionCacheRepository(pool *pgxpool.Pool) *ResolutionCacheRepository {
	return &ResolutionCacheRepository{pool: pool}
}

func (r *ResolutionCacheRepository) Get(ctx context.Context, commentID string, revision int) (persist.ResolutionCacheEntry, error) {
	var entry persist.ResolutionCacheEntry
	var refs pgtype.JSONB
	var status string

	err := r.pool.QueryRow(ctx, getResolution, commentID, revision).Scan(&entry.CommentID, &entry.CommentRevision, &refs, &status, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return persist.ResolutionCacheEntry{}, persist.ErrResolutionNotFound{CommentID: commentID, Revision: revision}
	}
	if err != nil {
		return persist.ResolutionCacheEntry{}, err
	}

	entry.Status = persist.ResolutionStatus(status)
	if refs.Status == pgtype.Present {
		entry.References = refs.Bytes
	}

	return entry, nil
}

func (r *ResolutionCacheRepository) Upsert(ctx context.Context, entry persist.ResolutionCacheEntry) error {
	refs := pgtype.JSONB{Bytes: entry.References, Status: pgtype.Present}
	if entry.References == nil {
		refs = pgtype.JSONB{Bytes: []byte("[]"), Status: pgtype.Present}
	}

	_, err := r.pool.Exec(ctx, upsertResolution, entry.CommentID, entry.CommentRevision, refs, string(entry.Status), entry.UpdatedAt)
	return err
}
