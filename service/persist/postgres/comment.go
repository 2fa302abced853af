package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/mikeydub/comment-references/service/persist"
)

const findCommentsByIDs = `-- name: FindCommentsByIDs
SELECT c.id, c.chain_id, c.contract_address, c.author, c.content, c.revision, c.deleted, c.created_at, c.last_updated
FROM comments c
JOIN unnest($1::text[], $2::int[]) AS k(id, chain_id) ON c.id = k.id AND c.chain_id = k.chain_id
WHERE NOT c.deleted`

const findRecentComments = `-- name: FindRecentComments
SELECT c.id, c.chain_id, c.contract_address, c.author, c.content, c.revision, c.deleted, c.created_at, c.last_updated
FROM comments c
WHERE c.chain_id = $1 AND c.last_updated >= $2 AND NOT c.deleted
ORDER BY c.last_updated DESC
LIMIT $3`

// CommentRepository reads comments written by the indexer
type CommentRepository struct {
	pool *pgxpool.Pool
}

func NewCommentRepository(pool *pgxpool.Pool) *CommentRepository {
	return &CommentRepository{pool: pool}
}

// FindByIDs returns one comment per key in key order. Comments that don't exist are nil.
func (r *CommentRepository) FindByIDs(ctx context.Context, keys []persist.CommentKey) ([]*persist.Comment, error) {
	ids := make([]string, len(keys))
	chainIDs := make([]int32, len(keys))
	for i, k := range keys {
		ids[i] = k.ID
		chainIDs[i] = int32(k.ChainID)
	}

	rows, err := r.pool.Query(ctx, findCommentsByIDs, ids, chainIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments, err := scanComments(rows)
	if err != nil {
		return nil, err
	}

	found := make(map[persist.CommentKey]*persist.Comment, len(comments))
	for _, c := range comments {
		found[persist.CommentKey{ID: c.ID, ChainID: c.ChainID}] = c
	}

	results := make([]*persist.Comment, len(keys))
	for i, k := range keys {
		results[i] = found[k]
	}

	return results, nil
}

// FindRecent returns up to limit comments on chainID updated at or after since, newest first
func (r *CommentRepository) FindRecent(ctx context.Context, chainID persist.ChainID, since time.Time, limit int) ([]*persist.Comment, error) {
	rows, err := r.pool.Query(ctx, findRecentComments, int32(chainID), since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanComments(rows)
}

func scanComments(rows pgx.Rows) ([]*persist.Comment, error) {
	var comments []*persist.Comment
	for rows.Next() {
		var c persist.Comment
		var chainID int32
		err := rows.Scan(&c.ID, &chainID, &c.ContractAddress, &c.Author, &c.Content, &c.Revision, &c.Deleted, &c.CreatedAt, &c.LastUpdated)
		if err != nil {
			return nil, err
		}
		c.ChainID = persist.ChainID(chainID)
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}
