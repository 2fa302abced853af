package persist

import (
	"context"
	"fmt"
	"time"
)

// Comment is a comment posted to a comment registry contract
type Comment struct {
	ID              string    `json:"id"`
	ChainID         ChainID   `json:"chain_id"`
	ContractAddress Address   `json:"contract_address"`
	Author          Address   `json:"author"`
	Content         string    `json:"content"`
	Revision        int       `json:"revision"`
	Deleted         bool      `json:"deleted"`
	CreatedAt       time.Time `json:"created_at"`
	LastUpdated     time.Time `json:"last_updated"`
}

// CommentKey identifies a comment across chains
type CommentKey struct {
	ID      string  `json:"id"`
	ChainID ChainID `json:"chainId"`
}

func (k CommentKey) String() string {
	return fmt.Sprintf("%s:%s", k.ChainID, k.ID)
}

// CommentRepository looks up comments by id. Results are ordered like the keys; a missing comment is nil.
type CommentRepository interface {
	FindByIDs(ctx context.Context, keys []CommentKey) ([]*Comment, error)
}

var errCommentNotFound ErrCommentNotFound

type ErrCommentNotFound struct{}

func (e ErrCommentNotFound) Unwrap() error { return ErrNotFound }
func (e ErrCommentNotFound) Error() string { return "comment not found" }

type ErrCommentNotFoundByKey struct{ Key CommentKey }

func (e ErrCommentNotFoundByKey) Unwrap() error { return errCommentNotFound }
func (e ErrCommentNotFoundByKey) Error() string {
	return fmt.Sprintf("comment not found by key=%s", e.Key)
}
