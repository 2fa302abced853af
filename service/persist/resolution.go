package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ResolutionStatus is the aggregate outcome of resolving every reference in a comment
type ResolutionStatus string

const (
	ResolutionStatusSuccess ResolutionStatus = "success"
	ResolutionStatusPartial ResolutionStatus = "partial"
	ResolutionStatusFailed  ResolutionStatus = "failed"
)

// Rank orders statuses from worst to best: failed < partial < success
func (s ResolutionStatus) Rank() int {
	switch s {
	case ResolutionStatusSuccess:
		return 2
	case ResolutionStatusPartial:
		return 1
	default:
		return 0
	}
}

func (s ResolutionStatus) IsValid() bool {
	switch s {
	case ResolutionStatusSuccess, ResolutionStatusPartial, ResolutionStatusFailed:
		return true
	}
	return false
}

// ResolutionCacheEntry is the last persisted resolution of one comment revision.
// References holds the JSON encoded reference list.
type ResolutionCacheEntry struct {
	CommentID       string           `json:"commentId"`
	CommentRevision int              `json:"commentRevision"`
	References      json.RawMessage  `json:"references"`
	Status          ResolutionStatus `json:"status"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// ResolutionCacheRepository stores at most one entry per (commentId, commentRevision)
type ResolutionCacheRepository interface {
	// Get returns ErrResolutionNotFound when there is no entry for the key
	Get(ctx context.Context, commentID string, revision int) (ResolutionCacheEntry, error)
	// Upsert inserts the entry or overwrites the existing one in place
	Upsert(ctx context.Context, entry ResolutionCacheEntry) error
}

type ErrResolutionNotFound struct {
	CommentID string
	Revision  int
}

func (e ErrResolutionNotFound) Unwrap() error { return ErrNotFound }
func (e ErrResolutionNotFound) Error() string {
	return fmt.Sprintf("no resolution cached for comment=%s revision=%d", e.CommentID, e.Revision)
}
