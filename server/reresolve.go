package server

import (
	"context"
	"sync"

	"github.com/gammazero/workerpool"

	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/service/persist"
	"github.com/mikeydub/comment-references/service/references"
)

const maxQueuedComments = 100

// ReresolveSummary counts comments by the status network-first reconciliation settled on
type ReresolveSummary map[persist.ResolutionStatus]int

// Reresolve runs network-first reconciliation over comments with at most workers in flight, upgrading
// any cached result that a fresh pass improves on
func Reresolve(ctx context.Context, svc *references.Service, comments []*persist.Comment, workers int) ReresolveSummary {
	if workers < 1 {
		workers = 1
	}

	wp := workerpool.New(workers)

	var mu sync.Mutex
	summary := ReresolveSummary{}

	for _, c := range comments {
		if c == nil || c.Deleted {
			continue
		}

		c := c
		toQueue := func() {
			if ctx.Err() != nil {
				return
			}
			res := svc.ResolveFromNetworkFirst(ctx, references.Request{
				CommentID: c.ID,
				Revision:  c.Revision,
				Content:   c.Content,
				ChainID:   c.ChainID,
			})
			mu.Lock()
			summary[res.Status]++
			mu.Unlock()
		}

		if wp.WaitingQueueSize() > maxQueuedComments {
			wp.SubmitWait(toQueue)
		} else {
			wp.Submit(toQueue)
		}
	}

	wp.StopWait()

	logger.For(ctx).WithField("summary", summary).Infof("re-resolved %d comments", len(comments))

	return summary
}
