package retry

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/shurcooL/graphql"
)

var ErrOutOfRetries = errors.New("tried too many times")

// Retry describes a bounded exponential backoff. The i-th retry sleeps for Base*2^i, capped at Cap.
type Retry struct {
	Base   time.Duration // Sleep before the first retry
	Cap    time.Duration // Max amount of time to sleep per iteration
	Tries  int           // Total number of attempts
	Jitter bool          // Sleep a random duration up to the computed backoff
}

// Backoff returns how long to wait after the i-th failed attempt.
func (r Retry) Backoff(i int) time.Duration {
	d := r.Base
	for j := 0; j < i && (r.Cap <= 0 || d < r.Cap); j++ {
		d *= 2
	}
	if r.Cap > 0 && d > r.Cap {
		d = r.Cap
	}
	if r.Jitter && d > 0 {
		d = time.Duration(rand.Int63n(int64(d)))
	}
	return d
}

// Sleep waits for the i-th backoff, returning early with the context's error if it is cancelled.
func (r Retry) Sleep(ctx context.Context, i int) error {
	t := time.NewTimer(r.Backoff(i))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryRequestWithRetry retries requests that were rate limited.
func RetryRequestWithRetry(c *http.Client, req *http.Request, r Retry) (*http.Response, error) {
	for i := 0; i < r.Tries; i++ {
		resp, err := c.Do(req)
		if err != nil {
			return resp, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()

		if i == r.Tries-1 {
			break
		}
		if err := r.Sleep(req.Context(), i); err != nil {
			return nil, err
		}
	}
	return nil, ErrOutOfRetries
}

func RetryQueryWithRetry(ctx context.Context, c *graphql.Client, query any, vars map[string]any, r Retry) error {
	return RetryFunc(ctx, func(ctx context.Context) error {
		return c.Query(ctx, query, vars)
	}, func(err error) bool {
		return strings.Contains(err.Error(), "429")
	}, r)
}

// RetryFunc calls f until it succeeds, shouldRetry returns false, or the tries are exhausted. The last
// error from f is wrapped by ErrOutOfRetries when tries run out.
func RetryFunc(ctx context.Context, f func(ctx context.Context) error, shouldRetry func(error) bool, r Retry) error {
	var err error
	for i := 0; i < r.Tries; i++ {
		err = f(ctx)
		if err == nil {
			return nil
		}

		if !shouldRetry(err) {
			return err
		}

		if i == r.Tries-1 {
			break
		}

		if sleepErr := r.Sleep(ctx, i); sleepErr != nil {
			return err
		}
	}
	return errOutOfRetries{err: err}
}

type errOutOfRetries struct {
	err error
}

func (e errOutOfRetries) Error() string {
	return ErrOutOfRetries.Error() + ": " + e.err.Error()
}

func (e errOutOfRetries) Is(target error) bool { return target == ErrOutOfRetries }

func (e errOutOfRetries) Unwrap() error { return e.err }
