package identify

import (
	"context"

	"github.com/grailbio/base/log"
)

// Committer makes buffered work durable.
type Committer interface {
	Commit(ctx context.Context) error
}

// PeriodicCommit calls fn for i in [0, n) and commits after every interval
// processed items, and once more when the loop ends. An interval <= 0 commits
// only at the end. The first error stops the loop.
func PeriodicCommit(ctx context.Context, c Committer, n, interval int, fn func(i int) error) error {
	for i := 0; i < n; i++ {
		if i > 0 && interval > 0 && i%interval == 0 {
			log.Debug.Printf("committing after %d of %d", i, n)
			if err := c.Commit(ctx); err != nil {
				return err
			}
		}
		if err := fn(i); err != nil {
			return err
		}
	}
	return c.Commit(ctx)
}
