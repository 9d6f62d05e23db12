package keeper

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// RunOnSchedule runs fn on the given cron spec (including @every descriptors)
// until ctx is canceled. Overlapping runs are skipped rather than queued: a
// slow cycle must not pile up behind itself.
func RunOnSchedule(ctx context.Context, spec string, fn func(context.Context)) error {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DefaultLogger),
	))
	if _, err := c.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	log.Printf("[info] keeper: schedule %q active", spec)
	c.Start()
	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	return nil
}
