package phase

import (
	"context"
	"fmt"

	"github.com/release-engineering/pulp-push/internal/pipeline"
	"github.com/release-engineering/pulp-push/internal/push/item"
	"github.com/release-engineering/pulp-push/pkg/logger"
	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// associate copies each item's unit into every destination repo still
// missing it.
//
// Modulemds must land in a repo before the RPMs they describe, to avoid
// ever exposing an RPM without its module metadata. RPM items are
// therefore held back per destination until every known module item for
// that destination has passed through this phase; modules entering the
// phase are already in their repos, having been uploaded directly to
// each. While the total item count is still unknown, RPM items are
// always held back.
type associate struct {
	*Phase
	client pulp.Client
	opts   pulp.CopyOptions

	// modules seen so far, per destination repo
	modulesSeen map[string]int
}

func Associate(pctx *Context, log logger.Logger, in *Queue, client pulp.Client, opts pulp.CopyOptions) *Phase {
	a := &associate{
		client:      client,
		opts:        opts,
		modulesSeen: map[string]int{},
	}
	a.Phase = pipeline.NewPhase(pctx, log, "Associate items in Pulp", Config{In: in}, a.run)
	return a.Phase
}

func (a *associate) run() error {
	var held []item.Item

	err := a.EachBatch(0, func(batch []item.Item) error {
		for _, it := range batch {
			if it.PushItem().Kind == item.KindModuleMd {
				for _, d := range it.PushItem().Dest {
					a.modulesSeen[d]++
				}
			}
		}

		ready, notReady := a.split(append(held, batch...))
		held = notReady
		return a.flushReady(ready)
	})
	if err != nil {
		return err
	}

	// Input exhausted: all modules have been seen, so anything held
	// back is eligible now.
	ready, notReady := a.split(held)
	if len(notReady) > 0 {
		return fmt.Errorf("%d RPM item(s) still awaiting modules at end of input",
			len(notReady))
	}
	return a.flushReady(ready)
}

func (a *associate) split(items []item.Item) (ready, notReady []item.Item) {
	for _, it := range items {
		if a.canProceed(it) {
			ready = append(ready, it)
		} else {
			notReady = append(notReady, it)
		}
	}
	return ready, notReady
}

func (a *associate) canProceed(it item.Item) bool {
	if it.PushItem().Kind != item.KindRPM {
		return true
	}
	info := &a.Context().Items
	if !info.Known() {
		return false
	}
	for _, d := range it.PushItem().Dest {
		if a.modulesSeen[d] < info.DepCount(d) {
			return false
		}
	}
	return true
}

func (a *associate) flushReady(items []item.Item) error {
	size := a.BatchSize()
	for len(items) > 0 {
		n := min(size, len(items))
		chunk := items[:n]
		items = items[n:]

		for _, group := range item.ByType(chunk) {
			group := group
			err := a.WriteFutureBatch(func(ctx context.Context) ([]item.Item, error) {
				return item.Associated(ctx, a.client, a.Logger(), group, a.opts)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
