package phase

import (
	"strings"

	"github.com/release-engineering/pulp-push/internal/pipeline"
	"github.com/release-engineering/pulp-push/internal/push/collect"
	"github.com/release-engineering/pulp-push/internal/push/item"
	"github.com/release-engineering/pulp-push/pkg/logger"
)

// collectPhase forwards item states to the collector. It is fed
// out-of-band by every other phase rather than sitting in the main
// chain, so that state transitions are recorded as they occur.
type collectPhase struct {
	*Phase
	collector collect.Collector
}

func Collect(pctx *Context, log logger.Logger, in *Queue, collector collect.Collector) *Phase {
	c := &collectPhase{collector: collector}
	c.Phase = pipeline.NewPhase(pctx, log, "Collect push item metadata", Config{
		In:   in,
		Sink: true,
	}, c.run)
	return c.Phase
}

func (c *collectPhase) run() error {
	err := c.EachBatch(0, func(batch []item.Item) error {
		items := make([]item.PushItem, 0, len(batch))
		for _, it := range dedupe(batch) {
			items = append(items, it.PushItem())
		}
		return c.collector.UpdatePushItems(items)
	})
	if err != nil {
		return err
	}
	return c.collector.Finish()
}

// dedupe drops same-item multiple-state occurrences within a batch,
// keeping the latest state. Depending how fast the push runs, a batch
// may hold the same item more than once with different states (e.g.
// PENDING and then EXISTS); only the latest is worth recording, and
// some collector backends crash on such duplicates.
func dedupe(batch []item.Item) []item.Item {
	var out []item.Item
	at := map[string]int{}
	for _, it := range batch {
		key := collectKey(it.PushItem())
		if i, ok := at[key]; ok {
			out[i] = it
			continue
		}
		at[key] = len(out)
		out = append(out, it)
	}
	return out
}

func collectKey(pi item.PushItem) string {
	return pi.Name + "\x00" + strings.Join(pi.Dest, ",") + "\x00" + pi.Src
}
