package phase

import (
	"context"

	"github.com/release-engineering/pulp-push/internal/pipeline"
	"github.com/release-engineering/pulp-push/internal/push/item"
	"github.com/release-engineering/pulp-push/pkg/logger"
	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// queryPulp enriches items of unknown Pulp state by searching Pulp,
// one search per unit type per input batch.
type queryPulp struct {
	*Phase
	client pulp.Client
}

func QueryPulp(pctx *Context, log logger.Logger, in *Queue, client pulp.Client) *Phase {
	q := &queryPulp{client: client}
	q.Phase = pipeline.NewPhase(pctx, log, "Query items in Pulp", Config{In: in}, q.run)
	return q.Phase
}

func (q *queryPulp) run() error {
	return q.EachBatch(0, func(batch []item.Item) error {
		for _, items := range item.ByType(batch) {
			items := items
			err := q.WriteFutureBatch(func(ctx context.Context) ([]item.Item, error) {
				return item.WithPulpState(ctx, q.client, items)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
