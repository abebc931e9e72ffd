package phase

import (
	"go.uber.org/zap"

	"github.com/release-engineering/pulp-push/internal/pipeline"
	"github.com/release-engineering/pulp-push/internal/push/item"
	"github.com/release-engineering/pulp-push/pkg/logger"
)

// endPush terminates a push which stops before the publish phase, such
// as a pre-push or a push with publish skipped. It fully drains its
// input, guaranteeing all prior phases have completed, and reports how
// much content is in Pulp versus still pending so a later complete push
// can be sized up.
type endPush struct {
	*Phase
}

func EndPush(pctx *Context, log logger.Logger, in *Queue, collect func([]item.Item) error) *Phase {
	return newEndPush(pctx, log, in, collect, "End push")
}

func EndPrePush(pctx *Context, log logger.Logger, in *Queue, collect func([]item.Item) error) *Phase {
	return newEndPush(pctx, log, in, collect, "End pre-push")
}

func newEndPush(pctx *Context, log logger.Logger, in *Queue, collect func([]item.Item) error, name string) *Phase {
	e := &endPush{}
	e.Phase = pipeline.NewPhase(pctx, log, name, Config{
		In:      in,
		Sink:    true,
		Collect: collect,
	}, e.run)
	return e.Phase
}

func (e *endPush) run() error {
	present := 0
	pending := 0

	err := e.EachItem(func(it item.Item) error {
		if it.State().Uploaded() {
			present++
		} else {
			pending++
		}
		return e.UpdatePushItems([]item.Item{it})
	})
	if err != nil {
		return err
	}

	e.Logger().Info("Ending push",
		zap.Int("items-in-pulp", present),
		zap.Int("items-pending", pending))
	return nil
}
