package phase

import (
	"context"

	"go.uber.org/zap"

	"github.com/release-engineering/pulp-push/internal/pipeline"
	"github.com/release-engineering/pulp-push/internal/push/item"
	"github.com/release-engineering/pulp-push/pkg/logger"
	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// update brings mutable unit fields to their desired values for items
// in the NEEDS_UPDATE state.
type update struct {
	*Phase
	client pulp.Client
}

func Update(pctx *Context, log logger.Logger, in *Queue, client pulp.Client) *Phase {
	u := &update{client: client}
	u.Phase = pipeline.NewPhase(pctx, log, "Update items in Pulp", Config{In: in}, u.run)
	return u.Phase
}

func (u *update) run() error {
	upToDate := 0
	updating := 0

	err := u.EachItem(func(it item.Item) error {
		if it.State() != item.StateNeedsUpdate {
			upToDate++
			return u.Write(it)
		}
		updating++
		return u.WriteFuture(func(ctx context.Context) (item.Item, error) {
			return item.EnsureUptodate(ctx, u.client, it)
		})
	})
	if err != nil {
		return err
	}

	u.Logger().Info("Update items",
		zap.Int("items-uptodate", upToDate),
		zap.Int("items-updating", updating))
	return nil
}
