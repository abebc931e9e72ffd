package phase

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/release-engineering/pulp-push/internal/concurrency"
	"github.com/release-engineering/pulp-push/internal/pipeline"
	"github.com/release-engineering/pulp-push/internal/push/item"
	"github.com/release-engineering/pulp-push/pkg/logger"
	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// publish is the final phase of a full push and the pipeline's only
// synchronization barrier: no repo becomes visible to end users before
// every item is in its desired state in every desired repo. There may
// be dependencies between the bits of content handled, so publishing
// everything at once maximizes the chance that all of it lands
// together.
type publish struct {
	*Phase
	client pulp.Client
	opts   pulp.PublishOptions
}

func Publish(pctx *Context, log logger.Logger, in *Queue, client pulp.Client, opts pulp.PublishOptions, collect func([]item.Item) error) *Phase {
	p := &publish{client: client, opts: opts}
	p.Phase = pipeline.NewPhase(pctx, log, "Publish", Config{
		In:            in,
		Sink:          true,
		NotifyStartup: true,
		Collect:       collect,
	}, p.run)
	return p.Phase
}

func (p *publish) run() error {
	repoIDs := map[string]struct{}{}
	var allItems []item.Item

	// Units supporting the cdn_published flag which don't yet have it
	// set; keyed by item identity to avoid redundant updates.
	setPublished := map[string]pulp.Unit{}

	err := p.EachItem(func(it item.Item) error {
		for _, r := range it.PublishRepos() {
			repoIDs[r] = struct{}{}
		}
		if flag, ok := pulp.CdnPublishedFlag(it.Unit()); ok && flag == nil {
			setPublished[it.MatchKey()] = it.Unit()
		}
		allItems = append(allItems, it)
		return nil
	})
	if err != nil {
		return err
	}

	// From a user's point of view, this is where publishing starts.
	p.NotifyStarted()

	ids := make([]string, 0, len(repoIDs))
	for r := range repoIDs {
		ids = append(ids, r)
	}
	sort.Strings(ids)

	ctx := p.RunContext()
	if len(ids) == 0 {
		p.Logger().Info("Nothing to publish")
		return p.UpdatePushItems(allItems)
	}
	repos, err := p.client.SearchRepository(ctx, pulp.WithID(ids...))
	if err != nil {
		return fmt.Errorf("searching repos for publish: %w", err)
	}
	if len(repos) != len(ids) {
		return fmt.Errorf("found %d of %d repos for publish", len(repos), len(ids))
	}

	p.Logger().Info("Publishing repos", zap.Int("count", len(repos)))

	pool := concurrency.NewPool(ctx, len(repos))
	for _, repo := range repos {
		repo := repo
		pool.Go(func(ctx context.Context) error {
			if _, err := repo.Publish(ctx, p.opts); err != nil {
				return fmt.Errorf("publishing %s: %w", repo.ID(), err)
			}
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		return err
	}

	for _, unit := range setPublished {
		if err := p.client.UpdateContent(ctx, pulp.WithCdnPublished(unit, true)); err != nil {
			return fmt.Errorf("setting cdn_published: %w", err)
		}
	}

	// Everything is visible now; all items are fully pushed. Module
	// metadata is recorded first so that item-state consumers never see
	// an RPM pushed ahead of the modules describing it.
	pushed := make([]item.Item, 0, len(allItems))
	for _, it := range allItems {
		if it.PushItem().Kind == item.KindModuleMd {
			pushed = append(pushed, item.WithState(it, item.Pushed))
		}
	}
	for _, it := range allItems {
		if it.PushItem().Kind != item.KindModuleMd {
			pushed = append(pushed, item.WithState(it, item.Pushed))
		}
	}
	return p.UpdatePushItems(pushed)
}
