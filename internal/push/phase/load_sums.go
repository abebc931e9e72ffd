package phase

import (
	"context"

	"github.com/release-engineering/pulp-push/internal/pipeline"
	"github.com/release-engineering/pulp-push/internal/push/item"
	"github.com/release-engineering/pulp-push/pkg/logger"
)

// loadChecksums guarantees checksums on every item. Items discovered
// without checksum info require reading their content, which can be
// very slow for large files on network storage, so those are computed
// as deferred results while cheap items pass through inline.
type loadChecksums struct {
	*Phase
}

func LoadChecksums(pctx *Context, log logger.Logger, in *Queue, collect func([]item.Item) error) *Phase {
	l := &loadChecksums{}
	l.Phase = pipeline.NewPhase(pctx, log, "Calculate checksums", Config{
		In:               in,
		UpdatesPushItems: true,
		Collect:          collect,
	}, l.run)
	return l.Phase
}

func (l *loadChecksums) run() error {
	return l.EachItem(func(it item.Item) error {
		if !it.PushItem().BlockingChecksums() {
			out, err := item.WithChecksums(it)
			if err != nil {
				return err
			}
			return l.Write(out)
		}
		return l.WriteFuture(func(context.Context) (item.Item, error) {
			return item.WithChecksums(it)
		})
	})
}
