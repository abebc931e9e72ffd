package phase

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/release-engineering/pulp-push/internal/pipeline"
	"github.com/release-engineering/pulp-push/internal/push/item"
	"github.com/release-engineering/pulp-push/internal/push/source"
	"github.com/release-engineering/pulp-push/pkg/logger"
)

// loadPushItems discovers the content to be operated on by all later
// phases. It is always the first phase and the only one with no input
// queue.
type loadPushItems struct {
	*Phase
	src           source.Source
	prePush       bool
	allowUnsigned bool
}

// LoadPushItems builds the item discovery phase. Besides streaming
// items out, it records the total item count and the per-destination
// module counts on the run context once the source is exhausted.
func LoadPushItems(pctx *Context, log logger.Logger, src source.Source, prePush, allowUnsigned bool) *Phase {
	l := &loadPushItems{src: src, prePush: prePush, allowUnsigned: allowUnsigned}
	l.Phase = pipeline.NewPhase(pctx, log, "Load push items", Config{}, l.run)
	return l.Phase
}

func (l *loadPushItems) run() error {
	count := 0
	modulesPerDest := map[string]int{}

	err := l.src.Each(l.RunContext(), func(pi item.PushItem) error {
		// Destinations other than repo IDs (e.g. file paths) are for
		// other tools and not relevant to this push.
		pi.Dest = repoDests(pi.Dest)

		it, ok := item.ForPushItem(pi)
		if !ok {
			l.Logger().Info("Skipping unsupported kind",
				zap.String("name", pi.Name), zap.String("kind", string(pi.Kind)))
			return nil
		}

		if len(pi.Dest) == 0 && !(l.prePush && it.CanPrePush()) {
			l.Logger().Info("Skipping item with no destination repos",
				zap.String("name", pi.Name))
			return nil
		}

		if pi.Kind == item.KindRPM && pi.SigningKey == "" && !l.allowUnsigned {
			return fmt.Errorf("unsigned RPM is not allowed: %s", pi.Name)
		}

		count++
		if pi.Kind == item.KindModuleMd {
			for _, d := range pi.Dest {
				modulesPerDest[d]++
			}
		}
		return l.Write(it)
	})
	if err != nil {
		return err
	}

	l.Context().Items.SetKnown(count, modulesPerDest)
	l.Logger().Info("Loaded push items", zap.Int("count", count))
	return nil
}

func repoDests(dest []string) []string {
	var out []string
	for _, d := range dest {
		if d != "" && !strings.Contains(d, "/") {
			out = append(out, d)
		}
	}
	return out
}
