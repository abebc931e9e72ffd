// Package push wires the pipeline phases together and runs a push from
// start to finish.
package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/release-engineering/pulp-push/internal/pipeline"
	"github.com/release-engineering/pulp-push/internal/push/collect"
	"github.com/release-engineering/pulp-push/internal/push/item"
	"github.com/release-engineering/pulp-push/internal/push/phase"
	"github.com/release-engineering/pulp-push/internal/push/source"
	"github.com/release-engineering/pulp-push/pkg/logger"
	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// progressInterval is how often queue counts are reported while phases
// run.
const progressInterval = 30 * time.Second

// FatalError reports the first fatal error of a push and the phase
// which hit it.
type FatalError struct {
	Phase string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("push failed in phase %q: %v", e.Phase, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Options configure one push run.
type Options struct {
	Source    source.Source
	Client    pulp.Client
	Collector collect.Collector

	// PrePush uploads content without making it visible, stopping
	// before association and publish.
	PrePush bool

	// SkipPublish stops after association.
	SkipPublish bool

	// AllowUnsigned permits pushing RPMs with no signature.
	AllowUnsigned bool

	Publish  pulp.PublishOptions
	Pipeline pipeline.Config
}

// Run executes a push to completion. It returns nil on success and a
// *FatalError when any phase fails.
func Run(ctx context.Context, log logger.Logger, opts Options) error {
	pctx := pipeline.NewContext[item.Item](ctx, opts.Pipeline)
	defer pctx.Shutdown()

	collectQueue := pctx.NewQueue("collect")
	collectFn := func(items []item.Item) error {
		return collectQueue.Put(items)
	}

	load := phase.LoadPushItems(pctx, log, opts.Source, opts.PrePush, opts.AllowUnsigned)
	sums := phase.LoadChecksums(pctx, log, load.Out(), collectFn)
	query := phase.QueryPulp(pctx, log, sums.Out(), opts.Client)
	upload := phase.Upload(pctx, log, query.Out(), opts.Client, opts.PrePush, collectFn)

	phases := []*phase.Phase{load, sums, query, upload}

	switch {
	case opts.PrePush:
		phases = append(phases, phase.EndPrePush(pctx, log, upload.Out(), collectFn))
	default:
		update := phase.Update(pctx, log, upload.Out(), opts.Client)
		assoc := phase.Associate(pctx, log, update.Out(), opts.Client, pulp.CopyOptions{
			RequireSignedRPMs: !opts.AllowUnsigned,
		})
		phases = append(phases, update, assoc)
		if opts.SkipPublish {
			phases = append(phases, phase.EndPush(pctx, log, assoc.Out(), collectFn))
		} else {
			phases = append(phases, phase.Publish(pctx, log, assoc.Out(), opts.Client, opts.Publish, collectFn))
		}
	}

	collectPhase := phase.Collect(pctx, log, collectQueue, opts.Collector)

	for _, p := range phases {
		p.Start()
	}
	collectPhase.Start()

	stopProgress := reportProgress(pctx, log)

	joined := true
	for _, p := range phases {
		joined = p.Join() && joined
	}

	// Only once every producing phase is done can no further item
	// updates arrive.
	collectQueue.Close()
	joined = collectPhase.Join() && joined

	stopProgress()

	if failedPhase, err := pctx.Error(); err != nil {
		return &FatalError{Phase: failedPhase, Err: err}
	}
	// Cancellation of the caller's context unwinds every phase without
	// any of them recording a fatal error; that must still not count as
	// a completed push.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("push interrupted: %w", err)
	}
	if !joined {
		return errors.New("push deadlocked: some phases did not stop in time")
	}

	log.Info("Push completed successfully")
	return nil
}

// reportProgress periodically logs item traffic through every queue.
func reportProgress(pctx *phase.Context, log logger.Logger) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if pctx.Items.Known() {
					log.Info("Progress", zap.Int("items-total", pctx.Items.Count()))
				}
				for _, qc := range pctx.QueueCounts() {
					log.Info("Progress",
						zap.String("queue", qc.Name),
						zap.Int64("put", qc.Put),
						zap.Int64("got", qc.Get))
				}
			}
		}
	}()
	return func() { close(done) }
}
