package phase

import (
	"context"

	"go.uber.org/zap"

	"github.com/release-engineering/pulp-push/internal/pipeline"
	"github.com/release-engineering/pulp-push/internal/push/item"
	"github.com/release-engineering/pulp-push/pkg/logger"
	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// upload ensures the content of each item is present in Pulp, in at
// least one repo. During pre-push, kinds which don't support it pass
// through untouched.
type upload struct {
	*Phase
	client  pulp.Client
	prePush bool

	// one shared upload context per kind, created lazily
	uctx map[item.Kind]*item.UploadContext
}

func Upload(pctx *Context, log logger.Logger, in *Queue, client pulp.Client, prePush bool, collect func([]item.Item) error) *Phase {
	u := &upload{
		client:  client,
		prePush: prePush,
		uctx:    map[item.Kind]*item.UploadContext{},
	}
	u.Phase = pipeline.NewPhase(pctx, log, "Upload items to Pulp", Config{
		In:               in,
		UpdatesPushItems: true,
		Collect:          collect,
	}, u.run)
	return u.Phase
}

func (u *upload) run() error {
	present := 0
	uploading := 0
	skipped := 0

	err := u.EachItem(func(it item.Item) error {
		switch {
		case it.State().Uploaded():
			present++
			return u.Write(item.WithState(it, item.Exists))
		case u.prePush && !it.CanPrePush():
			skipped++
			return u.Write(it)
		default:
			uctx, err := u.uploadContext(it.PushItem().Kind)
			if err != nil {
				return err
			}
			uploading++
			return u.WriteFuture(func(ctx context.Context) (item.Item, error) {
				out, err := it.EnsureUploaded(ctx, uctx)
				if err != nil {
					return nil, err
				}
				return item.WithState(out, item.Exists), nil
			})
		}
	})
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Int("items-present", present),
		zap.Int("items-uploading", uploading),
	}
	if u.prePush {
		fields = append(fields, zap.Int("items-prepush-skipped", skipped))
	}
	u.Logger().Info("Upload items", fields...)
	return nil
}

func (u *upload) uploadContext(kind item.Kind) (*item.UploadContext, error) {
	if uctx, ok := u.uctx[kind]; ok {
		return uctx, nil
	}
	uctx, err := item.NewUploadContext(u.RunContext(), u.client, kind)
	if err != nil {
		return nil, err
	}
	u.uctx[kind] = uctx
	return uctx, nil
}
