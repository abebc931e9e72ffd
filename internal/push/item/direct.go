package item

import (
	"context"
	"fmt"
	"sort"

	"github.com/release-engineering/pulp-push/internal/concurrency"
	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// Direct handles content uploaded straight into every destination repo,
// with no queryable unit of its own: modulemd streams, comps.xml and
// productid certificates. Because these cannot be located in Pulp
// afterwards, the only record of their presence is the set of repos
// uploaded to during this push.
type Direct struct {
	base

	uploadedRepos []string
}

func (d Direct) WithUnit(pulp.Unit) Item { return d }

func (d Direct) withPushItem(pi PushItem) Item {
	d.item = pi
	return d
}

func (d Direct) InPulpRepos() []string {
	out := append([]string(nil), d.uploadedRepos...)
	sort.Strings(out)
	return out
}

func (d Direct) EnsureUploaded(ctx context.Context, uctx *UploadContext) (Item, error) {
	p := concurrency.NewPool(ctx, len(d.item.Dest))
	for _, repoID := range d.item.Dest {
		repoID := repoID
		p.Go(func(ctx context.Context) error {
			repo, err := uctx.Client.GetRepository(ctx, repoID)
			if err != nil {
				return fmt.Errorf("fetching repo %s: %w", repoID, err)
			}
			if err := d.uploadTo(ctx, repo); err != nil {
				return fmt.Errorf("uploading %s to %s: %w", d.item.Name, repoID, err)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	d.uploadedRepos = append([]string(nil), d.item.Dest...)
	d.state = StateInRepos
	return d, nil
}

func (d Direct) uploadTo(ctx context.Context, repo pulp.Repository) error {
	var err error
	switch d.item.Kind {
	case KindModuleMd:
		_, err = repo.UploadModules(ctx, d.item.Src)
	case KindCompsXml:
		_, err = repo.UploadComps(ctx, d.item.Src)
	case KindProductID:
		_, err = repo.UploadMetadata(ctx, d.item.Src, "productid")
	default:
		err = fmt.Errorf("kind %s does not support direct upload", d.item.Kind)
	}
	return err
}
