package item

import (
	"context"
	"fmt"

	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// RPMUploadRepo is the staging repository through which all RPM content
// enters Pulp before being associated into destination repos.
const RPMUploadRepo = "all-rpm-content"

// UploadContext carries resources shared by the uploads of one kind.
type UploadContext struct {
	Client pulp.Client

	// RPMRepo is the staging repo handle, fetched once per push for
	// KindRPM and nil for every other kind.
	RPMRepo pulp.Repository
}

// NewUploadContext prepares the shared upload state for a kind.
func NewUploadContext(ctx context.Context, client pulp.Client, kind Kind) (*UploadContext, error) {
	uctx := &UploadContext{Client: client}
	if kind == KindRPM {
		repo, err := client.GetRepository(ctx, RPMUploadRepo)
		if err != nil {
			return nil, fmt.Errorf("fetching upload repo %s: %w", RPMUploadRepo, err)
		}
		uctx.RPMRepo = repo
	}
	return uctx, nil
}

// destRepo resolves the repository into which a non-RPM item uploads:
// its first destination.
func destRepo(ctx context.Context, client pulp.Client, it Item) (pulp.Repository, error) {
	dest := it.PushItem().Dest
	if len(dest) == 0 {
		return nil, fmt.Errorf("item %s has no destination repos", it.PushItem().Name)
	}
	repo, err := client.GetRepository(ctx, dest[0])
	if err != nil {
		return nil, fmt.Errorf("fetching repo %s: %w", dest[0], err)
	}
	return repo, nil
}

// confirmUploaded re-queries an item after upload and fails if the
// content still cannot be found.
func confirmUploaded(ctx context.Context, client pulp.Client, it Item) (Item, error) {
	out, err := Refreshed(ctx, client, it)
	if err != nil {
		return nil, err
	}
	if out.Unit() == nil {
		return nil, &ConfirmationError{
			Name:   it.PushItem().Name,
			Reason: "not found in Pulp after upload",
		}
	}
	return out, nil
}
