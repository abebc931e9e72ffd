package item

import (
	"context"
	"fmt"
	"path"

	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// File handles generic file content ("iso" units in Pulp terms). Files
// are identified by (path, checksum) and carry a few fields which can
// be updated in place.
type File struct {
	base
}

func (f File) UnitType() pulp.UnitType { return pulp.FileUnitType }

func (f File) Criteria() *pulp.Criteria {
	return pulp.And(
		pulp.WithField("sha256sum", f.item.SHA256Sum),
		pulp.WithField("path", f.item.Name),
	)
}

func (f File) MatchKey() string {
	return f.item.Name + "\x00" + f.item.SHA256Sum
}

func (f File) UnitKey(u pulp.Unit) string {
	if u, ok := u.(*pulp.FileUnit); ok {
		return u.Path + "\x00" + u.SHA256Sum
	}
	return ""
}

func (f File) WithUnit(u pulp.Unit) Item {
	f.base = f.base.withUnit(u, f.unitForUpdate)
	return f
}

func (f File) withPushItem(pi PushItem) Item {
	f.item = pi
	return f
}

func (f File) UnitForUpdate() pulp.Unit {
	return f.unitForUpdate(f.unit)
}

// unitForUpdate evolves the current unit with the desired values of the
// mutable fields. cdn_path is deliberately not included: changing it
// after publish would not be safe, so it is only set on upload.
func (f File) unitForUpdate(current pulp.Unit) pulp.Unit {
	u, ok := current.(*pulp.FileUnit)
	if !ok {
		return nil
	}
	out := *u
	out.Description = f.item.Description
	out.Version = f.item.Version
	out.DisplayOrder = f.item.DisplayOrder
	return &out
}

// CdnPath returns the /content/origin path under which this file is
// exposed.
func (f File) CdnPath() string {
	sum := f.item.SHA256Sum
	return path.Join("/content/origin/files/sha256", sum[:2], sum, path.Base(f.item.Name))
}

func (f File) EnsureUploaded(ctx context.Context, uctx *UploadContext) (Item, error) {
	repo, err := destRepo(ctx, uctx.Client, f)
	if err != nil {
		return nil, err
	}

	opts := pulp.UploadFileOptions{
		RelativeURL:  f.item.Name,
		Description:  f.item.Description,
		Version:      f.item.Version,
		DisplayOrder: f.item.DisplayOrder,
		CdnPath:      f.CdnPath(),
	}
	// If an existing unit was already published to the CDN, the flag is
	// carried over. This only happens in practice when the unit is an
	// orphan, as otherwise we wouldn't be uploading at all.
	if flag, ok := pulp.CdnPublishedFlag(f.unit); ok {
		opts.CdnPublished = flag
	}

	if _, err := repo.UploadFile(ctx, f.item.Src, opts); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", f.item.Name, err)
	}
	return confirmUploaded(ctx, uctx.Client, f)
}
