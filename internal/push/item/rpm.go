package item

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// RPM handles RPM content. RPMs always enter Pulp via the staging repo
// and support pre-push.
type RPM struct {
	base
}

func (r RPM) UnitType() pulp.UnitType { return pulp.RPMUnitType }
func (r RPM) CanPrePush() bool        { return true }

func (r RPM) Criteria() *pulp.Criteria {
	return pulp.WithField("sha256sum", r.item.SHA256Sum)
}

func (r RPM) MatchKey() string { return r.item.SHA256Sum }

func (r RPM) UnitKey(u pulp.Unit) string {
	if u, ok := u.(*pulp.RPMUnit); ok {
		return u.SHA256Sum
	}
	return ""
}

func (r RPM) WithUnit(u pulp.Unit) Item {
	r.base = r.base.withUnit(u, nil)
	return r
}

func (r RPM) withPushItem(pi PushItem) Item {
	r.item = pi
	return r
}

// CdnPath returns the /content/origin path under which this RPM is
// exposed.
func (r RPM) CdnPath() (string, error) {
	n, v, rel, err := splitNVR(r.item.Name)
	if err != nil {
		return "", err
	}
	key := strings.ToLower(r.item.SigningKey)
	if key == "" {
		key = "none"
	}
	return path.Join("/content/origin/rpms", n, v, rel, key, r.item.Name), nil
}

func (r RPM) EnsureUploaded(ctx context.Context, uctx *UploadContext) (Item, error) {
	cdnPath, err := r.CdnPath()
	if err != nil {
		return nil, err
	}
	opts := pulp.UploadRPMOptions{CdnPath: cdnPath, SigningKey: r.item.SigningKey}
	if _, err := uctx.RPMRepo.UploadRPM(ctx, r.item.Src, opts); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", r.item.Name, err)
	}
	return confirmUploaded(ctx, uctx.Client, r)
}

// splitNVR derives (name, version, release) from an RPM filename of the
// form name-version-release.arch.rpm.
func splitNVR(filename string) (n, v, r string, err error) {
	malformed := func() (string, string, string, error) {
		return "", "", "", fmt.Errorf("invalid RPM filename: %s", filename)
	}

	base, ok := strings.CutSuffix(filename, ".rpm")
	if !ok {
		return malformed()
	}
	archAt := strings.LastIndex(base, ".")
	if archAt <= 0 {
		return malformed()
	}
	nvr := base[:archAt]

	relAt := strings.LastIndex(nvr, "-")
	if relAt <= 0 {
		return malformed()
	}
	verAt := strings.LastIndex(nvr[:relAt], "-")
	if verAt <= 0 {
		return malformed()
	}
	return nvr[:verAt], nvr[verAt+1 : relAt], nvr[relAt+1:], nil
}
