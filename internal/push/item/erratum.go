package item

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// Erratum handles advisories. Errata are mutable, so an existing unit
// which differs from the desired one is reuploaded (with a version
// bump) rather than updated field by field.
type Erratum struct {
	base
}

func (e Erratum) UnitType() pulp.UnitType { return pulp.ErratumUnitType }

func (e Erratum) Criteria() *pulp.Criteria {
	return pulp.WithField("id", e.item.Name)
}

func (e Erratum) MatchKey() string { return e.item.Name }

func (e Erratum) UnitKey(u pulp.Unit) string {
	if u, ok := u.(*pulp.ErratumUnit); ok {
		return u.ID
	}
	return ""
}

func (e Erratum) WithUnit(u pulp.Unit) Item {
	e.base = e.base.withUnit(u, nil)

	// Mutable fields on errata are handled by reupload, not update, so
	// drift escalates to NEEDS_REUPLOAD rather than NEEDS_UPDATE.
	if u, ok := u.(*pulp.ErratumUnit); ok && (e.state == StatePartial || e.state == StateInRepos) {
		desired := e.unitForUpload(u)
		desired.Version = ""
		current := *u
		current.Version = ""
		if !unitsEquivalent(desired, &current) {
			e.state = StateNeedsReupload
		}
	}
	return e
}

func (e Erratum) withPushItem(pi PushItem) Item {
	e.item = pi
	return e
}

// PublishRepos is extended for errata: client tools complain if the
// same advisory is found in multiple repos with differing fields, so
// every repo already containing the erratum must be republished along
// with the destinations. The all-rpm-content family is excluded since
// those repos are never published.
func (e Erratum) PublishRepos() []string {
	set := map[string]struct{}{}
	for _, r := range e.item.Dest {
		set[r] = struct{}{}
	}
	for _, r := range e.InPulpRepos() {
		if !strings.HasPrefix(r, RPMUploadRepo) {
			set[r] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// unitForUpload converts the push item into the erratum unit to be
// uploaded, bumping the version past the old unit's when one exists.
func (e Erratum) unitForUpload(old pulp.Unit) *pulp.ErratumUnit {
	version := e.item.Version
	if version == "" {
		version = "1"
	}
	if old, ok := old.(*pulp.ErratumUnit); ok && old != nil {
		// Pulp discards changes unless the new version is higher.
		if n, err := strconv.Atoi(old.Version); err == nil {
			version = strconv.Itoa(n + 1)
		}
	}
	return &pulp.ErratumUnit{
		ID:          e.item.Name,
		Version:     version,
		Summary:     e.item.Summary,
		Description: e.item.Description,
	}
}

func (e Erratum) EnsureUploaded(ctx context.Context, uctx *UploadContext) (Item, error) {
	repo, err := destRepo(ctx, uctx.Client, e)
	if err != nil {
		return nil, err
	}
	if _, err := repo.UploadErratum(ctx, e.unitForUpload(e.unit)); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", e.item.Name, err)
	}
	return confirmUploaded(ctx, uctx.Client, e)
}
