package pulphttp

import (
	"fmt"

	"github.com/release-engineering/pulp-push/pkg/pulp"
)

func filters(crit *pulp.Criteria) map[string]any {
	return crit.Filters()
}

// unitDoc is the wire form of a content unit as returned by Pulp 2
// content searches and task results.
type unitDoc struct {
	TypeID string `json:"_content_type_id"`
	UnitID string `json:"_id"`

	// rpm fields
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Release   string            `json:"release"`
	Arch      string            `json:"arch"`
	Checksums map[string]string `json:"checksums"`

	// erratum fields
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	// iso fields
	Size int64 `json:"size"`

	RepositoryMemberships []string `json:"repository_memberships"`

	PulpUserMetadata struct {
		CdnPath      string `json:"cdn_path"`
		CdnPublished *bool  `json:"cdn_published"`
		SigningKey   string `json:"signing_key"`
		Description  string `json:"description"`
		Version      string `json:"version"`
		DisplayOrder int32  `json:"display_order"`
	} `json:"pulp_user_metadata"`
}

func (d *unitDoc) toUnit(t pulp.UnitType) (pulp.Unit, error) {
	switch t {
	case pulp.RPMUnitType:
		return &pulp.RPMUnit{
			UnitID:                d.UnitID,
			Name:                  d.Name,
			Version:               d.Version,
			Release:               d.Release,
			Arch:                  d.Arch,
			SHA256Sum:             d.Checksums["sha256"],
			SigningKey:            d.PulpUserMetadata.SigningKey,
			CdnPath:               d.PulpUserMetadata.CdnPath,
			CdnPublished:          d.PulpUserMetadata.CdnPublished,
			RepositoryMemberships: d.RepositoryMemberships,
		}, nil
	case pulp.FileUnitType:
		return &pulp.FileUnit{
			UnitID:                d.UnitID,
			Path:                  d.Name,
			SHA256Sum:             d.Checksums["sha256"],
			Size:                  d.Size,
			Description:           d.PulpUserMetadata.Description,
			Version:               d.PulpUserMetadata.Version,
			DisplayOrder:          d.PulpUserMetadata.DisplayOrder,
			CdnPath:               d.PulpUserMetadata.CdnPath,
			CdnPublished:          d.PulpUserMetadata.CdnPublished,
			RepositoryMemberships: d.RepositoryMemberships,
		}, nil
	case pulp.ErratumUnitType:
		return &pulp.ErratumUnit{
			UnitID:                d.UnitID,
			ID:                    d.ID,
			Version:               d.Version,
			Summary:               d.Title,
			Description:           d.Description,
			RepositoryMemberships: d.RepositoryMemberships,
		}, nil
	}
	return nil, fmt.Errorf("pulphttp: unsupported unit type %q", t)
}

type repoDoc struct {
	ID string `json:"id"`
}

// updateDelta renders the mutable fields of a unit as a Pulp 2 update
// delta, returning the server-side unit ID to address.
func updateDelta(unit pulp.Unit) (string, map[string]any, error) {
	switch u := unit.(type) {
	case *pulp.RPMUnit:
		delta := map[string]any{
			"pulp_user_metadata": map[string]any{"cdn_path": u.CdnPath},
		}
		if u.CdnPublished != nil {
			delta["pulp_user_metadata"].(map[string]any)["cdn_published"] = *u.CdnPublished
		}
		return u.UnitID, delta, nil
	case *pulp.FileUnit:
		userMetadata := map[string]any{
			"description":   u.Description,
			"version":       u.Version,
			"display_order": u.DisplayOrder,
		}
		if u.CdnPublished != nil {
			userMetadata["cdn_published"] = *u.CdnPublished
		}
		return u.UnitID, map[string]any{"pulp_user_metadata": userMetadata}, nil
	case *pulp.ErratumUnit:
		return "", nil, fmt.Errorf("pulphttp: errata are updated by reupload, not UpdateContent")
	}
	return "", nil, fmt.Errorf("pulphttp: unsupported unit type %T", unit)
}
