// Package pulp defines the capability surface of the remote Pulp service
// consumed by the push pipeline: content units, search criteria and the
// client/repository operations. Implementations live in the fake and
// pulphttp subpackages.
package pulp

// UnitType identifies a kind of content unit stored in Pulp.
type UnitType string

const (
	RPMUnitType     UnitType = "rpm"
	FileUnitType    UnitType = "iso"
	ErratumUnitType UnitType = "erratum"
)

// Unit is a content unit stored in Pulp. The set of concrete types is
// closed: RPMUnit, FileUnit and ErratumUnit.
type Unit interface {
	Type() UnitType

	// Memberships returns the IDs of all repositories currently
	// containing this unit. Empty for orphans.
	Memberships() []string
}

// RPMUnit is a stored RPM package.
type RPMUnit struct {
	UnitID string

	Name    string
	Version string
	Release string
	Arch    string

	SHA256Sum  string
	SigningKey string

	CdnPath      string
	CdnPublished *bool

	RepositoryMemberships []string
}

func (u *RPMUnit) Type() UnitType        { return RPMUnitType }
func (u *RPMUnit) Memberships() []string { return u.RepositoryMemberships }

// FileUnit is a stored generic file ("iso" unit in Pulp 2 terms).
type FileUnit struct {
	UnitID string

	Path      string
	SHA256Sum string
	Size      int64

	// Mutable fields, settable after upload via UpdateContent.
	Description  string
	Version      string
	DisplayOrder int32

	CdnPath      string
	CdnPublished *bool

	RepositoryMemberships []string
}

func (u *FileUnit) Type() UnitType        { return FileUnitType }
func (u *FileUnit) Memberships() []string { return u.RepositoryMemberships }

// ErratumUnit is a stored advisory. Errata are mutable only by reupload;
// each reupload must carry a version greater than the stored one.
type ErratumUnit struct {
	UnitID string

	ID          string
	Version     string
	Summary     string
	Description string

	RepositoryMemberships []string
}

func (u *ErratumUnit) Type() UnitType        { return ErratumUnitType }
func (u *ErratumUnit) Memberships() []string { return u.RepositoryMemberships }

// CdnPublishedFlag returns the unit's cdn_published field and whether the
// unit type carries one at all.
func CdnPublishedFlag(u Unit) (value *bool, ok bool) {
	switch u := u.(type) {
	case *RPMUnit:
		return u.CdnPublished, true
	case *FileUnit:
		return u.CdnPublished, true
	default:
		return nil, false
	}
}

func boolPtr(b bool) *bool { return &b }

// WithCdnPublished returns a copy of the unit with cdn_published set.
// Returns nil for unit types without the field.
func WithCdnPublished(u Unit, published bool) Unit {
	switch u := u.(type) {
	case *RPMUnit:
		out := *u
		out.CdnPublished = boolPtr(published)
		return &out
	case *FileUnit:
		out := *u
		out.CdnPublished = boolPtr(published)
		return &out
	default:
		return nil
	}
}
