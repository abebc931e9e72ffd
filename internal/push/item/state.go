package item

// State describes how an item currently relates to Pulp, as determined
// by querying Pulp and comparing against the item's desired form.
type State string

const (
	// StateUnknown means Pulp has not been queried yet (or the item's
	// kind has no queryable unit type).
	StateUnknown State = "UNKNOWN"

	// StateMissing means no matching unit exists in Pulp.
	StateMissing State = "MISSING"

	// StateOrphan means a matching unit exists but belongs to no
	// repository.
	StateOrphan State = "ORPHAN"

	// StatePartial means a matching unit exists in some, but not all,
	// of the item's destination repositories.
	StatePartial State = "PARTIAL"

	// StateInRepos means a matching unit exists in every destination
	// repository.
	StateInRepos State = "IN_REPOS"

	// StateNeedsUpdate means the unit is present but some mutable
	// fields differ and must be updated in place.
	StateNeedsUpdate State = "NEEDS_UPDATE"

	// StateNeedsReupload means the unit is present but differs in ways
	// only a fresh upload can fix.
	StateNeedsReupload State = "NEEDS_REUPLOAD"
)

// Uploaded reports whether the item's content is already present in
// Pulp, so that a (re-)upload is not needed.
func (s State) Uploaded() bool {
	switch s {
	case StateInRepos, StatePartial, StateNeedsUpdate:
		return true
	}
	return false
}
