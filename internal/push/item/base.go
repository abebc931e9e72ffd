package item

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// Item is a PushItem paired with its observed Pulp state. Values are
// immutable; every transition returns a new Item.
type Item interface {
	// PushItem returns the underlying push item.
	PushItem() PushItem

	// State returns the current reconciliation state.
	State() State

	// Unit returns the matched Pulp unit, or nil if none (or not yet
	// queried).
	Unit() pulp.Unit

	// UnitType returns the Pulp unit type used to locate this item, or
	// "" if the kind has no queryable single unit.
	UnitType() pulp.UnitType

	// Criteria returns search criteria locating this item's unit in
	// Pulp, or nil when UnitType is "".
	Criteria() *pulp.Criteria

	// MatchKey returns an identity key for this item. UnitKey computes
	// the same key from a unit, so that query results can be matched
	// back to the items which requested them.
	MatchKey() string
	UnitKey(u pulp.Unit) string

	// WithUnit returns a copy of the item evolved with the given unit
	// (possibly nil) and a recalculated state.
	WithUnit(u pulp.Unit) Item

	// UnitForUpdate returns the desired form of this item's unit for an
	// in-place update, or nil if the item has no mutable fields.
	UnitForUpdate() pulp.Unit

	// CanPrePush reports whether this item may be uploaded ahead of
	// time, without yet becoming visible to end users.
	CanPrePush() bool

	// InPulpRepos returns the repositories currently containing this
	// item's unit.
	InPulpRepos() []string

	// PublishRepos returns the repositories which must be published for
	// this item to become available.
	PublishRepos() []string

	// EnsureUploaded uploads this item's content and returns the item
	// refreshed from Pulp, confirming the upload took effect.
	EnsureUploaded(ctx context.Context, uctx *UploadContext) (Item, error)

	// withPushItem returns a copy with the push item replaced.
	withPushItem(pi PushItem) Item
}

// ConfirmationError means a mutation (upload, update or association)
// apparently succeeded, yet a follow-up query still shows the item in
// an unexpected state. These errors are always fatal.
type ConfirmationError struct {
	Name   string
	Reason string
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("item %s: %s", e.Name, e.Reason)
}

// base carries the state shared by every item type.
type base struct {
	item  PushItem
	state State
	unit  pulp.Unit
}

func (b base) PushItem() PushItem { return b.item }
func (b base) State() State       { return b.state }
func (b base) Unit() pulp.Unit    { return b.unit }

func (b base) UnitType() pulp.UnitType  { return "" }
func (b base) Criteria() *pulp.Criteria { return nil }
func (b base) MatchKey() string         { return "" }
func (b base) UnitKey(pulp.Unit) string { return "" }
func (b base) UnitForUpdate() pulp.Unit { return nil }
func (b base) CanPrePush() bool         { return false }

func (b base) InPulpRepos() []string {
	if b.unit == nil {
		return nil
	}
	out := append([]string(nil), b.unit.Memberships()...)
	sort.Strings(out)
	return out
}

func (b base) PublishRepos() []string {
	out := append([]string(nil), b.item.Dest...)
	sort.Strings(out)
	return out
}

// missingRepos returns destination repos not yet containing the unit.
func missingRepos(dest []string, unit pulp.Unit) []string {
	if unit == nil {
		return append([]string(nil), dest...)
	}
	have := make(map[string]struct{}, len(unit.Memberships()))
	for _, r := range unit.Memberships() {
		have[r] = struct{}{}
	}
	var out []string
	for _, r := range dest {
		if _, ok := have[r]; !ok {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// MissingPulpRepos returns the destination repositories into which the
// item still has to be copied.
func MissingPulpRepos(it Item) []string {
	have := map[string]struct{}{}
	for _, r := range it.InPulpRepos() {
		have[r] = struct{}{}
	}
	var out []string
	for _, r := range it.PushItem().Dest {
		if _, ok := have[r]; !ok {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// stateFor derives the base state from a queried unit.
func stateFor(dest []string, unit pulp.Unit) State {
	switch {
	case unit == nil:
		return StateMissing
	case len(unit.Memberships()) == 0:
		return StateOrphan
	case len(missingRepos(dest, unit)) > 0:
		return StatePartial
	default:
		return StateInRepos
	}
}

// withUnit evolves the base with a queried unit. unitForUpdate, when
// non-nil, supplies the item's desired unit so that mutable-field
// drift escalates the state to NEEDS_UPDATE.
func (b base) withUnit(u pulp.Unit, unitForUpdate func(current pulp.Unit) pulp.Unit) base {
	b.unit = u
	b.state = stateFor(b.item.Dest, u)
	if (b.state == StatePartial || b.state == StateInRepos) && unitForUpdate != nil {
		if desired := unitForUpdate(u); desired != nil && !unitsEquivalent(desired, u) {
			b.state = StateNeedsUpdate
		}
	}
	return b
}

// unitsEquivalent compares two units while ignoring identity and
// repository membership, which are not under the item's control.
func unitsEquivalent(a, b pulp.Unit) bool {
	return reflect.DeepEqual(volatileCleared(a), volatileCleared(b))
}

func volatileCleared(u pulp.Unit) pulp.Unit {
	switch u := u.(type) {
	case *pulp.RPMUnit:
		c := *u
		c.UnitID = ""
		c.RepositoryMemberships = nil
		return &c
	case *pulp.FileUnit:
		c := *u
		c.UnitID = ""
		c.RepositoryMemberships = nil
		return &c
	case *pulp.ErratumUnit:
		c := *u
		c.UnitID = ""
		c.RepositoryMemberships = nil
		return &c
	}
	return u
}

// WithState returns the item with its lifecycle label replaced.
func WithState(it Item, label string) Item {
	return it.withPushItem(it.PushItem().WithState(label))
}

// WithChecksums returns the item with checksums guaranteed present.
func WithChecksums(it Item) (Item, error) {
	pi, err := it.PushItem().WithChecksums()
	if err != nil {
		return nil, err
	}
	return it.withPushItem(pi), nil
}

// ForPushItem wraps a push item in its kind-specific Item. It returns
// false for unrecognized kinds.
func ForPushItem(pi PushItem) (Item, bool) {
	b := base{item: pi, state: StateUnknown}
	switch pi.Kind {
	case KindRPM:
		return RPM{b}, true
	case KindFile:
		return File{b}, true
	case KindErratum:
		return Erratum{b}, true
	case KindModuleMd, KindCompsXml, KindProductID:
		return Direct{base: b}, true
	}
	return nil, false
}
