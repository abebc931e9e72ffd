package pulp

import (
	"fmt"
	"strings"
)

type critOp int

const (
	opField critOp = iota
	opID
	opUnitType
	opAnd
	opOr
)

// Criteria is an opaque predicate over units or repositories. Build with
// WithField, WithID, WithUnitType and combine with And / Or.
type Criteria struct {
	op       critOp
	field    string
	value    string
	ids      []string
	unitType UnitType
	children []*Criteria
}

func WithField(name, value string) *Criteria {
	return &Criteria{op: opField, field: name, value: value}
}

func WithID(ids ...string) *Criteria {
	return &Criteria{op: opID, ids: ids}
}

func WithUnitType(t UnitType) *Criteria {
	return &Criteria{op: opUnitType, unitType: t}
}

func And(children ...*Criteria) *Criteria {
	return &Criteria{op: opAnd, children: compact(children)}
}

func Or(children ...*Criteria) *Criteria {
	return &Criteria{op: opOr, children: compact(children)}
}

func compact(children []*Criteria) []*Criteria {
	out := make([]*Criteria, 0, len(children))
	for _, c := range children {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Matches reports whether the given unit satisfies this criteria.
func (c *Criteria) Matches(u Unit) bool {
	if c == nil {
		return true
	}
	switch c.op {
	case opField:
		v, ok := unitField(u, c.field)
		return ok && v == c.value
	case opID:
		v, ok := unitField(u, "id")
		if !ok {
			return false
		}
		for _, id := range c.ids {
			if id == v {
				return true
			}
		}
		return false
	case opUnitType:
		return u.Type() == c.unitType
	case opAnd:
		for _, child := range c.children {
			if !child.Matches(u) {
				return false
			}
		}
		return true
	case opOr:
		for _, child := range c.children {
			if child.Matches(u) {
				return true
			}
		}
		return false
	}
	return false
}

// MatchesID reports whether a repository with the given ID satisfies this
// criteria. Only WithID and boolean combinations are meaningful for
// repository searches.
func (c *Criteria) MatchesID(id string) bool {
	if c == nil {
		return true
	}
	switch c.op {
	case opID:
		for _, want := range c.ids {
			if want == id {
				return true
			}
		}
		return false
	case opField:
		return c.field == "id" && c.value == id
	case opAnd:
		for _, child := range c.children {
			if !child.MatchesID(id) {
				return false
			}
		}
		return true
	case opOr:
		for _, child := range c.children {
			if child.MatchesID(id) {
				return true
			}
		}
		return false
	}
	return false
}

// UnitTypes returns every unit type referenced by this criteria.
func (c *Criteria) UnitTypes() []UnitType {
	if c == nil {
		return nil
	}
	var out []UnitType
	if c.op == opUnitType {
		out = append(out, c.unitType)
	}
	for _, child := range c.children {
		out = append(out, child.UnitTypes()...)
	}
	return out
}

func (c *Criteria) String() string {
	if c == nil {
		return "<any>"
	}
	switch c.op {
	case opField:
		return fmt.Sprintf("%s==%q", c.field, c.value)
	case opID:
		return fmt.Sprintf("id in [%s]", strings.Join(c.ids, ", "))
	case opUnitType:
		return fmt.Sprintf("type==%s", c.unitType)
	case opAnd, opOr:
		sep := " AND "
		if c.op == opOr {
			sep = " OR "
		}
		parts := make([]string, 0, len(c.children))
		for _, child := range c.children {
			parts = append(parts, child.String())
		}
		return "(" + strings.Join(parts, sep) + ")"
	}
	return "<invalid>"
}

// Filters renders the criteria as a Pulp 2 mongo-style filter document.
// Unit type predicates are omitted; they select the search endpoint
// instead of appearing in the filters.
func (c *Criteria) Filters() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	switch c.op {
	case opField:
		return map[string]any{c.field: c.value}
	case opID:
		return map[string]any{"id": map[string]any{"$in": c.ids}}
	case opUnitType:
		return map[string]any{}
	case opAnd, opOr:
		var parts []map[string]any
		for _, child := range c.children {
			f := child.Filters()
			if len(f) > 0 {
				parts = append(parts, f)
			}
		}
		if len(parts) == 0 {
			return map[string]any{}
		}
		if len(parts) == 1 {
			return parts[0]
		}
		key := "$and"
		if c.op == opOr {
			key = "$or"
		}
		return map[string]any{key: parts}
	}
	return map[string]any{}
}

func unitField(u Unit, name string) (string, bool) {
	switch u := u.(type) {
	case *RPMUnit:
		switch name {
		case "name":
			return u.Name, true
		case "sha256sum":
			return u.SHA256Sum, true
		case "signing_key":
			return u.SigningKey, true
		}
	case *FileUnit:
		switch name {
		case "path":
			return u.Path, true
		case "sha256sum":
			return u.SHA256Sum, true
		}
	case *ErratumUnit:
		switch name {
		case "id":
			return u.ID, true
		case "version":
			return u.Version, true
		}
	}
	return "", false
}
