package pulp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCriteriaMatches(t *testing.T) {
	rpm := &RPMUnit{Name: "bash", SHA256Sum: "aabb", SigningKey: "key1"}
	erratum := &ErratumUnit{ID: "RHSA-2023:0001", Version: "2"}

	var testcases = map[string]struct {
		crit  *Criteria
		unit  Unit
		match bool
	}{
		`field_match`: {
			crit:  WithField("sha256sum", "aabb"),
			unit:  rpm,
			match: true,
		},
		`field_mismatch`: {
			crit:  WithField("sha256sum", "ccdd"),
			unit:  rpm,
			match: false,
		},
		`unknown_field`: {
			crit:  WithField("nope", "x"),
			unit:  rpm,
			match: false,
		},
		`and_all`: {
			crit:  And(WithField("name", "bash"), WithField("signing_key", "key1")),
			unit:  rpm,
			match: true,
		},
		`and_partial`: {
			crit:  And(WithField("name", "bash"), WithField("signing_key", "other")),
			unit:  rpm,
			match: false,
		},
		`or_any`: {
			crit:  Or(WithField("name", "nope"), WithField("sha256sum", "aabb")),
			unit:  rpm,
			match: true,
		},
		`unit_type`: {
			crit:  WithUnitType(ErratumUnitType),
			unit:  erratum,
			match: true,
		},
		`unit_type_mismatch`: {
			crit:  WithUnitType(ErratumUnitType),
			unit:  rpm,
			match: false,
		},
		`id_in_set`: {
			crit:  WithID("RHSA-2023:0001", "RHSA-2023:0002"),
			unit:  erratum,
			match: true,
		},
		`nil_matches_all`: {
			crit:  nil,
			unit:  rpm,
			match: true,
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.match, tc.crit.Matches(tc.unit))
		})
	}
}

func TestCriteriaMatchesID(t *testing.T) {
	require.True(t, WithID("repo-a", "repo-b").MatchesID("repo-a"))
	require.False(t, WithID("repo-a").MatchesID("repo-b"))
	require.True(t, Or(WithID("x"), WithID("repo-a")).MatchesID("repo-a"))
}

func TestCriteriaFilters(t *testing.T) {
	crit := And(
		WithUnitType(RPMUnitType),
		Or(WithField("sha256sum", "aa"), WithField("sha256sum", "bb")),
	)

	require.Equal(t, map[string]any{
		"$or": []map[string]any{
			{"sha256sum": "aa"},
			{"sha256sum": "bb"},
		},
	}, crit.Filters())

	require.Equal(t, []UnitType{RPMUnitType}, crit.UnitTypes())
}
