package item

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/release-engineering/pulp-push/internal/concurrency"
	"github.com/release-engineering/pulp-push/pkg/logger"
	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// ByType splits items into groups sharing a unit type, preserving the
// order of first appearance. Kinds with no queryable unit type group
// together.
func ByType(items []Item) [][]Item {
	byType := map[pulp.UnitType][]Item{}
	var order []pulp.UnitType
	for _, it := range items {
		t := it.UnitType()
		if _, ok := byType[t]; !ok {
			order = append(order, t)
		}
		byType[t] = append(byType[t], it)
	}
	out := make([][]Item, 0, len(order))
	for _, t := range order {
		out = append(out, byType[t])
	}
	return out
}

// matchUnits evolves each item with the unit matching its identity key,
// or nil when absent from the results.
func matchUnits(items []Item, units []pulp.Unit) []Item {
	byKey := map[string]pulp.Unit{}
	for _, u := range units {
		if key := items[0].UnitKey(u); key != "" {
			byKey[key] = u
		}
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, it.WithUnit(byKey[it.MatchKey()]))
	}
	return out
}

// WithPulpState queries Pulp for the units of a same-typed batch of
// items and returns the items evolved with their observed state. Items
// whose kind has no unit type pass through unchanged.
func WithPulpState(ctx context.Context, client pulp.Client, items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	unitType := items[0].UnitType()
	if unitType == "" {
		return items, nil
	}

	crits := make([]*pulp.Criteria, 0, len(items))
	for _, it := range items {
		crits = append(crits, it.Criteria())
	}
	crit := pulp.And(pulp.WithUnitType(unitType), pulp.Or(crits...))

	units, err := client.SearchContent(ctx, crit)
	if err != nil {
		return nil, fmt.Errorf("searching %s units: %w", unitType, err)
	}
	return matchUnits(items, units), nil
}

// Refreshed re-queries a single item's unit from Pulp.
func Refreshed(ctx context.Context, client pulp.Client, it Item) (Item, error) {
	out, err := WithPulpState(ctx, client, []Item{it})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EnsureUptodate applies the item's pending field updates in place and
// confirms they took effect.
func EnsureUptodate(ctx context.Context, client pulp.Client, it Item) (Item, error) {
	desired := it.UnitForUpdate()
	if desired == nil {
		return it, nil
	}
	if err := client.UpdateContent(ctx, desired); err != nil {
		return nil, fmt.Errorf("updating %s: %w", it.PushItem().Name, err)
	}

	out, err := Refreshed(ctx, client, it)
	if err != nil {
		return nil, err
	}
	if out.State() == StateNeedsUpdate {
		return nil, &ConfirmationError{
			Name:   it.PushItem().Name,
			Reason: "fields still outdated after update",
		}
	}
	return out, nil
}

// copyGroup gathers items sharing a source and destination repo so that
// they can be copied with a single request.
type copyGroup struct {
	src, dest string
	items     []Item
}

// Associated copies the units of a same-typed batch of items into all
// of their missing destination repositories, then re-queries and
// confirms every item landed. Items already present everywhere pass
// through untouched.
func Associated(ctx context.Context, client pulp.Client, log logger.Logger, items []Item, opts pulp.CopyOptions) ([]Item, error) {
	var settled, pending []Item
	for _, it := range items {
		if len(MissingPulpRepos(it)) == 0 {
			settled = append(settled, it)
		} else {
			pending = append(pending, it)
		}
	}
	if len(pending) == 0 {
		return settled, nil
	}

	groups := map[string]*copyGroup{}
	for _, it := range pending {
		inRepos := it.InPulpRepos()
		if len(inRepos) == 0 {
			return nil, &ConfirmationError{
				Name:   it.PushItem().Name,
				Reason: "not in any repo, cannot be associated",
			}
		}
		src := inRepos[0]
		for _, dest := range MissingPulpRepos(it) {
			key := src + "\x00" + dest
			g, ok := groups[key]
			if !ok {
				g = &copyGroup{src: src, dest: dest}
				groups[key] = g
			}
			g.items = append(g.items, it)
		}
	}

	p := concurrency.NewPool(ctx, len(groups))
	for _, g := range groups {
		g := g
		p.Go(func(ctx context.Context) error {
			crits := make([]*pulp.Criteria, 0, len(g.items))
			names := make([]string, 0, len(g.items))
			for _, it := range g.items {
				crits = append(crits, it.Criteria())
				names = append(names, it.PushItem().Name)
			}
			log.Info("Copying content",
				zap.String("src", g.src),
				zap.String("dest", g.dest),
				zap.Int("count", len(g.items)))
			srcRepo, err := client.GetRepository(ctx, g.src)
			if err != nil {
				return fmt.Errorf("fetching repo %s: %w", g.src, err)
			}
			destRepo, err := client.GetRepository(ctx, g.dest)
			if err != nil {
				return fmt.Errorf("fetching repo %s: %w", g.dest, err)
			}
			crit := pulp.And(pulp.WithUnitType(g.items[0].UnitType()), pulp.Or(crits...))
			tasks, err := client.CopyContent(ctx, srcRepo, destRepo, crit, opts)
			if err != nil {
				return fmt.Errorf("copying %s from %s to %s: %w",
					strings.Join(names, ", "), g.src, g.dest, err)
			}
			copied := 0
			for _, t := range tasks {
				copied += len(t.Units)
			}
			log.Debug("Copy completed",
				zap.String("src", g.src),
				zap.String("dest", g.dest),
				zap.Int("units", copied))
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	refreshed, err := WithPulpState(ctx, client, pending)
	if err != nil {
		return nil, err
	}
	for _, it := range refreshed {
		if missing := MissingPulpRepos(it); len(missing) > 0 {
			return nil, &ConfirmationError{
				Name: it.PushItem().Name,
				Reason: fmt.Sprintf("still missing from repos after copy: %s",
					strings.Join(missing, ", ")),
			}
		}
	}
	return append(settled, refreshed...), nil
}
