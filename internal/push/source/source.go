// Package source provides push item sources: the boundary through
// which content enters a push.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/release-engineering/pulp-push/internal/push/item"
)

// Source yields the push items of one push.
type Source interface {
	// Each invokes fn for every push item in the source's own order.
	// Iteration stops at the first error from fn or from the source.
	Each(ctx context.Context, fn func(item.PushItem) error) error
}

// FromURL resolves a source URL of the form scheme:target. The only
// supported scheme is "staged", whose target is one or more staging
// directories separated by commas.
func FromURL(url string) (Source, error) {
	scheme, target, ok := strings.Cut(url, ":")
	if !ok {
		return nil, fmt.Errorf("invalid source url (no scheme): %s", url)
	}
	switch scheme {
	case "staged":
		var dirs []string
		for _, d := range strings.Split(target, ",") {
			if d != "" {
				dirs = append(dirs, d)
			}
		}
		if len(dirs) == 0 {
			return nil, fmt.Errorf("staged source url names no directories: %s", url)
		}
		return NewStaged(dirs...), nil
	}
	return nil, fmt.Errorf("unsupported source scheme %q in %s", scheme, url)
}
