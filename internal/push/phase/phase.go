// Package phase provides the concrete pipeline phases of a push.
package phase

import (
	"github.com/release-engineering/pulp-push/internal/pipeline"
	"github.com/release-engineering/pulp-push/internal/push/item"
)

// The pipeline framework instantiated for push items.
type (
	Context = pipeline.Context[item.Item]
	Phase   = pipeline.Phase[item.Item]
	Queue   = pipeline.Queue[item.Item]
	Config  = pipeline.PhaseConfig[item.Item]
)
