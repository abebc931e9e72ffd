// Package collect records push item states as they become final, for
// consumption outside the push itself.
package collect

import (
	"strings"

	"go.uber.org/zap"

	"github.com/release-engineering/pulp-push/internal/push/item"
	"github.com/release-engineering/pulp-push/pkg/logger"
)

// Collector receives push item state updates during a push.
type Collector interface {
	// UpdatePushItems records the current state of the given items.
	// The same item may be recorded more than once as its state
	// evolves.
	UpdatePushItems(items []item.PushItem) error

	// Finish marks that no more updates are coming.
	Finish() error
}

// LogCollector records item states to the log.
type LogCollector struct {
	log logger.Logger
}

func NewLogCollector(log logger.Logger) *LogCollector {
	return &LogCollector{log: log}
}

func (c *LogCollector) UpdatePushItems(items []item.PushItem) error {
	for _, pi := range items {
		c.log.Info("Push item",
			zap.String("name", pi.Name),
			zap.String("state", pi.State),
			zap.String("dest", strings.Join(pi.Dest, ",")))
	}
	return nil
}

func (c *LogCollector) Finish() error {
	c.log.Info("Push item collection finished")
	return nil
}
