package decisioncache

import (
	"context"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/access"
)

// Noop never stores anything; every check is evaluated from the stores
type Noop struct{}

// Get implements access.DecisionCache
func (Noop) Get(context.Context, access.Key) (access.Decision, bool, error) {
	return access.Decision{}, false, nil
}

// Set implements access.DecisionCache
func (Noop) Set(context.Context, access.Key, access.Decision, time.Duration) error { return nil }

// Invalidate implements access.DecisionCache
func (Noop) Invalidate(context.Context, access.KeyPattern) error { return nil }
