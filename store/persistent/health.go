package persistent

import (
	"context"
	"fmt"
)

// Pinger is implemented by readers that can verify connectivity to their
// backing store without touching flag data.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	_ Pinger = (*PostgresDataReader)(nil)
	_ Pinger = (*RedisDataReader)(nil)
)

// HealthChecker reports the connectivity of a persistent backend for the
// readiness probe.
type HealthChecker struct {
	name   string
	pinger Pinger
}

// NewHealthChecker creates a health checker over the given reader.
func NewHealthChecker(name string, pinger Pinger) *HealthChecker {
	return &HealthChecker{name: name, pinger: pinger}
}

// Name returns the component name.
func (h *HealthChecker) Name() string {
	return h.name
}

// Check verifies the backend connection.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.pinger == nil {
		return fmt.Errorf("%s reader is nil", h.name)
	}
	return h.pinger.Ping(ctx)
}
