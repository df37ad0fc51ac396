package observability

import "context"

// Checker is a readiness dependency: something the relay cannot serve
// correct flag answers without. The data source connection and any
// persistent backend register one of these with the probe server.
type Checker interface {
	// Name identifies the component in the readiness payload, for
	// example "datasource", "postgres" or "redis".
	Name() string

	// Check reports whether the component can currently serve. It must
	// be safe for concurrent use and honor ctx cancellation.
	Check(ctx context.Context) error
}
