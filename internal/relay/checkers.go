package relay

import (
	"context"
	"fmt"

	"github.com/bifrostlabs/bifrost/datasource"
	"github.com/bifrostlabs/bifrost/internal/observability"
	"github.com/bifrostlabs/bifrost/store"
)

// Compile-time check to ensure DataSourceChecker implements the Checker interface.
var _ observability.Checker = (*DataSourceChecker)(nil)

// DataSourceChecker reports readiness based on the data source state and
// whether a full data set has been applied. The relay can keep serving on
// INTERRUPTED because it still holds the last known data; it is not ready
// while INITIALIZING or after OFF without data.
type DataSourceChecker struct {
	reader store.DataReader
	status *datasource.StatusManager
}

// NewDataSourceChecker creates a readiness checker for the data source.
// Panics if reader or status are nil.
func NewDataSourceChecker(reader store.DataReader, status *datasource.StatusManager) *DataSourceChecker {
	if reader == nil {
		panic("relay: data reader cannot be nil")
	}
	if status == nil {
		panic("relay: status manager cannot be nil")
	}
	return &DataSourceChecker{reader: reader, status: status}
}

// Name returns the component identifier used in the readiness response.
func (c *DataSourceChecker) Name() string { return "datasource" }

// Check returns nil once the store holds a full data set.
func (c *DataSourceChecker) Check(ctx context.Context) error {
	if c.reader.Initialized() {
		return nil
	}
	st := c.status.Status()
	return fmt.Errorf("no data received yet (state: %s)", st.State)
}
