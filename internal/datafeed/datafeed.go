// Package datafeed fetches historical market data from external providers
// and persists it to the local bar store.
package datafeed

import "context"

// Fetcher is the interface for all data fetching processes.
type Fetcher interface {
	// Name returns the fetcher identifier.
	Name() string
	// Run executes the fetch. It returns when the fetch completes or ctx is
	// cancelled.
	Run(ctx context.Context) error
}
