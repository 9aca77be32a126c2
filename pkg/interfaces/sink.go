package interfaces

import (
	"context"

	"livepoll/pkg/types"
)

// ResultSink receives closed poll results. Sinks are write-only: nothing they
// store is ever read back into live session state.
type ResultSink interface {
	StoreResult(ctx context.Context, result *types.PollResult) error
}

// ResultArchive is a ResultSink that can also list what it has stored.
type ResultArchive interface {
	ResultSink
	ListResults(ctx context.Context, limit int) ([]*types.PollResult, error)
	HealthCheck(ctx context.Context) error
}
