package app

import (
	"context"
)

// Stage represents a single stage in the provision workflow.
// Each stage implements this interface to provide a name and execution logic.
type Stage interface {
	Name() ProvisionStage
	Execute(ctx context.Context, state *BucketState) error
}
