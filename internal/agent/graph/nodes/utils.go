package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/communityfinder/server/internal/agent/model"
)

// ===== Small helpers to keep nodes simple/readable =====

// snapshot copies the run state so a node can read it outside the state lock.
func snapshot(ctx context.Context) (model.State, error) {
	var snap model.State
	err := compose.ProcessState(ctx, func(_ context.Context, s *model.State) error {
		snap = s.Snapshot()
		return nil
	})
	if err != nil {
		return model.State{}, fmt.Errorf("failed to access state: %w", err)
	}
	return snap, nil
}

// emit publishes a progress message to the run's sink.
func emit(ctx context.Context, message string) {
	_ = compose.ProcessState(ctx, func(_ context.Context, s *model.State) error {
		s.Emit(message)
		return nil
	})
}
