package ports

import (
	"context"

	"backtester/internal/domain"
)

// RunRepository defines the interface for storing and retrieving simulation runs.
type RunRepository interface {
	// SaveRun stores the run together with its positions, equity curve and metrics.
	// The run ID must already be assigned.
	SaveRun(ctx context.Context, run *domain.Run) error
	// FindRun retrieves a run with all its children.
	// Returns ErrNotFound if no run has the given ID.
	FindRun(ctx context.Context, id string) (*domain.Run, error)
	// ListRuns retrieves run headers (without positions and equity), newest first.
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)
	// FindPositions retrieves the closed positions of a run ordered by ID.
	FindPositions(ctx context.Context, runID string) ([]domain.Position, error)
	// FindEquityCurve retrieves the equity curve of a run ordered by time.
	FindEquityCurve(ctx context.Context, runID string) ([]domain.EquityPoint, error)
	// DeleteRun removes a run and its children.
	DeleteRun(ctx context.Context, id string) error
}
