package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// JournalStore persists decisions and state transitions for reporting.
type JournalStore interface {
	RecordDecision(ctx context.Context, d TradeDecision) error
	RecordTransition(ctx context.Context, t StateTransition) error
	ListDecisions(ctx context.Context, opts ListOpts) ([]TradeDecision, error)
	ListTransitions(ctx context.Context, opts ListOpts) ([]StateTransition, error)
}
