package domain

import "context"

// TroveSource lists open troves for a collateral type, sorted ascending by
// interest rate as a hint. Callers must not rely on the sort.
type TroveSource interface {
	ListOpenTroves(ctx context.Context, collateral CollateralType, page PageRequest) (TrovePage, error)
}

// TroveReader loads a single trove and its history.
type TroveReader interface {
	GetTrove(ctx context.Context, ref TroveRef) (Trove, error)
	GetTimeline(ctx context.Context, ref TroveRef) ([]TimelineEvent, error)
}
