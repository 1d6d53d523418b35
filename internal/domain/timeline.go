package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind discriminates timeline events.
type EventKind string

const (
	EventKindOrdinary     EventKind = "ordinary"
	EventKindBatchManager EventKind = "batch_manager"
)

// TroveState is the checkpointed state recorded by a timeline event.
type TroveState struct {
	Debt         decimal.Decimal
	InterestRate float64
}

// TimelineEvent is one entry of a trove's append-only history. The set of
// implementations is closed: OrdinaryEvent and BatchManagerEvent.
type TimelineEvent interface {
	Kind() EventKind
	At() time.Time
	State() TroveState
	timelineEvent()
}

// OrdinaryEvent is a borrower-initiated operation that checkpoints the
// trove's debt and rate.
type OrdinaryEvent struct {
	TxHash     string
	Operation  string
	Timestamp  time.Time
	StateAfter TroveState
}

func (OrdinaryEvent) Kind() EventKind { return EventKindOrdinary }
func (e OrdinaryEvent) At() time.Time { return e.Timestamp }
func (e OrdinaryEvent) State() TroveState { return e.StateAfter }
func (OrdinaryEvent) timelineEvent() {}

// BatchManagerEvent is a delegate rate change applied to every trove in the
// manager's batch.
type BatchManagerEvent struct {
	TxHash        string
	Manager       string
	Timestamp     time.Time
	StateAfter    TroveState
	ManagementFee float64
}

func (BatchManagerEvent) Kind() EventKind { return EventKindBatchManager }
func (e BatchManagerEvent) At() time.Time { return e.Timestamp }
func (e BatchManagerEvent) State() TroveState { return e.StateAfter }
func (BatchManagerEvent) timelineEvent() {}
