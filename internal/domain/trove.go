package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CollateralType identifies the collateral branch a trove belongs to. Trove
// IDs are only unique within a single collateral type.
type CollateralType string

const (
	CollateralWETH   CollateralType = "WETH"
	CollateralWstETH CollateralType = "wstETH"
	CollateralRETH   CollateralType = "rETH"
)

// Valid reports whether c is one of the supported collateral types.
func (c CollateralType) Valid() bool {
	switch c {
	case CollateralWETH, CollateralWstETH, CollateralRETH:
		return true
	}
	return false
}

// TroveStatus represents the lifecycle state of a trove.
type TroveStatus string

const (
	TroveStatusOpen       TroveStatus = "open"
	TroveStatusClosed     TroveStatus = "closed"
	TroveStatusLiquidated TroveStatus = "liquidated"
	TroveStatusRedeemed   TroveStatus = "redeemed"
)

// BatchMembership links a trove to a delegate batch manager that sets its
// rate and charges an additional management fee (percent per year).
type BatchMembership struct {
	Manager       string
	ManagementFee float64
}

// Trove is a read-only snapshot of a collateralized debt position.
type Trove struct {
	ID             string
	CollateralType CollateralType
	Status         TroveStatus
	// RecordedDebt is the principal checkpointed at LastUpdate, in BOLD.
	RecordedDebt decimal.Decimal
	// InterestRate is the annual rate in percent (3.9 means 3.9%/year).
	InterestRate float64
	LastUpdate   time.Time
	Batch        *BatchMembership
}

// IsBatchMember reports whether the trove's rate is delegated to a batch.
func (t Trove) IsBatchMember() bool {
	return t.Batch != nil
}

// ManagementFee returns the batch management fee, or zero for troves that
// set their own rate.
func (t Trove) ManagementFee() float64 {
	if t.Batch == nil {
		return 0
	}
	return t.Batch.ManagementFee
}

// TroveRef addresses a trove within its collateral namespace.
type TroveRef struct {
	CollateralType CollateralType `json:"collateral_type"`
	ID             string         `json:"trove_id"`
}

// PageRequest asks a TroveSource for one page of results. Cursor takes
// precedence over Offset when set.
type PageRequest struct {
	Cursor string
	Offset int
	Limit  int
}

// TrovePage is one page of a listing. NextCursor is empty when the source
// does not support cursors.
type TrovePage struct {
	Troves     []Trove
	NextCursor string
	HasMore    bool
}
