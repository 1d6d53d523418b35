package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertKind classifies monitor alerts.
type AlertKind string

const (
	AlertBelowThreshold AlertKind = "below_threshold"
	AlertSharpDrop      AlertKind = "sharp_drop"
)

// RedemptionAlert is raised by the monitor when a watched trove becomes
// exposed to redemption.
type RedemptionAlert struct {
	ID             string           `json:"id"`
	Kind           AlertKind        `json:"kind"`
	Trove          TroveRef         `json:"trove"`
	Label          string           `json:"label,omitempty"`
	DebtInFront    decimal.Decimal  `json:"debt_in_front"`
	PreviousDebt   *decimal.Decimal `json:"previous_debt,omitempty"`
	AlertThreshold decimal.Decimal  `json:"alert_threshold"`
	TrovesAhead    int              `json:"troves_ahead"`
	LowerBound     bool             `json:"lower_bound"`
	RaisedAt       time.Time        `json:"raised_at"`
}

// ServiceStatus is a summary of the process's operational state.
type ServiceStatus struct {
	Mode          string
	UptimeSeconds int64
	WatchedTroves int
	LastCycleAt   time.Time
	LastCycleErrs int
	WSClients     int
}
