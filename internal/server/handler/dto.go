package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/redemption"
)

// Amounts are rendered as decimal strings so clients never round through
// float64.

type interestResponse struct {
	CollateralType        string           `json:"collateral_type"`
	TroveID               string           `json:"trove_id"`
	RecordedDebt          decimal.Decimal  `json:"recorded_debt"`
	AccruedInterest       decimal.Decimal  `json:"accrued_interest"`
	AccruedManagementFees *decimal.Decimal `json:"accrued_management_fees,omitempty"`
	EntireDebt            decimal.Decimal  `json:"entire_debt"`
	DaysSinceUpdate       int              `json:"days_since_update"`
	BatchManager          string           `json:"batch_manager,omitempty"`
	BatchManagerName      string           `json:"batch_manager_name,omitempty"`
	Segmented             bool             `json:"segmented"`
	Periods               int              `json:"periods"`
}

func toInterestResponse(ref domain.TroveRef, info domain.InterestInfo) interestResponse {
	return interestResponse{
		CollateralType:        string(ref.CollateralType),
		TroveID:               ref.ID,
		RecordedDebt:          info.RecordedDebt,
		AccruedInterest:       info.AccruedInterest,
		AccruedManagementFees: info.AccruedManagementFees,
		EntireDebt:            info.EntireDebt,
		DaysSinceUpdate:       info.DaysSinceUpdate,
		BatchManager:          info.BatchManager,
		BatchManagerName:      info.BatchManagerName,
		Segmented:             info.Segmented,
		Periods:               info.Periods,
	}
}

type debtResponse struct {
	Principal             decimal.Decimal `json:"principal"`
	AccruedInterest       decimal.Decimal `json:"accrued_interest"`
	AccruedManagementFees decimal.Decimal `json:"accrued_management_fees"`
	EntireDebt            decimal.Decimal `json:"entire_debt"`
}

func toDebtResponse(b domain.DebtBreakdown) debtResponse {
	return debtResponse{
		Principal:             b.Principal,
		AccruedInterest:       b.AccruedInterest,
		AccruedManagementFees: b.AccruedManagementFees,
		EntireDebt:            b.EntireDebt,
	}
}

type rankedResponse struct {
	TroveID        string          `json:"trove_id"`
	InterestRate   float64         `json:"interest_rate"`
	Position       int             `json:"position"`
	Debt           debtResponse    `json:"debt"`
	CumulativeDebt decimal.Decimal `json:"cumulative_debt"`
	BatchManager   string          `json:"batch_manager,omitempty"`
}

func toRankedResponse(r domain.RankedTrove) rankedResponse {
	out := rankedResponse{
		TroveID:        r.Trove.ID,
		InterestRate:   r.Trove.InterestRate,
		Position:       r.Position,
		Debt:           toDebtResponse(r.Debt),
		CumulativeDebt: r.CumulativeDebt,
	}
	if r.Trove.Batch != nil {
		out.BatchManager = r.Trove.Batch.Manager
	}
	return out
}

type debtInFrontResponse struct {
	CollateralType string           `json:"collateral_type"`
	TroveID        string           `json:"trove_id"`
	InterestRate   float64          `json:"interest_rate"`
	TargetDebt     debtResponse     `json:"target_debt"`
	DebtInFront    decimal.Decimal  `json:"debt_in_front"`
	Formatted      string           `json:"formatted"`
	TrovesAhead    int              `json:"troves_ahead"`
	NextBehind     *rankedResponse  `json:"next_behind,omitempty"`
	Ahead          []rankedResponse `json:"ahead,omitempty"`
	Scanned        int              `json:"scanned"`
	Pages          int              `json:"pages"`
	LowerBound     bool             `json:"lower_bound"`
	PrincipalOnly  bool             `json:"principal_only"`
	LastCalculated time.Time        `json:"last_calculated"`
	Stale          bool             `json:"stale"`
}

func toDebtInFrontResponse(res domain.DebtInFrontResult, opts domain.DebtInFrontOptions, withAhead bool, stale bool) debtInFrontResponse {
	out := debtInFrontResponse{
		CollateralType: string(res.CollateralType),
		TroveID:        res.TroveID,
		InterestRate:   res.InterestRate,
		TargetDebt:     toDebtResponse(res.TargetDebt),
		DebtInFront:    res.DebtInFront,
		Formatted:      redemption.FormatDebtAmount(res.DebtInFront),
		TrovesAhead:    res.TrovesAhead,
		Scanned:        res.Scanned,
		Pages:          res.Pages,
		LowerBound:     res.LowerBound,
		PrincipalOnly:  opts.PrincipalOnly,
		LastCalculated: res.LastCalculated,
		Stale:          stale,
	}
	if res.NextBehind != nil {
		nb := toRankedResponse(*res.NextBehind)
		out.NextBehind = &nb
	}
	if withAhead {
		out.Ahead = make([]rankedResponse, 0, len(res.Ahead))
		for _, a := range res.Ahead {
			out.Ahead = append(out.Ahead, toRankedResponse(a))
		}
	}
	return out
}

type queueResponse struct {
	CollateralType string           `json:"collateral_type"`
	Troves         []rankedResponse `json:"troves"`
	Count          int              `json:"count"`
	TotalDebt      decimal.Decimal  `json:"total_debt"`
	Formatted      string           `json:"formatted"`
	Pages          int              `json:"pages"`
	LowerBound     bool             `json:"lower_bound"`
	CalculatedAt   time.Time        `json:"calculated_at"`
}

func toQueueResponse(v domain.QueueView, limit int) queueResponse {
	troves := v.Troves
	if limit > 0 && len(troves) > limit {
		troves = troves[:limit]
	}
	out := queueResponse{
		CollateralType: string(v.CollateralType),
		Troves:         make([]rankedResponse, 0, len(troves)),
		Count:          len(v.Troves),
		TotalDebt:      v.TotalDebt,
		Formatted:      redemption.FormatDebtAmount(v.TotalDebt),
		Pages:          v.Pages,
		LowerBound:     v.LowerBound,
		CalculatedAt:   v.CalculatedAt,
	}
	for _, t := range troves {
		out.Troves = append(out.Troves, toRankedResponse(t))
	}
	return out
}

type snapshotResponse struct {
	ID           string          `json:"id"`
	InterestRate float64         `json:"interest_rate"`
	TargetDebt   decimal.Decimal `json:"target_debt"`
	DebtInFront  decimal.Decimal `json:"debt_in_front"`
	TrovesAhead  int             `json:"troves_ahead"`
	LowerBound   bool            `json:"lower_bound"`
	CalculatedAt time.Time       `json:"calculated_at"`
}

func toSnapshotResponses(snaps []domain.QueueSnapshot) []snapshotResponse {
	out := make([]snapshotResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, snapshotResponse{
			ID:           s.ID,
			InterestRate: s.InterestRate,
			TargetDebt:   s.TargetDebt,
			DebtInFront:  s.DebtInFront,
			TrovesAhead:  s.TrovesAhead,
			LowerBound:   s.LowerBound,
			CalculatedAt: s.CalculatedAt,
		})
	}
	return out
}

type watchResponse struct {
	CollateralType string          `json:"collateral_type"`
	TroveID        string          `json:"trove_id"`
	Label          string          `json:"label,omitempty"`
	AlertThreshold decimal.Decimal `json:"alert_threshold"`
	CreatedAt      time.Time       `json:"created_at,omitzero"`
}

func toWatchResponse(w domain.WatchedTrove) watchResponse {
	return watchResponse{
		CollateralType: string(w.CollateralType),
		TroveID:        w.TroveID,
		Label:          w.Label,
		AlertThreshold: w.AlertThreshold,
		CreatedAt:      w.CreatedAt,
	}
}
