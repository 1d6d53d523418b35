package troveapi

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/shopspring/decimal"
)

// debtDecimals is the fixed-point scale of raw debt strings.
const debtDecimals = 18

// listResponse is the envelope returned by GET /troves.
type listResponse struct {
	Data       []APITrove     `json:"data"`
	Pagination *APIPagination `json:"pagination,omitempty"`
}

// APIPagination is optional; servers that omit it are paged by offset.
type APIPagination struct {
	NextCursor string `json:"nextCursor"`
	HasMore    bool   `json:"hasMore"`
	Total      int    `json:"total"`
}

type troveResponse struct {
	Data APITrove `json:"data"`
}

type timelineResponse struct {
	Data []APITimelineEvent `json:"data"`
}

// APITrove is the upstream JSON representation of a trove.
type APITrove struct {
	ID             string `json:"id"`
	CollateralType string `json:"collateralType"`
	Status         string `json:"status"`
	Metrics        struct {
		InterestRate float64 `json:"interestRate"`
	} `json:"metrics"`
	Debt struct {
		Current    float64 `json:"current"`
		CurrentRaw string  `json:"currentRaw"`
	} `json:"debt"`
	Activity struct {
		LastActivityAt int64 `json:"lastActivityAt"`
	} `json:"activity"`
	Batch struct {
		IsMember      bool    `json:"isMember"`
		ManagementFee float64 `json:"managementFee"`
		Manager       string  `json:"manager"`
	} `json:"batch"`
}

// ToDomainTrove converts the API representation into a domain.Trove. The
// 18-decimal raw debt is authoritative; the float convenience value is only
// used when the raw string is missing.
func (a *APITrove) ToDomainTrove() (domain.Trove, error) {
	if a.ID == "" {
		return domain.Trove{}, fmt.Errorf("%w: trove without id", domain.ErrInvalidInput)
	}

	debt, err := parseRawAmount(a.Debt.CurrentRaw)
	if err != nil {
		return domain.Trove{}, fmt.Errorf("trove %s: %w", a.ID, err)
	}
	if a.Debt.CurrentRaw == "" {
		if math.IsNaN(a.Debt.Current) || math.IsInf(a.Debt.Current, 0) {
			return domain.Trove{}, fmt.Errorf("%w: trove %s debt is not finite", domain.ErrInvalidInput, a.ID)
		}
		debt = decimal.NewFromFloat(a.Debt.Current)
	}
	if debt.IsNegative() {
		return domain.Trove{}, fmt.Errorf("%w: trove %s has negative debt", domain.ErrInvalidInput, a.ID)
	}

	rate := a.Metrics.InterestRate
	if rate < 0 {
		return domain.Trove{}, fmt.Errorf("%w: trove %s has negative rate %v", domain.ErrInvalidInput, a.ID, rate)
	}

	t := domain.Trove{
		ID:             a.ID,
		CollateralType: domain.CollateralType(a.CollateralType),
		Status:         domain.TroveStatus(a.Status),
		RecordedDebt:   debt,
		InterestRate:   rate,
	}
	if t.Status == "" {
		t.Status = domain.TroveStatusOpen
	}
	if a.Activity.LastActivityAt > 0 {
		t.LastUpdate = time.Unix(a.Activity.LastActivityAt, 0).UTC()
	}
	if a.Batch.IsMember {
		if a.Batch.ManagementFee < 0 {
			return domain.Trove{}, fmt.Errorf("%w: trove %s has negative management fee", domain.ErrInvalidInput, a.ID)
		}
		t.Batch = &domain.BatchMembership{
			Manager:       a.Batch.Manager,
			ManagementFee: a.Batch.ManagementFee,
		}
	}
	return t, nil
}

// APITimelineEvent is one entry of GET /troves/{collateral}/{id}/timeline.
type APITimelineEvent struct {
	Type       string `json:"type"`
	TxHash     string `json:"txHash"`
	Operation  string `json:"operation"`
	Timestamp  int64  `json:"timestamp"`
	StateAfter struct {
		Debt         string  `json:"debt"`
		InterestRate float64 `json:"interestRate"`
	} `json:"stateAfter"`
	Batch *struct {
		Manager       string  `json:"manager"`
		ManagementFee float64 `json:"managementFee"`
	} `json:"batch,omitempty"`
}

const batchManagerType = "batch_manager"

// ToDomainEvent converts the API event into the matching TimelineEvent
// variant. Only "batch_manager" events are delegate rate changes.
func (a *APITimelineEvent) ToDomainEvent() (domain.TimelineEvent, error) {
	debt, err := parseRawAmount(a.StateAfter.Debt)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", a.TxHash, err)
	}
	state := domain.TroveState{Debt: debt, InterestRate: a.StateAfter.InterestRate}
	at := time.Unix(a.Timestamp, 0).UTC()

	if a.Type == batchManagerType {
		ev := domain.BatchManagerEvent{
			TxHash:     a.TxHash,
			Timestamp:  at,
			StateAfter: state,
		}
		if a.Batch != nil {
			ev.Manager = a.Batch.Manager
			ev.ManagementFee = a.Batch.ManagementFee
		}
		return ev, nil
	}
	return domain.OrdinaryEvent{
		TxHash:     a.TxHash,
		Operation:  a.Operation,
		Timestamp:  at,
		StateAfter: state,
	}, nil
}

// parseRawAmount parses an 18-decimal fixed-point integer string. An empty
// string is zero.
func parseRawAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: raw amount %q: %v", domain.ErrInvalidInput, raw, err)
	}
	return d.Shift(-debtDecimals), nil
}
