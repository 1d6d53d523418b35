// Package redemption estimates a trove's position in the redemption queue:
// the debt of every open trove of the same collateral that would be redeemed
// against first.
package redemption

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/interest"
)

const (
	// DefaultPageSize is the listing page size used when Config.PageSize is unset.
	DefaultPageSize = 100
	// DefaultMaxPages caps a listing when Config.MaxPages is unset.
	DefaultMaxPages = 50
)

// Config tunes how the estimator pages through the trove source.
type Config struct {
	PageSize int
	// MaxPages caps a single listing. Hitting the cap while more data is
	// available marks results as a lower bound.
	MaxPages int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Estimator computes debt-in-front estimates from a TroveSource. It holds no
// mutable state and is safe for concurrent use. It never retries.
type Estimator struct {
	source   domain.TroveSource
	pageSize int
	maxPages int
	now      func() time.Time
	logger   *slog.Logger
}

// NewEstimator creates an Estimator reading from source.
func NewEstimator(source domain.TroveSource, cfg Config, logger *slog.Logger) *Estimator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Estimator{
		source:   source,
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		now:      cfg.Clock,
		logger:   logger.With(slog.String("component", "redemption_estimator")),
	}
}

// LowerRates is the result of FetchTrovesWithLowerRates.
type LowerRates struct {
	Troves     []domain.Trove
	Pages      int
	LowerBound bool
}

// FetchTrovesWithLowerRates returns the open troves sharing target's
// collateral with a strictly lower rate, in redemption order.
func (e *Estimator) FetchTrovesWithLowerRates(ctx context.Context, target domain.Trove) (LowerRates, error) {
	if err := validateTarget(target); err != nil {
		return LowerRates{}, err
	}
	list, err := e.fetchAll(ctx, target.CollateralType)
	if err != nil {
		return LowerRates{}, err
	}

	out := LowerRates{Pages: list.pages, LowerBound: list.lowerBound}
	for _, t := range list.troves {
		if t.ID != target.ID && t.InterestRate < target.InterestRate {
			out.Troves = append(out.Troves, t)
		}
	}
	SortByRedemptionOrder(out.Troves)
	return out, nil
}

// CalculateDebtInFront sums the entire debt of every trove redeemed before
// target. Each trove's debt is projected from its own last checkpoint; when
// includeAccruedInterest is false only recorded principal is counted.
func (e *Estimator) CalculateDebtInFront(ctx context.Context, target domain.Trove, includeAccruedInterest bool) (domain.DebtInFrontResult, error) {
	if err := validateTarget(target); err != nil {
		return domain.DebtInFrontResult{}, err
	}
	list, err := e.fetchAll(ctx, target.CollateralType)
	if err != nil {
		return domain.DebtInFrontResult{}, err
	}
	now := e.now()

	var ahead []domain.Trove
	var nextBehind *domain.Trove
	for i := range list.troves {
		t := list.troves[i]
		switch {
		case t.ID == target.ID:
		case Ahead(t, target):
			ahead = append(ahead, t)
		case nextBehind == nil || Ahead(t, *nextBehind):
			nextBehind = &list.troves[i]
		}
	}
	SortByRedemptionOrder(ahead)

	ranked, total, err := rank(ahead, now, includeAccruedInterest)
	if err != nil {
		return domain.DebtInFrontResult{}, fmt.Errorf("redemption: debt in front of %s/%s: %w", target.CollateralType, target.ID, err)
	}

	targetDebt, err := interest.Breakdown(target, now, includeAccruedInterest)
	if err != nil {
		return domain.DebtInFrontResult{}, fmt.Errorf("redemption: target debt: %w", err)
	}

	result := domain.DebtInFrontResult{
		CollateralType: target.CollateralType,
		TroveID:        target.ID,
		InterestRate:   target.InterestRate,
		TargetDebt:     targetDebt,
		DebtInFront:    total,
		TrovesAhead:    len(ranked),
		Ahead:          ranked,
		Scanned:        len(list.troves),
		Pages:          list.pages,
		LowerBound:     list.lowerBound,
		LastCalculated: now,
	}
	if nextBehind != nil {
		b, err := interest.Breakdown(*nextBehind, now, includeAccruedInterest)
		if err != nil {
			return domain.DebtInFrontResult{}, fmt.Errorf("redemption: next behind: %w", err)
		}
		result.NextBehind = &domain.RankedTrove{
			Trove:          *nextBehind,
			Debt:           b,
			Position:       len(ranked) + 2,
			CumulativeDebt: total.Add(targetDebt.EntireDebt),
		}
	}

	e.logger.DebugContext(ctx, "debt in front calculated",
		slog.String("collateral", string(target.CollateralType)),
		slog.String("trove_id", target.ID),
		slog.String("debt_in_front", total.String()),
		slog.Int("troves_ahead", len(ranked)),
		slog.Bool("lower_bound", list.lowerBound),
	)
	return result, nil
}

// RankQueue returns every open trove of collateral in redemption order with
// its live debt and the cumulative debt ahead of it.
func (e *Estimator) RankQueue(ctx context.Context, collateral domain.CollateralType) (domain.QueueView, error) {
	if collateral == "" {
		return domain.QueueView{}, fmt.Errorf("redemption: %w: collateral type is required", domain.ErrInvalidInput)
	}
	list, err := e.fetchAll(ctx, collateral)
	if err != nil {
		return domain.QueueView{}, err
	}
	now := e.now()

	SortByRedemptionOrder(list.troves)
	ranked, total, err := rank(list.troves, now, true)
	if err != nil {
		return domain.QueueView{}, fmt.Errorf("redemption: rank %s queue: %w", collateral, err)
	}
	return domain.QueueView{
		CollateralType: collateral,
		Troves:         ranked,
		TotalDebt:      total,
		Pages:          list.pages,
		LowerBound:     list.lowerBound,
		CalculatedAt:   now,
	}, nil
}

// rank annotates sorted troves with their live debt and running totals.
func rank(sorted []domain.Trove, now time.Time, includeAccrued bool) ([]domain.RankedTrove, decimal.Decimal, error) {
	out := make([]domain.RankedTrove, 0, len(sorted))
	total := decimal.Zero
	for i, t := range sorted {
		b, err := interest.Breakdown(t, now, includeAccrued)
		if err != nil {
			return nil, decimal.Zero, err
		}
		out = append(out, domain.RankedTrove{
			Trove:          t,
			Debt:           b,
			Position:       i + 1,
			CumulativeDebt: total,
		})
		total = total.Add(b.EntireDebt)
	}
	return out, total, nil
}

type listing struct {
	troves     []domain.Trove
	pages      int
	lowerBound bool
}

// fetchAll drains the source for collateral. It follows cursors when the
// source returns them and falls back to offsets while pages come back full.
func (e *Estimator) fetchAll(ctx context.Context, collateral domain.CollateralType) (listing, error) {
	var out listing
	seen := make(map[string]struct{})
	req := domain.PageRequest{Limit: e.pageSize}
	usesCursor := false

	for {
		if err := ctx.Err(); err != nil {
			return listing{}, fmt.Errorf("redemption: list %s troves: %w", collateral, err)
		}

		page, err := e.source.ListOpenTroves(ctx, collateral, req)
		if err != nil {
			return listing{}, fmt.Errorf("redemption: list %s troves (page %d): %w", collateral, out.pages+1, err)
		}
		out.pages++

		dups := 0
		for _, t := range page.Troves {
			if t.CollateralType != "" && t.CollateralType != collateral {
				continue
			}
			if _, dup := seen[t.ID]; dup {
				dups++
				continue
			}
			if math.IsNaN(t.InterestRate) || math.IsInf(t.InterestRate, 0) || t.InterestRate < 0 {
				return listing{}, fmt.Errorf("redemption: %w: trove %s has rate %v", domain.ErrInvalidInput, t.ID, t.InterestRate)
			}
			seen[t.ID] = struct{}{}
			out.troves = append(out.troves, t)
		}

		full := len(page.Troves) >= e.pageSize
		if full {
			e.logger.DebugContext(ctx, "trove page full, more may exist",
				slog.String("collateral", string(collateral)),
				slog.Int("page", out.pages),
				slog.Int("page_size", e.pageSize),
			)
		}
		if page.NextCursor != "" {
			usesCursor = true
		}

		// A page of nothing but repeats means the source ignored the cursor
		// or offset. Paging further would return the same rows.
		if len(page.Troves) > 0 && dups == len(page.Troves) {
			out.lowerBound = full
			e.logger.WarnContext(ctx, "trove source repeated a page, stopping listing",
				slog.String("collateral", string(collateral)),
				slog.Int("pages", out.pages),
				slog.Int("troves", len(out.troves)),
			)
			return out, nil
		}

		more := page.NextCursor != "" || page.HasMore || (full && !usesCursor)
		if !more || len(page.Troves) == 0 {
			return out, nil
		}
		if out.pages >= e.maxPages {
			out.lowerBound = true
			e.logger.WarnContext(ctx, "trove listing truncated, estimates are a lower bound",
				slog.String("collateral", string(collateral)),
				slog.Int("pages", out.pages),
				slog.Int("troves", len(out.troves)),
			)
			return out, nil
		}

		if page.NextCursor != "" {
			req.Cursor = page.NextCursor
		} else {
			req.Cursor = ""
			req.Offset += len(page.Troves)
		}
	}
}

func validateTarget(t domain.Trove) error {
	if t.ID == "" {
		return fmt.Errorf("redemption: %w: trove id is required", domain.ErrInvalidInput)
	}
	if t.CollateralType == "" {
		return fmt.Errorf("redemption: %w: collateral type is required", domain.ErrInvalidInput)
	}
	if math.IsNaN(t.InterestRate) || math.IsInf(t.InterestRate, 0) || t.InterestRate < 0 {
		return fmt.Errorf("redemption: %w: target rate %v", domain.ErrInvalidInput, t.InterestRate)
	}
	return nil
}
