package redemption

import (
	"cmp"
	"slices"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// Compare orders troves by redemption priority: lower rate first, ties
// broken by the byte-wise smaller ID. It returns a negative number when a is
// redeemed before b.
func Compare(a, b domain.Trove) int {
	if c := cmp.Compare(a.InterestRate, b.InterestRate); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Ahead reports whether a is redeemed against before b.
func Ahead(a, b domain.Trove) bool {
	return Compare(a, b) < 0
}

// SortByRedemptionOrder sorts troves in place, first-redeemed first.
func SortByRedemptionOrder(troves []domain.Trove) {
	slices.SortFunc(troves, Compare)
}
