package redemption

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/troveview/internal/domain"
)

func TestAhead(t *testing.T) {
	a := domain.Trove{ID: "a", InterestRate: 3}
	c := domain.Trove{ID: "c", InterestRate: 3}
	b := domain.Trove{ID: "b", InterestRate: 5}

	assert.True(t, Ahead(a, c))
	assert.False(t, Ahead(c, a))
	assert.True(t, Ahead(c, b))
	assert.False(t, Ahead(a, a), "a trove is never ahead of itself")
}

func TestAhead_ByteWiseIDs(t *testing.T) {
	// IDs compare as strings, not numbers.
	ten := domain.Trove{ID: "10", InterestRate: 1}
	nine := domain.Trove{ID: "9", InterestRate: 1}
	assert.True(t, Ahead(ten, nine))
}

func TestSortByRedemptionOrder(t *testing.T) {
	troves := []domain.Trove{
		{ID: "b", InterestRate: 5},
		{ID: "a", InterestRate: 3},
		{ID: "c", InterestRate: 3},
		{ID: "d", InterestRate: 7},
	}
	SortByRedemptionOrder(troves)
	assert.Equal(t, []string{"a", "c", "b", "d"}, ids(troves))
}
