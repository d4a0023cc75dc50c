package match

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/facepk/internal/models"
)

func TestDecide(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		name       string
		challenger float64
		opponent   float64
		result     models.MatchResult
		delta      int
	}{
		{"higher wins", 80, 70, models.ResultWin, 15},
		{"lower loses", 70, 80, models.ResultLose, -10},
		{"equal ties", 75, 75, models.ResultTie, 3},
		{"inside tolerance ties", 75.000009, 75, models.ResultTie, 3},
		{"inside tolerance below ties", 74.999991, 75, models.ResultTie, 3},
		{"just outside tolerance wins", 75.00002, 75, models.ResultWin, 15},
		{"just outside tolerance loses", 74.99998, 75, models.ResultLose, -10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, delta := rules.Decide(tc.challenger, tc.opponent)
			assert.Equal(t, tc.result, result)
			assert.Equal(t, tc.delta, delta)
		})
	}
}

func TestDecideCustomRules(t *testing.T) {
	rules := Rules{Tolerance: 1, WinDelta: 32, LoseDelta: -16, TieDelta: 0}

	result, delta := rules.Decide(80.5, 80)
	assert.Equal(t, models.ResultTie, result)
	assert.Equal(t, 0, delta)

	result, delta = rules.Decide(60, 80)
	assert.Equal(t, models.ResultLose, result)
	assert.Equal(t, -16, delta)
}
