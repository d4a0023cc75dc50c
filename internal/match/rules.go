package match

import (
	"math"

	"github.com/your-org/facepk/internal/models"
)

// Rules decide a match from the two scores and say how far the
// challenger's rating moves.
type Rules struct {
	Tolerance float64
	WinDelta  int
	LoseDelta int
	TieDelta  int
}

func DefaultRules() Rules {
	return Rules{Tolerance: 1e-5, WinDelta: 15, LoseDelta: -10, TieDelta: 3}
}

// Decide compares the challenger's score against the opponent's. Scores
// closer than Tolerance tie.
func (r Rules) Decide(challenger, opponent float64) (models.MatchResult, int) {
	switch {
	case math.Abs(challenger-opponent) < r.Tolerance:
		return models.ResultTie, r.TieDelta
	case challenger > opponent:
		return models.ResultWin, r.WinDelta
	default:
		return models.ResultLose, r.LoseDelta
	}
}
