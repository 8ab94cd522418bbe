package utils

// CalculateRankScore weighs win rate against sample size so one lucky win
// does not outrank a consistent dueler.
func CalculateRankScore(wins, matchesPlayed int) float64 {
	if matchesPlayed == 0 {
		return 0
	}

	winRate := float64(wins) / float64(matchesPlayed)
	volumeBonus := float64(matchesPlayed) * 0.5

	return winRate*100 + volumeBonus
}
