package metrics

// Score accumulates classification quality over one dataset. Rates divide by
// Total, the dataset size, even when only part of it was seen.
type Score struct {
	Dataset string
	Total   int
	Seen    int
	Correct int
	LossSum float64
	Batches int
}

// Add folds one batch into the score.
func (s *Score) Add(seen, correct int, loss float64) {
	s.Seen += seen
	s.Correct += correct
	s.LossSum += loss
	s.Batches++
}

// Accuracy is Correct/Total in [0, 1].
func (s Score) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total)
}

// ErrorRate is 1 - Accuracy.
func (s Score) ErrorRate() float64 {
	return 1 - s.Accuracy()
}

// MeanLoss is LossSum/Total.
func (s Score) MeanLoss() float64 {
	if s.Total == 0 {
		return 0
	}
	return s.LossSum / float64(s.Total)
}
