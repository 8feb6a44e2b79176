package training

import (
	"gonum.org/v1/gonum/stat"
)

// standardScaler z-scores each column with statistics fitted on training data
type standardScaler struct {
	mean []float64
	std  []float64
}

func fitScaler(features [][]float64) *standardScaler {
	width := len(features[0])
	s := &standardScaler{
		mean: make([]float64, width),
		std:  make([]float64, width),
	}
	column := make([]float64, len(features))
	for j := 0; j < width; j++ {
		for i, row := range features {
			column[i] = row[j]
		}
		s.mean[j], s.std[j] = stat.MeanStdDev(column, nil)
		// constant columns (and single-row sets) only get centered
		if !(s.std[j] > 1e-12) {
			s.std[j] = 1
		}
	}
	return s
}

func (s *standardScaler) transform(features [][]float64) [][]float64 {
	out := make([][]float64, len(features))
	for i, row := range features {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.mean[j]) / s.std[j]
		}
		out[i] = scaled
	}
	return out
}

// targetScaler standardizes a single output column
type targetScaler struct {
	mean, std float64
}

func fitTargetScaler(targets []float64) targetScaler {
	mean, std := stat.MeanStdDev(targets, nil)
	if !(std > 1e-12) {
		std = 1
	}
	return targetScaler{mean: mean, std: std}
}

func (t targetScaler) scale(y float64) float64   { return (y - t.mean) / t.std }
func (t targetScaler) unscale(z float64) float64 { return z*t.std + t.mean }
