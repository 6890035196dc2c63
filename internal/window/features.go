// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package window

import (
	"errors"
	"fmt"
	"math"
)

// Stat names a rolling statistic.
type Stat string

const (
	StatMean Stat = "mean"
	StatStd  Stat = "std"
	StatMin  Stat = "min"
	StatMax  Stat = "max"
)

// ErrInvalidFeatureSpec marks a bad rolling/lag feature configuration.
var ErrInvalidFeatureSpec = errors.New("invalid feature specification")

// FeatureSpec declares the derived features appended to every base vector.
// A zero FeatureSpec is valid and appends nothing.
type FeatureSpec struct {
	// Windows lists rolling window sizes; each window contributes one
	// column per stat per base column.
	Windows []int

	// Stats lists the statistics computed per rolling window.
	// Defaults to mean and std when Windows is set and Stats is empty.
	Stats []Stat

	// Lags lists lag periods; each period contributes one column per base
	// column holding the value that many positions earlier.
	Lags []int
}

// Validate rejects non-positive windows and lags and unknown stats.
func (s FeatureSpec) Validate() error {
	for _, w := range s.Windows {
		if w <= 0 {
			return fmt.Errorf("%w: rolling window %d", ErrInvalidFeatureSpec, w)
		}
	}
	for _, p := range s.Lags {
		if p <= 0 {
			return fmt.Errorf("%w: lag period %d", ErrInvalidFeatureSpec, p)
		}
	}
	for _, st := range s.Stats {
		switch st {
		case StatMean, StatStd, StatMin, StatMax:
		default:
			return fmt.Errorf("%w: stat %q", ErrInvalidFeatureSpec, st)
		}
	}
	return nil
}

// stats returns the effective stat list.
func (s FeatureSpec) stats() []Stat {
	if len(s.Windows) > 0 && len(s.Stats) == 0 {
		return []Stat{StatMean, StatStd}
	}
	return s.Stats
}

// HistoryNeeded returns how many trailing rows (including the current one)
// are required to compute the spec's features exactly.
func (s FeatureSpec) HistoryNeeded() int {
	need := 1
	for _, w := range s.Windows {
		if w > need {
			need = w
		}
	}
	for _, p := range s.Lags {
		if p+1 > need {
			need = p + 1
		}
	}
	return need
}

// IsZero reports whether the spec derives no features.
func (s FeatureSpec) IsZero() bool {
	return len(s.Windows) == 0 && len(s.Lags) == 0
}

// Width returns the augmented vector width for the given base width.
func (s FeatureSpec) Width(baseWidth int) int {
	return baseWidth * (1 + len(s.Windows)*len(s.stats()) + len(s.Lags))
}

// Augment derives rolling and lag features for every row. Row i sees only
// rows 0..i, so feature values match what streaming computation would have
// produced at the time each row arrived. Positions with insufficient
// history use all available rows; undefined statistics fill with 0.0 so
// every output value is a finite float.
func (s FeatureSpec) Augment(rows [][]float64) [][]float64 {
	if s.IsZero() {
		return rows
	}
	out := make([][]float64, len(rows))
	for i := range rows {
		out[i] = s.augmentAt(rows, i)
	}
	return out
}

// AugmentLast derives features for the final row only. Used on the scoring
// hot path where earlier rows are already in the buffer.
func (s FeatureSpec) AugmentLast(rows [][]float64) []float64 {
	if len(rows) == 0 {
		return nil
	}
	if s.IsZero() {
		return rows[len(rows)-1]
	}
	return s.augmentAt(rows, len(rows)-1)
}

// augmentAt builds the augmented vector for row i against history rows[0..i].
func (s FeatureSpec) augmentAt(rows [][]float64, i int) []float64 {
	base := rows[i]
	stats := s.stats()
	out := make([]float64, 0, s.Width(len(base)))
	out = append(out, base...)

	for _, w := range s.Windows {
		start := i - w + 1
		if start < 0 {
			start = 0
		}
		for col := range base {
			for _, st := range stats {
				out = append(out, rollingStat(rows, start, i, col, st))
			}
		}
	}

	for _, p := range s.Lags {
		for col := range base {
			if j := i - p; j >= 0 {
				out = append(out, rows[j][col])
			} else {
				out = append(out, 0.0)
			}
		}
	}
	return out
}

// rollingStat computes one statistic over rows[start..end] for one column.
func rollingStat(rows [][]float64, start, end, col int, st Stat) float64 {
	n := end - start + 1
	switch st {
	case StatMean:
		sum := 0.0
		for i := start; i <= end; i++ {
			sum += rows[i][col]
		}
		return sum / float64(n)
	case StatStd:
		// Sample standard deviation; undefined for a single value.
		if n < 2 {
			return 0.0
		}
		sum, sumSq := 0.0, 0.0
		for i := start; i <= end; i++ {
			v := rows[i][col]
			sum += v
			sumSq += v * v
		}
		mean := sum / float64(n)
		variance := (sumSq - float64(n)*mean*mean) / float64(n-1)
		if variance < 0 {
			variance = 0
		}
		return math.Sqrt(variance)
	case StatMin:
		minV := rows[start][col]
		for i := start + 1; i <= end; i++ {
			if rows[i][col] < minV {
				minV = rows[i][col]
			}
		}
		return minV
	case StatMax:
		maxV := rows[start][col]
		for i := start + 1; i <= end; i++ {
			if rows[i][col] > maxV {
				maxV = rows[i][col]
			}
		}
		return maxV
	default:
		return 0.0
	}
}
