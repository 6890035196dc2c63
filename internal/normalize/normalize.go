// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

// Package normalize rescales backend-native raw scores onto interpretable,
// backend-independent scales.
//
// A State is computed once from the fit-time raw-score distribution and is
// paired 1:1 with the model that produced those scores; scoring then reuses
// the frozen statistics, so a record's normalized score is stable for the
// lifetime of a model.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Mode selects the reportable score scale.
type Mode string

const (
	// ModeStandardization maps scores into (0,1) via a robust sigmoid:
	// sigmoid((raw - median) / (IQR + eps)).
	ModeStandardization Mode = "standardization"

	// ModeZScore reports (raw - mean) / (std + eps).
	ModeZScore Mode = "zscore"

	// ModeRaw passes the backend score through unchanged.
	ModeRaw Mode = "raw"
)

// ErrUnknownMode marks an unrecognized normalization mode.
var ErrUnknownMode = errors.New("unknown normalization mode")

// eps keeps divisions finite for degenerate score distributions.
const eps = 1e-9

// ParseMode validates a wire-format mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeStandardization:
		return ModeStandardization, nil
	case ModeZScore:
		return ModeZScore, nil
	case ModeRaw:
		return ModeRaw, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// State holds the statistics needed to reproduce a normalization. Computed
// once per fit, immutable afterwards.
type State struct {
	Mode   Mode    `json:"mode"`
	Median float64 `json:"median,omitempty"`
	IQR    float64 `json:"iqr,omitempty"`
	Mean   float64 `json:"mean,omitempty"`
	Std    float64 `json:"std,omitempty"`
}

// Fit computes the normalization state from the fit-time raw scores.
func Fit(mode Mode, rawScores []float64) (State, error) {
	state := State{Mode: mode}
	switch mode {
	case ModeRaw:
		return state, nil
	case ModeStandardization:
		state.Median = quantile(rawScores, 0.5)
		state.IQR = quantile(rawScores, 0.75) - quantile(rawScores, 0.25)
		return state, nil
	case ModeZScore:
		state.Mean = mean(rawScores)
		state.Std = stddev(rawScores, state.Mean)
		return state, nil
	default:
		return State{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Apply transforms one raw score onto the state's scale.
func (s State) Apply(raw float64) float64 {
	switch s.Mode {
	case ModeStandardization:
		return sigmoid((raw - s.Median) / (s.IQR + eps))
	case ModeZScore:
		return (raw - s.Mean) / (s.Std + eps)
	default:
		return raw
	}
}

// ApplyAll transforms a batch of raw scores.
func (s State) ApplyAll(raw []float64) []float64 {
	out := make([]float64, len(raw))
	for i, r := range raw {
		out[i] = s.Apply(r)
	}
	return out
}

// DefaultThreshold returns the operational threshold for the mode.
// rawThreshold is the backend's fit-time threshold, used for ModeRaw where
// no universal default exists.
func (s State) DefaultThreshold(rawThreshold float64) float64 {
	switch s.Mode {
	case ModeStandardization:
		return 0.5
	case ModeZScore:
		// Roughly the 95th percentile under normality.
		return 2.0
	default:
		return rawThreshold
	}
}

// sigmoid maps any finite input into (0, 1). Float rounding saturates the
// analytic form to exactly 0 or 1 around |x| ~ 37, so the result is clamped
// to the nearest representable value inside the open interval.
func sigmoid(x float64) float64 {
	v := 1 / (1 + math.Exp(-x))
	switch {
	case v <= 0:
		return math.Nextafter(0, 1)
	case v >= 1:
		return math.Nextafter(1, 0)
	}
	return v
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation around m.
func stddev(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(idx)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
