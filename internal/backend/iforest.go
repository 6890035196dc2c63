// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package backend

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// BackendIsolationForest is the registry name of the isolation-forest backend.
const BackendIsolationForest = "iforest"

// IsolationForest scores anomalies by how quickly random axis-aligned
// splits isolate a point: anomalies separate in short paths. Raw score is
// 2^(-avgPath/c(n)) in (0, 1), higher = more anomalous.
type IsolationForest struct {
	nTrees     int
	sampleSize int

	mu  sync.Mutex
	rng *rand.Rand
}

// IsolationForestOption configures the backend.
type IsolationForestOption func(*IsolationForest)

// WithTrees sets the ensemble size.
func WithTrees(n int) IsolationForestOption {
	return func(f *IsolationForest) { f.nTrees = n }
}

// WithSampleSize sets the per-tree subsample size.
func WithSampleSize(n int) IsolationForestOption {
	return func(f *IsolationForest) { f.sampleSize = n }
}

// WithSeed fixes the RNG for reproducible fits.
func WithSeed(seed int64) IsolationForestOption {
	return func(f *IsolationForest) { f.rng = rand.New(rand.NewSource(seed)) }
}

// NewIsolationForest creates the backend with standard parameters.
func NewIsolationForest(opts ...IsolationForestOption) *IsolationForest {
	f := &IsolationForest{
		nTrees:     100,
		sampleSize: 256,
		rng:        rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// iforestNode is one node of an isolation tree. Fields are exported for
// gob serialization.
type iforestNode struct {
	SplitFeature int
	SplitValue   float64
	Left         *iforestNode
	Right        *iforestNode
	Size         int
}

// iforestModel holds a trained forest.
type iforestModel struct {
	Trees       []*iforestNode
	AvgPath     float64
	VectorWidth int
}

// Backend implements Model.
func (m *iforestModel) Backend() string { return BackendIsolationForest }

// iforestWire strips the method set so gob encodes the struct fields
// instead of calling MarshalBinary back.
type iforestWire iforestModel

// MarshalBinary implements Model.
func (m *iforestModel) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode((*iforestWire)(m)); err != nil {
		return nil, fmt.Errorf("encode iforest model: %w", err)
	}
	return buf.Bytes(), nil
}

// Name implements Adapter.
func (f *IsolationForest) Name() string { return BackendIsolationForest }

// MinimumSamples implements Adapter.
func (f *IsolationForest) MinimumSamples() int { return 8 }

// Fit implements Adapter.
func (f *IsolationForest) Fit(vectors [][]float64, contamination float64) (Model, float64, error) {
	if err := checkFitInput(vectors, contamination, f.MinimumSamples()); err != nil {
		return nil, 0, err
	}

	nSamples := len(vectors)
	width := len(vectors[0])
	sampleSize := f.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	f.mu.Lock()
	trees := make([]*iforestNode, f.nTrees)
	for i := range trees {
		indices := f.rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = vectors[idx]
		}
		trees[i] = f.buildNode(sample, width, 0, maxDepth)
	}
	f.mu.Unlock()

	model := &iforestModel{
		Trees:       trees,
		AvgPath:     averagePathLength(float64(sampleSize)),
		VectorWidth: width,
	}

	scores, err := f.Score(vectors, model)
	if err != nil {
		return nil, 0, err
	}
	return model, thresholdFromScores(scores, contamination), nil
}

// buildNode recursively grows one isolation tree. Must be called with f.mu
// held (rng is not concurrency-safe).
func (f *IsolationForest) buildNode(data [][]float64, width, depth, maxDepth int) *iforestNode {
	n := len(data)
	if depth >= maxDepth || n <= 1 {
		return &iforestNode{Size: n}
	}

	feature := f.rng.Intn(width)
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	if minVal == maxVal {
		return &iforestNode{Size: n}
	}

	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &iforestNode{
		SplitFeature: feature,
		SplitValue:   splitValue,
		Left:         f.buildNode(left, width, depth+1, maxDepth),
		Right:        f.buildNode(right, width, depth+1, maxDepth),
	}
}

// Score implements Adapter.
func (f *IsolationForest) Score(vectors [][]float64, model Model) ([]float64, error) {
	m, ok := model.(*iforestModel)
	if !ok {
		return nil, fmt.Errorf("%w: %s given %s model", ErrModelMismatch, f.Name(), model.Backend())
	}

	scores := make([]float64, len(vectors))
	for i, vec := range vectors {
		if len(vec) != m.VectorWidth {
			return nil, fmt.Errorf("%w: vector width %d, model width %d", ErrModelMismatch, len(vec), m.VectorWidth)
		}
		var totalPath float64
		for _, root := range m.Trees {
			totalPath += pathLength(vec, root, 0)
		}
		avgPath := totalPath / float64(len(m.Trees))
		scores[i] = math.Pow(2, -avgPath/m.AvgPath)
	}
	return scores, nil
}

// LoadModel implements Adapter.
func (f *IsolationForest) LoadModel(data []byte) (Model, error) {
	var w iforestWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode iforest model: %w", err)
	}
	return (*iforestModel)(&w), nil
}

// pathLength walks a sample down one tree.
func pathLength(sample []float64, n *iforestNode, depth int) float64 {
	if n.Left == nil && n.Right == nil {
		return float64(depth) + averagePathLength(float64(n.Size))
	}
	if sample[n.SplitFeature] < n.SplitValue {
		return pathLength(sample, n.Left, depth+1)
	}
	return pathLength(sample, n.Right, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search: 2*H(n-1) - 2*(n-1)/n with H approximated via ln + the
// Euler-Mascheroni constant.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}
