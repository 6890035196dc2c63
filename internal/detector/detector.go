// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

// Package detector implements the streaming detector: one encoder, one
// sliding-window buffer, and an active/shadow model pair driven by the
// collecting -> ready <-> retraining state machine.
//
// The active (model, normalization) pair is published through a single
// atomic pointer. Scoring reads that pointer without taking the detector
// lock; background retrains fit against an immutable buffer snapshot and
// install their result with one atomic swap, so readers always observe
// either the old or the new model in full.
package detector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/driftwatch/internal/backend"
	"github.com/tomtom215/driftwatch/internal/encoding"
	"github.com/tomtom215/driftwatch/internal/logging"
	"github.com/tomtom215/driftwatch/internal/metrics"
	"github.com/tomtom215/driftwatch/internal/normalize"
	"github.com/tomtom215/driftwatch/internal/window"
)

// Status is the lifecycle state of a detector.
type Status string

const (
	// StatusCollecting means fewer than min_samples records have arrived;
	// no model exists yet.
	StatusCollecting Status = "collecting"

	// StatusReady means an active model is installed and scoring.
	StatusReady Status = "ready"

	// StatusRetraining means a background fit is in flight; scoring
	// continues against the still-active model.
	StatusRetraining Status = "retraining"
)

// Config fixes a detector's parameters at creation time.
type Config struct {
	ID              string
	Backend         string
	MinSamples      int
	RetrainInterval int
	WindowSize      int
	Contamination   float64

	// Threshold overrides the normalization mode's default operational
	// threshold when non-nil.
	Threshold *float64

	Normalization normalize.Mode
	Features      window.FeatureSpec

	// Schema may be nil; the first ingested record then fixes it by
	// inference.
	Schema encoding.Schema
}

// Validate rejects invalid parameters. Values are never clamped.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("detector id must not be empty")
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %d", c.WindowSize)
	}
	if c.MinSamples <= 0 {
		return fmt.Errorf("min_samples must be positive, got %d", c.MinSamples)
	}
	if c.MinSamples > c.WindowSize {
		return fmt.Errorf("min_samples %d exceeds window_size %d", c.MinSamples, c.WindowSize)
	}
	if c.RetrainInterval <= 0 {
		return fmt.Errorf("retrain_interval must be positive, got %d", c.RetrainInterval)
	}
	if c.Contamination <= 0 || c.Contamination > 0.5 {
		return fmt.Errorf("%w: %g", backend.ErrInvalidContamination, c.Contamination)
	}
	if _, err := normalize.ParseMode(string(c.Normalization)); err != nil {
		return err
	}
	if err := c.Features.Validate(); err != nil {
		return err
	}
	return nil
}

// Result is the per-record outcome of an ingest call. Score fields are nil
// while the detector is collecting or when the record was rejected.
type Result struct {
	Index             int      `json:"index"`
	RawScore          *float64 `json:"raw_score"`
	NormalizedScore   *float64 `json:"normalized_score"`
	IsAnomaly         bool     `json:"is_anomaly"`
	ModelVersion      uint64   `json:"model_version"`
	SamplesUntilReady int      `json:"samples_until_ready"`

	// Error carries a per-record rejection (schema mismatch); the rest of
	// the batch is unaffected.
	Error string `json:"error,omitempty"`
}

// Stats is a point-in-time view of a detector for management endpoints.
type Stats struct {
	ID                  string         `json:"id"`
	Backend             string         `json:"backend"`
	Status              Status         `json:"status"`
	ModelVersion        uint64         `json:"model_version"`
	SamplesCollected    int            `json:"samples_collected"`
	SamplesSinceRetrain int            `json:"samples_since_retrain"`
	SamplesUntilReady   int            `json:"samples_until_ready"`
	BufferLen           int            `json:"buffer_len"`
	WindowSize          int            `json:"window_size"`
	Threshold           float64        `json:"threshold"`
	Contamination       float64        `json:"contamination"`
	Normalization       normalize.Mode `json:"normalization"`
	LastFitError        string         `json:"last_fit_error,omitempty"`
}

// activeModel bundles everything published by one successful fit.
// Immutable once stored.
type activeModel struct {
	model        backend.Model
	norm         normalize.State
	rawThreshold float64
	threshold    float64
	version      uint64
}

// Detector owns one stream's buffer, encoder, and model lifecycle.
type Detector struct {
	cfg     Config
	adapter backend.Adapter
	buffer  *window.Buffer

	active atomic.Pointer[activeModel]

	// mu serializes ingest bookkeeping, state transitions, and retrain
	// installs. It is NOT held while scoring or fitting.
	mu                  sync.Mutex
	encoder             *encoding.Encoder
	status              Status
	samplesCollected    int
	samplesSinceRetrain int
	version             uint64
	generation          uint64 // bumped by Reset/Close to invalidate in-flight fits
	retraining          bool
	lastFitErr          error

	// retrainWG lets Close and tests wait for in-flight fits.
	retrainWG sync.WaitGroup
}

// New creates a detector. The adapter must match cfg.Backend.
func New(cfg Config, adapter backend.Adapter) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	buf, err := window.NewBuffer(cfg.WindowSize)
	if err != nil {
		return nil, err
	}

	d := &Detector{
		cfg:     cfg,
		adapter: adapter,
		buffer:  buf,
		status:  StatusCollecting,
	}
	if cfg.Schema != nil {
		enc, err := encoding.NewEncoder(cfg.Schema)
		if err != nil {
			return nil, err
		}
		d.encoder = enc
	}
	return d, nil
}

// minSamples is the effective readiness bound: the configured minimum,
// raised to the backend's own floor if that is higher.
func (d *Detector) minSamples() int {
	if m := d.adapter.MinimumSamples(); m > d.cfg.MinSamples {
		return m
	}
	return d.cfg.MinSamples
}

// scoringJob captures everything needed to score one record outside the
// detector lock.
type scoringJob struct {
	index  int
	rows   [][]float64 // trailing history ending at the record's row
	active *activeModel
}

// Ingest appends records to the buffer in order and scores each one
// against the active model. Per-record encoding failures are isolated:
// the failing record gets an error result and the batch continues.
//
// The returned status reflects the detector after the whole batch.
func (d *Detector) Ingest(ctx context.Context, records []encoding.Record, thresholdOverride *float64) ([]Result, Status, error) {
	results := make([]Result, len(records))
	jobs := make([]scoringJob, 0, len(records))
	historyNeed := d.cfg.Features.HistoryNeeded()

	d.mu.Lock()
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			d.mu.Unlock()
			return nil, "", err
		}

		if d.encoder == nil {
			schema, err := encoding.InferSchema(record)
			if err != nil {
				results[i] = Result{Index: i, Error: err.Error(), SamplesUntilReady: d.samplesUntilReadyLocked()}
				metrics.RecordsRejected.WithLabelValues(d.cfg.ID, "schema").Inc()
				continue
			}
			enc, err := encoding.NewEncoder(schema)
			if err != nil {
				results[i] = Result{Index: i, Error: err.Error(), SamplesUntilReady: d.samplesUntilReadyLocked()}
				metrics.RecordsRejected.WithLabelValues(d.cfg.ID, "schema").Inc()
				continue
			}
			d.encoder = enc
		}

		vec, err := d.encoder.Transform(record)
		if err != nil {
			results[i] = Result{Index: i, Error: err.Error(), SamplesUntilReady: d.samplesUntilReadyLocked()}
			metrics.RecordsRejected.WithLabelValues(d.cfg.ID, "schema").Inc()
			continue
		}

		d.buffer.Append(vec)
		d.samplesCollected++
		metrics.RecordsIngested.WithLabelValues(d.cfg.ID).Inc()

		switch d.status {
		case StatusCollecting:
			if d.samplesCollected >= d.minSamples() {
				// First fit is the only one allowed to block the caller;
				// it is bounded by the small min_samples buffer.
				d.firstFitLocked(i, results)
			} else {
				results[i] = Result{Index: i, SamplesUntilReady: d.samplesUntilReadyLocked()}
			}
		case StatusReady, StatusRetraining:
			d.samplesSinceRetrain++
			jobs = append(jobs, scoringJob{
				index:  i,
				rows:   d.buffer.Tail(historyNeed),
				active: d.active.Load(),
			})
			d.maybeStartRetrainLocked()
		}
	}
	status := d.status
	metrics.BufferSize.WithLabelValues(d.cfg.ID).Set(float64(d.buffer.Len()))
	d.mu.Unlock()

	// Scoring happens outside the lock against the captured model pointer.
	for _, job := range jobs {
		results[job.index] = d.score(job, thresholdOverride)
	}
	return results, status, nil
}

// firstFitLocked fits the initial model synchronously from the full buffer
// snapshot. Called with mu held; the fit itself is small by construction.
func (d *Detector) firstFitLocked(index int, results []Result) {
	snapshot := d.buffer.All()
	am, err := d.fit(snapshot)
	if err != nil {
		// Degenerate cold-start data: stay collecting, retry when the
		// next record arrives.
		d.lastFitErr = err
		results[index] = Result{Index: index, SamplesUntilReady: 1}
		logging.Warn().Err(err).Str("detector", d.cfg.ID).Msg("initial fit failed, still collecting")
		return
	}

	d.version++
	am.version = d.version
	d.active.Store(am)
	d.status = StatusReady
	d.samplesSinceRetrain = 0
	d.lastFitErr = nil
	metrics.ModelVersion.WithLabelValues(d.cfg.ID).Set(float64(am.version))
	logging.Info().
		Str("detector", d.cfg.ID).
		Str("backend", d.cfg.Backend).
		Uint64("model_version", am.version).
		Int("samples", len(snapshot)).
		Msg("initial model fitted")

	// The record that triggered readiness is scored like any other.
	job := scoringJob{index: index, rows: d.buffer.Tail(d.cfg.Features.HistoryNeeded()), active: am}
	results[index] = d.score(job, nil)
}

// maybeStartRetrainLocked launches a background fit when due. Called with
// mu held.
func (d *Detector) maybeStartRetrainLocked() {
	if d.retraining || d.samplesSinceRetrain < d.cfg.RetrainInterval {
		return
	}
	d.retraining = true
	d.status = StatusRetraining

	snapshot := d.buffer.All()
	generation := d.generation

	d.retrainWG.Add(1)
	go d.retrain(snapshot, generation)
}

// retrain runs one background fit against an owned snapshot and installs
// the result via a single atomic swap. A fit that completes after a reset
// or delete (generation mismatch) is dropped, never installed.
func (d *Detector) retrain(snapshot [][]float64, generation uint64) {
	defer d.retrainWG.Done()

	am, err := d.fit(snapshot)

	d.mu.Lock()
	defer d.mu.Unlock()

	if generation != d.generation {
		metrics.RetrainsTotal.WithLabelValues(d.cfg.ID, "discarded").Inc()
		logging.Debug().Str("detector", d.cfg.ID).Msg("discarding stale background fit")
		return
	}

	d.retraining = false
	d.status = StatusReady
	d.samplesSinceRetrain = 0

	if err != nil {
		// Previous model stays active; the failure is surfaced once via
		// stats and the detector becomes eligible to retrain again.
		d.lastFitErr = err
		metrics.RetrainsTotal.WithLabelValues(d.cfg.ID, "failed").Inc()
		logging.Warn().Err(err).Str("detector", d.cfg.ID).Msg("background retrain failed, keeping previous model")
		return
	}

	d.version++
	am.version = d.version
	d.active.Store(am)
	d.lastFitErr = nil
	metrics.RetrainsTotal.WithLabelValues(d.cfg.ID, "success").Inc()
	metrics.ModelVersion.WithLabelValues(d.cfg.ID).Set(float64(am.version))
	logging.Info().
		Str("detector", d.cfg.ID).
		Uint64("model_version", am.version).
		Int("samples", len(snapshot)).
		Msg("model swapped")
}

// fit trains a model on a buffer snapshot and derives its paired
// normalization state and operational threshold. Holds no locks.
func (d *Detector) fit(snapshot [][]float64) (*activeModel, error) {
	start := time.Now()
	rows := d.cfg.Features.Augment(snapshot)

	model, rawThreshold, err := d.adapter.Fit(rows, d.cfg.Contamination)
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", d.cfg.Backend, err)
	}
	metrics.ObserveRetrain(d.cfg.Backend, start)

	scores, err := d.adapter.Score(rows, model)
	if err != nil {
		return nil, fmt.Errorf("score training snapshot: %w", err)
	}

	norm, err := normalize.Fit(d.cfg.Normalization, scores)
	if err != nil {
		return nil, err
	}

	threshold := norm.DefaultThreshold(rawThreshold)
	if d.cfg.Threshold != nil {
		threshold = *d.cfg.Threshold
	}

	return &activeModel{
		model:        model,
		norm:         norm,
		rawThreshold: rawThreshold,
		threshold:    threshold,
	}, nil
}

// score evaluates one record's augmented vector against the model captured
// at append time. ModelVersion reports the model that actually produced
// the score, even when a swap lands mid-batch.
func (d *Detector) score(job scoringJob, thresholdOverride *float64) Result {
	am := job.active
	if am == nil {
		return Result{Index: job.index, Error: "no active model"}
	}

	start := time.Now()
	vec := d.cfg.Features.AugmentLast(job.rows)
	raw, err := d.adapter.Score([][]float64{vec}, am.model)
	if err != nil {
		metrics.RecordsRejected.WithLabelValues(d.cfg.ID, "score").Inc()
		return Result{Index: job.index, ModelVersion: am.version, Error: err.Error()}
	}
	metrics.ObserveScoring(d.cfg.Backend, start)

	normalized := am.norm.Apply(raw[0])
	threshold := am.threshold
	if thresholdOverride != nil {
		threshold = *thresholdOverride
	}

	isAnomaly := normalized >= threshold
	if isAnomaly {
		metrics.AnomaliesDetected.WithLabelValues(d.cfg.ID, d.cfg.Backend).Inc()
	}

	rawScore := raw[0]
	return Result{
		Index:           job.index,
		RawScore:        &rawScore,
		NormalizedScore: &normalized,
		IsAnomaly:       isAnomaly,
		ModelVersion:    am.version,
	}
}

// samplesUntilReadyLocked must be called with mu held.
func (d *Detector) samplesUntilReadyLocked() int {
	if d.status != StatusCollecting {
		return 0
	}
	remaining := d.minSamples() - d.samplesCollected
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Stats returns a point-in-time view of the detector.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{
		ID:                  d.cfg.ID,
		Backend:             d.cfg.Backend,
		Status:              d.status,
		ModelVersion:        d.version,
		SamplesCollected:    d.samplesCollected,
		SamplesSinceRetrain: d.samplesSinceRetrain,
		SamplesUntilReady:   d.samplesUntilReadyLocked(),
		BufferLen:           d.buffer.Len(),
		WindowSize:          d.cfg.WindowSize,
		Contamination:       d.cfg.Contamination,
		Normalization:       d.cfg.Normalization,
	}
	if am := d.active.Load(); am != nil {
		s.Threshold = am.threshold
	} else if d.cfg.Threshold != nil {
		s.Threshold = *d.cfg.Threshold
	}
	if d.lastFitErr != nil {
		s.LastFitError = d.lastFitErr.Error()
	}
	return s
}

// Status returns the current lifecycle state.
func (d *Detector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// ModelVersion returns the version of the active model, 0 before the
// first fit.
func (d *Detector) ModelVersion() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// Config returns the detector's immutable configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Reset returns the detector to collecting: the buffer, counters, and
// active model are discarded, and any in-flight background fit is
// invalidated so a stale result is dropped rather than installed. The
// schema is re-fixed from the configured schema (or re-inferred when none
// was declared); model_version keeps counting upward across resets.
func (d *Detector) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.generation++
	d.retraining = false
	d.buffer.Clear()
	d.samplesCollected = 0
	d.samplesSinceRetrain = 0
	d.status = StatusCollecting
	d.active.Store(nil)
	d.lastFitErr = nil

	d.encoder = nil
	if d.cfg.Schema != nil {
		enc, err := encoding.NewEncoder(d.cfg.Schema)
		if err != nil {
			return err
		}
		d.encoder = enc
	}

	metrics.BufferSize.WithLabelValues(d.cfg.ID).Set(0)
	logging.Info().Str("detector", d.cfg.ID).Msg("detector reset")
	return nil
}

// Close invalidates in-flight fits and waits for them to drain. Called on
// delete.
func (d *Detector) Close() {
	d.mu.Lock()
	d.generation++
	d.mu.Unlock()
	d.retrainWG.Wait()
}

// WaitRetrain blocks until in-flight background fits finish. Test helper.
func (d *Detector) WaitRetrain() {
	d.retrainWG.Wait()
}
