// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

// Package api provides the HTTP surface of Driftwatch: record ingestion
// plus detector management, routed with Chi.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tomtom215/driftwatch/internal/backend"
	"github.com/tomtom215/driftwatch/internal/config"
	"github.com/tomtom215/driftwatch/internal/detector"
	"github.com/tomtom215/driftwatch/internal/encoding"
	"github.com/tomtom215/driftwatch/internal/normalize"
	"github.com/tomtom215/driftwatch/internal/notify"
	"github.com/tomtom215/driftwatch/internal/registry"
	"github.com/tomtom215/driftwatch/internal/store"
	"github.com/tomtom215/driftwatch/internal/window"
)

// Handlers bundles the dependencies of every endpoint. Store and dispatcher
// are optional; nil disables persistence and alerting respectively.
type Handlers struct {
	cfg        *config.Config
	registry   *registry.Registry
	store      *store.Store
	dispatcher *notify.Dispatcher
	validate   *validator.Validate
	started    time.Time
}

// NewHandlers wires the endpoint dependencies.
func NewHandlers(cfg *config.Config, reg *registry.Registry, st *store.Store, disp *notify.Dispatcher) *Handlers {
	return &Handlers{
		cfg:        cfg,
		registry:   reg,
		store:      st,
		dispatcher: disp,
		validate:   validator.New(),
		started:    time.Now(),
	}
}

// DetectRequest is the body of POST /api/v1/detect. A detector is created
// on first use; the config fields only apply at that moment and are
// ignored for an existing detector. Threshold applies per request.
type DetectRequest struct {
	DetectorID string            `json:"detector_id" validate:"required,min=1,max=128"`
	Records    []encoding.Record `json:"records" validate:"required,min=1"`
	Threshold  *float64          `json:"threshold,omitempty"`

	// Creation-time parameters, all optional.
	Backend         string            `json:"backend,omitempty"`
	MinSamples      int               `json:"min_samples,omitempty" validate:"gte=0"`
	RetrainInterval int               `json:"retrain_interval,omitempty" validate:"gte=0"`
	WindowSize      int               `json:"window_size,omitempty" validate:"gte=0"`
	Contamination   float64           `json:"contamination,omitempty" validate:"gte=0,lte=0.5"`
	Normalization   string            `json:"normalization,omitempty" validate:"omitempty,oneof=standardization zscore raw"`
	Schema          map[string]string `json:"schema,omitempty"`
	RollingWindows  []int             `json:"rolling_windows,omitempty" validate:"omitempty,dive,gt=0"`
	RollingStats    []string          `json:"rolling_stats,omitempty" validate:"omitempty,dive,oneof=mean std min max"`
	LagPeriods      []int             `json:"lag_periods,omitempty" validate:"omitempty,dive,gt=0"`
}

// DetectResponse pairs the per-record results with the detector state
// after the batch.
type DetectResponse struct {
	DetectorID        string            `json:"detector_id"`
	Status            detector.Status   `json:"status"`
	ModelVersion      uint64            `json:"model_version"`
	SamplesCollected  int               `json:"samples_collected"`
	SamplesUntilReady int               `json:"samples_until_ready"`
	Threshold         float64           `json:"threshold"`
	Results           []detector.Result `json:"results"`
}

// detectorConfig merges server defaults with the request's creation-time
// parameters.
func (h *Handlers) detectorConfig(req *DetectRequest) (detector.Config, error) {
	defaults := h.cfg.Detection

	cfg := detector.Config{
		ID:              req.DetectorID,
		Backend:         defaults.DefaultBackend,
		MinSamples:      defaults.MinSamples,
		RetrainInterval: defaults.RetrainInterval,
		WindowSize:      defaults.WindowSize,
		Contamination:   defaults.Contamination,
		Normalization:   normalize.Mode(defaults.Normalization),
	}
	if req.Backend != "" {
		cfg.Backend = req.Backend
	}
	if req.MinSamples > 0 {
		cfg.MinSamples = req.MinSamples
	}
	if req.RetrainInterval > 0 {
		cfg.RetrainInterval = req.RetrainInterval
	}
	if req.WindowSize > 0 {
		cfg.WindowSize = req.WindowSize
	}
	if req.Contamination > 0 {
		cfg.Contamination = req.Contamination
	}
	if req.Normalization != "" {
		mode, err := normalize.ParseMode(req.Normalization)
		if err != nil {
			return detector.Config{}, err
		}
		cfg.Normalization = mode
	}
	if req.Schema != nil {
		schema, err := encoding.ParseSchema(req.Schema)
		if err != nil {
			return detector.Config{}, err
		}
		cfg.Schema = schema
	}
	if len(req.RollingWindows) > 0 || len(req.LagPeriods) > 0 {
		stats := make([]window.Stat, 0, len(req.RollingStats))
		for _, s := range req.RollingStats {
			stats = append(stats, window.Stat(s))
		}
		cfg.Features = window.FeatureSpec{
			Windows: req.RollingWindows,
			Stats:   stats,
			Lags:    req.LagPeriods,
		}
	}
	return cfg, nil
}

// Detect handles POST /api/v1/detect.
func (h *Handlers) Detect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed JSON body", err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if max := h.cfg.API.MaxBatchSize; max > 0 && len(req.Records) > max {
		respondError(w, http.StatusRequestEntityTooLarge, "LIMIT_EXCEEDED",
			"batch exceeds max_batch_size", nil)
		return
	}

	d, err := h.registry.Get(req.DetectorID)
	if errors.Is(err, registry.ErrNotFound) {
		d, err = h.createDetector(&req)
	}
	if err != nil {
		h.respondDetectorError(w, err)
		return
	}

	results, status, err := d.Ingest(r.Context(), req.Records, req.Threshold)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "ingest failed", err)
		return
	}

	if h.dispatcher != nil {
		h.enqueueAlerts(d, results)
	}

	stats := d.Stats()
	threshold := stats.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	respondOK(w, http.StatusOK, &DetectResponse{
		DetectorID:        req.DetectorID,
		Status:            status,
		ModelVersion:      stats.ModelVersion,
		SamplesCollected:  stats.SamplesCollected,
		SamplesUntilReady: stats.SamplesUntilReady,
		Threshold:         threshold,
		Results:           results,
	})
}

// createDetector creates the detector named by a detect request, tolerating
// a concurrent create of the same ID.
func (h *Handlers) createDetector(req *DetectRequest) (*detector.Detector, error) {
	cfg, err := h.detectorConfig(req)
	if err != nil {
		return nil, err
	}

	d, err := h.registry.Create(cfg)
	if errors.Is(err, registry.ErrAlreadyExists) {
		return h.registry.Get(req.DetectorID)
	}
	return d, err
}

func (h *Handlers) enqueueAlerts(d *detector.Detector, results []detector.Result) {
	cfg := d.Config()
	stats := d.Stats()
	for _, res := range results {
		if !res.IsAnomaly || res.RawScore == nil {
			continue
		}
		h.dispatcher.Enqueue(notify.NewAlert(
			cfg.ID, cfg.Backend,
			*res.RawScore, *res.NormalizedScore,
			stats.Threshold, res.ModelVersion,
		))
	}
}

// ListDetectors handles GET /api/v1/detectors.
func (h *Handlers) ListDetectors(w http.ResponseWriter, r *http.Request) {
	respondOK(w, http.StatusOK, map[string]interface{}{
		"detectors": h.registry.List(),
		"count":     h.registry.Len(),
	})
}

// GetDetector handles GET /api/v1/detectors/{id}.
func (h *Handlers) GetDetector(w http.ResponseWriter, r *http.Request) {
	d, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.respondDetectorError(w, err)
		return
	}
	respondOK(w, http.StatusOK, d.Stats())
}

// ResetDetector handles POST /api/v1/detectors/{id}/reset.
func (h *Handlers) ResetDetector(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.Reset(id); err != nil {
		h.respondDetectorError(w, err)
		return
	}

	d, err := h.registry.Get(id)
	if err != nil {
		h.respondDetectorError(w, err)
		return
	}
	respondOK(w, http.StatusOK, d.Stats())
}

// DeleteDetector handles DELETE /api/v1/detectors/{id}. The persisted
// snapshot, if any, is removed as well.
func (h *Handlers) DeleteDetector(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.Delete(id); err != nil {
		h.respondDetectorError(w, err)
		return
	}

	if h.store != nil {
		if err := h.store.Delete(r.Context(), id); err != nil {
			respondError(w, http.StatusInternalServerError, "STORAGE_ERROR",
				"detector deleted but snapshot removal failed", err)
			return
		}
	}
	respondOK(w, http.StatusOK, map[string]string{"deleted": id})
}

// SaveDetector handles POST /api/v1/detectors/{id}/save: it persists the
// detector's active model so it survives a restart.
func (h *Handlers) SaveDetector(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "STORAGE_ERROR",
			"snapshot persistence is disabled", nil)
		return
	}

	d, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.respondDetectorError(w, err)
		return
	}

	snap, err := d.Snapshot()
	if errors.Is(err, detector.ErrNoModel) {
		respondError(w, http.StatusConflict, "VALIDATION_ERROR",
			"detector has no fitted model to save", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "snapshot failed", err)
		return
	}

	if err := h.store.Save(r.Context(), snap); err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "snapshot save failed", err)
		return
	}

	respondOK(w, http.StatusOK, map[string]interface{}{
		"saved":         snap.ID,
		"model_version": snap.ModelVersion,
	})
}

// BackendInfo describes one scoring backend.
type BackendInfo struct {
	Name       string `json:"name"`
	MinSamples int    `json:"min_samples"`
}

// ListBackends handles GET /api/v1/backends.
func (h *Handlers) ListBackends(w http.ResponseWriter, r *http.Request) {
	backends := h.registry.Backends()
	infos := make([]BackendInfo, 0)
	for _, name := range backends.Names() {
		a, err := backends.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, BackendInfo{Name: name, MinSamples: a.MinimumSamples()})
	}
	respondOK(w, http.StatusOK, map[string]interface{}{
		"backends": infos,
		"default":  h.cfg.Detection.DefaultBackend,
	})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondOK(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"detectors":      h.registry.Len(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// respondDetectorError maps registry and config errors to HTTP statuses.
func (h *Handlers) respondDetectorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, registry.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error(), nil)
	case errors.Is(err, registry.ErrTooManyDetectors):
		respondError(w, http.StatusTooManyRequests, "LIMIT_EXCEEDED", err.Error(), nil)
	case errors.Is(err, backend.ErrUnknownBackend),
		errors.Is(err, backend.ErrInvalidContamination),
		errors.Is(err, normalize.ErrUnknownMode),
		errors.Is(err, encoding.ErrUnknownKind),
		errors.Is(err, window.ErrInvalidFeatureSpec):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	default:
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
	}
}
