// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package detector

import (
	"errors"
	"fmt"

	"github.com/tomtom215/driftwatch/internal/backend"
	"github.com/tomtom215/driftwatch/internal/encoding"
	"github.com/tomtom215/driftwatch/internal/normalize"
	"github.com/tomtom215/driftwatch/internal/window"
)

// ErrNoModel is returned when a snapshot is requested before the first fit.
var ErrNoModel = errors.New("detector has no active model")

// Snapshot is the durable form of a detector: its configuration plus the
// active model and everything needed to score with it after a restart.
// The sliding window itself is deliberately not persisted; a restored
// detector starts scoring immediately with the saved model and refills its
// buffer from live traffic.
type Snapshot struct {
	ID              string             `json:"id"`
	Backend         string             `json:"backend"`
	MinSamples      int                `json:"min_samples"`
	RetrainInterval int                `json:"retrain_interval"`
	WindowSize      int                `json:"window_size"`
	Contamination   float64            `json:"contamination"`
	Threshold       *float64           `json:"threshold,omitempty"`
	Normalization   normalize.Mode     `json:"normalization"`
	Features        window.FeatureSpec `json:"features"`

	ModelVersion uint64          `json:"model_version"`
	ModelData    []byte          `json:"model_data"`
	RawThreshold float64         `json:"raw_threshold"`
	NormState    normalize.State `json:"norm_state"`
	EncoderState []byte          `json:"encoder_state"`
}

// Snapshot captures the detector's active model and configuration.
// Fails with ErrNoModel while the detector is still collecting.
func (d *Detector) Snapshot() (*Snapshot, error) {
	am := d.active.Load()
	if am == nil {
		return nil, ErrNoModel
	}

	modelData, err := am.model.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal model: %w", err)
	}

	d.mu.Lock()
	encState, err := d.encoder.Serialize()
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("serialize encoder: %w", err)
	}

	return &Snapshot{
		ID:              d.cfg.ID,
		Backend:         d.cfg.Backend,
		MinSamples:      d.cfg.MinSamples,
		RetrainInterval: d.cfg.RetrainInterval,
		WindowSize:      d.cfg.WindowSize,
		Contamination:   d.cfg.Contamination,
		Threshold:       d.cfg.Threshold,
		Normalization:   d.cfg.Normalization,
		Features:        d.cfg.Features,
		ModelVersion:    am.version,
		ModelData:       modelData,
		RawThreshold:    am.rawThreshold,
		NormState:       am.norm,
		EncoderState:    encState,
	}, nil
}

// Restore rebuilds a ready detector from a snapshot. The restored detector
// scores with the saved model right away; retraining resumes once
// retrain_interval fresh records have arrived.
func Restore(snap *Snapshot, adapter backend.Adapter) (*Detector, error) {
	cfg := Config{
		ID:              snap.ID,
		Backend:         snap.Backend,
		MinSamples:      snap.MinSamples,
		RetrainInterval: snap.RetrainInterval,
		WindowSize:      snap.WindowSize,
		Contamination:   snap.Contamination,
		Threshold:       snap.Threshold,
		Normalization:   snap.Normalization,
		Features:        snap.Features,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	model, err := adapter.LoadModel(snap.ModelData)
	if err != nil {
		return nil, fmt.Errorf("load %s model: %w", snap.Backend, err)
	}

	enc, err := encoding.Deserialize(snap.EncoderState)
	if err != nil {
		return nil, err
	}

	buf, err := window.NewBuffer(cfg.WindowSize)
	if err != nil {
		return nil, err
	}

	threshold := snap.NormState.DefaultThreshold(snap.RawThreshold)
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}

	d := &Detector{
		cfg:     cfg,
		adapter: adapter,
		buffer:  buf,
		encoder: enc,
		status:  StatusReady,
		version: snap.ModelVersion,
	}
	d.active.Store(&activeModel{
		model:        model,
		norm:         snap.NormState,
		rawThreshold: snap.RawThreshold,
		threshold:    threshold,
		version:      snap.ModelVersion,
	})
	return d, nil
}
