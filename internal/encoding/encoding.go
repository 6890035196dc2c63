// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

// Package encoding maps heterogeneous record fields onto fixed-length
// numeric vectors.
//
// A Schema declares one encoding kind per field. The encoder owns the
// categorical dictionaries (label indices, one-hot slots, frequency counts);
// dictionaries only grow, so an index never changes meaning once assigned
// and the vector width is stable for the lifetime of a detector.
package encoding

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// Kind identifies a per-field encoding strategy.
type Kind string

const (
	// KindNumeric passes a numeric value through unchanged.
	KindNumeric Kind = "numeric"

	// KindHash maps a value to one of a fixed number of hash buckets.
	KindHash Kind = "hash"

	// KindLabel assigns growing integer indices to distinct values.
	KindLabel Kind = "label"

	// KindOneHot expands a value into a fixed block of indicator slots,
	// with a reserved slot for unseen/overflow values.
	KindOneHot Kind = "onehot"

	// KindBinary maps truthy/falsy values to 1.0/0.0.
	KindBinary Kind = "binary"

	// KindFrequency encodes a value as its observed relative frequency.
	KindFrequency Kind = "frequency"
)

// Schema maps field names to encoding kinds.
type Schema map[string]Kind

// Record is one raw input sample: field name to scalar value.
// Values arrive as JSON scalars: float64, string, bool, or nil.
type Record map[string]any

var (
	// ErrSchemaMismatch marks a record that does not fit the declared schema.
	ErrSchemaMismatch = errors.New("record does not match schema")

	// ErrUnknownKind marks an unrecognized encoding kind in a schema.
	ErrUnknownKind = errors.New("unknown encoding kind")

	// ErrEmptySchema marks a schema with no fields.
	ErrEmptySchema = errors.New("schema has no fields")
)

const (
	// defaultHashBuckets is the modulus for hash encoding.
	defaultHashBuckets = 64

	// defaultOneHotSlots is the number of distinct-value slots per one-hot
	// field, excluding the reserved unknown slot.
	defaultOneHotSlots = 16
)

// Encoder transforms Records into fixed-length numeric vectors.
// Safe for concurrent use; Transform grows dictionaries under a write lock.
type Encoder struct {
	mu sync.RWMutex

	schema Schema
	fields []string // sorted field names, fixes the vector layout
	width  int

	hashBuckets int
	oneHotSlots int

	labels map[string]map[string]int // label field -> value -> index
	slots  map[string]map[string]int // onehot field -> value -> slot
	counts map[string]map[string]int // frequency field -> value -> count
	totals map[string]int            // frequency field -> total observations
}

// NewEncoder creates an encoder for the given schema.
func NewEncoder(schema Schema) (*Encoder, error) {
	if len(schema) == 0 {
		return nil, ErrEmptySchema
	}

	fields := make([]string, 0, len(schema))
	for name, kind := range schema {
		switch kind {
		case KindNumeric, KindHash, KindLabel, KindOneHot, KindBinary, KindFrequency:
		default:
			return nil, fmt.Errorf("%w: field %q kind %q", ErrUnknownKind, name, kind)
		}
		fields = append(fields, name)
	}
	sort.Strings(fields)

	e := &Encoder{
		schema:      schema,
		fields:      fields,
		hashBuckets: defaultHashBuckets,
		oneHotSlots: defaultOneHotSlots,
		labels:      make(map[string]map[string]int),
		slots:       make(map[string]map[string]int),
		counts:      make(map[string]map[string]int),
		totals:      make(map[string]int),
	}
	e.width = e.computeWidth()
	return e, nil
}

// computeWidth returns the total vector width for the schema.
func (e *Encoder) computeWidth() int {
	width := 0
	for _, name := range e.fields {
		if e.schema[name] == KindOneHot {
			width += e.oneHotSlots + 1 // +1 reserved unknown slot
		} else {
			width++
		}
	}
	return width
}

// Width returns the fixed output vector length.
func (e *Encoder) Width() int {
	return e.width
}

// Schema returns a copy of the declared schema.
func (e *Encoder) Schema() Schema {
	out := make(Schema, len(e.schema))
	for k, v := range e.schema {
		out[k] = v
	}
	return out
}

// Fit primes the categorical dictionaries from sample records. Fit is
// optional; Transform learns the same dictionaries incrementally.
func (e *Encoder) Fit(records []Record) error {
	for _, record := range records {
		if _, err := e.Transform(record); err != nil {
			return err
		}
	}
	return nil
}

// Transform encodes one record into a fixed-length vector.
//
// A record containing a field absent from the schema is rejected with
// ErrSchemaMismatch. A declared field missing from the record encodes as
// its zero/unknown representation, so sparse records still produce
// complete vectors.
func (e *Encoder) Transform(record Record) ([]float64, error) {
	for name := range record {
		if _, ok := e.schema[name]; !ok {
			return nil, fmt.Errorf("%w: undeclared field %q", ErrSchemaMismatch, name)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vec := make([]float64, 0, e.width)
	for _, name := range e.fields {
		value, present := record[name]
		switch e.schema[name] {
		case KindNumeric:
			f, err := toFloat(value, present)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", ErrSchemaMismatch, name, err)
			}
			vec = append(vec, f)
		case KindHash:
			vec = append(vec, e.encodeHash(value, present))
		case KindLabel:
			vec = append(vec, e.encodeLabel(name, value, present))
		case KindOneHot:
			vec = append(vec, e.encodeOneHot(name, value, present)...)
		case KindBinary:
			vec = append(vec, encodeBinary(value, present))
		case KindFrequency:
			vec = append(vec, e.encodeFrequency(name, value, present))
		}
	}
	return vec, nil
}

// encodeHash is stateless: a pure function of the value.
func (e *Encoder) encodeHash(value any, present bool) float64 {
	if !present || value == nil {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(stringify(value)))
	return float64(h.Sum32() % uint32(e.hashBuckets))
}

// encodeLabel assigns indices starting at 1; 0 is the absent/unknown value.
func (e *Encoder) encodeLabel(field string, value any, present bool) float64 {
	if !present || value == nil {
		return 0
	}
	key := stringify(value)
	dict := e.labels[field]
	if dict == nil {
		dict = make(map[string]int)
		e.labels[field] = dict
	}
	idx, ok := dict[key]
	if !ok {
		idx = len(dict) + 1
		dict[key] = idx
	}
	return float64(idx)
}

// encodeOneHot emits oneHotSlots indicator slots plus one unknown slot at
// the end. Values beyond the slot budget share the unknown slot.
func (e *Encoder) encodeOneHot(field string, value any, present bool) []float64 {
	block := make([]float64, e.oneHotSlots+1)
	if !present || value == nil {
		return block
	}
	key := stringify(value)
	dict := e.slots[field]
	if dict == nil {
		dict = make(map[string]int)
		e.slots[field] = dict
	}
	slot, ok := dict[key]
	if !ok {
		if len(dict) < e.oneHotSlots {
			slot = len(dict)
			dict[key] = slot
		} else {
			slot = e.oneHotSlots // overflow -> unknown slot
		}
	}
	block[slot] = 1
	return block
}

// encodeFrequency returns the relative frequency of the value so far,
// counting the current observation.
func (e *Encoder) encodeFrequency(field string, value any, present bool) float64 {
	if !present || value == nil {
		return 0
	}
	key := stringify(value)
	dict := e.counts[field]
	if dict == nil {
		dict = make(map[string]int)
		e.counts[field] = dict
	}
	dict[key]++
	e.totals[field]++
	return float64(dict[key]) / float64(e.totals[field])
}

func encodeBinary(value any, present bool) float64 {
	if !present || value == nil {
		return 0
	}
	switch v := value.(type) {
	case bool:
		if v {
			return 1
		}
		return 0
	case float64:
		if v != 0 {
			return 1
		}
		return 0
	case int:
		if v != 0 {
			return 1
		}
		return 0
	case string:
		switch strings.ToLower(v) {
		case "true", "yes", "on", "1":
			return 1
		}
		return 0
	default:
		return 0
	}
}

// toFloat coerces a JSON scalar to float64. Missing fields encode as 0.0
// so downstream consumers always see complete vectors.
func toFloat(value any, present bool) (float64, error) {
	if !present || value == nil {
		return 0, nil
	}
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("non-finite numeric value")
		}
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", v)
		}
		return f, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", value)
	}
}

// stringify produces the dictionary key for a categorical value.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

/// State is the serializable encoder state: schema plus every dictionary
// needed to keep index assignment consistent across a save/load cycle.
type State struct {
	Schema      Schema                    `json:"schema"`
	HashBuckets int                       `json:"hash_buckets"`
	OneHotSlots int                       `json:"onehot_slots"`
	Labels      map[string]map[string]int `json:"labels,omitempty"`
	Slots       map[string]map[string]int `json:"slots,omitempty"`
	Counts      map[string]map[string]int `json:"counts,omitempty"`
	Totals      map[string]int            `json:"totals,omitempty"`
}

// Serialize captures the encoder state as JSON.
func (e *Encoder) Serialize() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return json.Marshal(State{
		Schema:      e.schema,
		HashBuckets: e.hashBuckets,
		OneHotSlots: e.oneHotSlots,
		Labels:      e.labels,
		Slots:       e.slots,
		Counts:      e.counts,
		Totals:      e.totals,
	})
}

// Deserialize restores an encoder from serialized state. A reloaded encoder
// continues assigning indices where the saved one left off.
func Deserialize(data []byte) (*Encoder, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode encoder state: %w", err)
	}

	e, err := NewEncoder(state.Schema)
	if err != nil {
		return nil, err
	}
	if state.HashBuckets > 0 {
		e.hashBuckets = state.HashBuckets
	}
	if state.OneHotSlots > 0 {
		e.oneHotSlots = state.OneHotSlots
	}
	if state.Labels != nil {
		e.labels = state.Labels
	}
	if state.Slots != nil {
		e.slots = state.Slots
	}
	if state.Counts != nil {
		e.counts = state.Counts
	}
	if state.Totals != nil {
		e.totals = state.Totals
	}
	e.width = e.computeWidth()
	return e, nil
}

// ParseSchema converts a wire-format schema (field -> kind string) into a
// validated Schema.
func ParseSchema(raw map[string]string) (Schema, error) {
	if len(raw) == 0 {
		return nil, ErrEmptySchema
	}
	schema := make(Schema, len(raw))
	for name, kind := range raw {
		k := Kind(strings.ToLower(kind))
		switch k {
		case KindNumeric, KindHash, KindLabel, KindOneHot, KindBinary, KindFrequency:
			schema[name] = k
		default:
			return nil, fmt.Errorf("%w: field %q kind %q", ErrUnknownKind, name, kind)
		}
	}
	return schema, nil
}

// InferSchema derives a schema from a sample record: numbers and booleans
// become numeric/binary, strings become label. Used when a detect request
// declares no schema.
func InferSchema(record Record) (Schema, error) {
	if len(record) == 0 {
		return nil, ErrEmptySchema
	}
	schema := make(Schema, len(record))
	for name, value := range record {
		switch value.(type) {
		case bool:
			schema[name] = KindBinary
		case string:
			schema[name] = KindLabel
		default:
			schema[name] = KindNumeric
		}
	}
	return schema, nil
}
