// Driftwatch - Streaming Anomaly Detection Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftwatch

package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEncoderRejectsBadSchema(t *testing.T) {
	_, err := NewEncoder(Schema{})
	assert.ErrorIs(t, err, ErrEmptySchema)

	_, err = NewEncoder(Schema{"x": Kind("bogus")})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestNumericTransform(t *testing.T) {
	e, err := NewEncoder(Schema{"cpu": KindNumeric, "mem": KindNumeric})
	require.NoError(t, err)
	require.Equal(t, 2, e.Width())

	vec, err := e.Transform(Record{"cpu": 0.5, "mem": 1024.0})
	require.NoError(t, err)
	// Layout is alphabetical by field name.
	assert.Equal(t, []float64{0.5, 1024.0}, vec)
}

func TestTransformRejectsUndeclaredField(t *testing.T) {
	e, err := NewEncoder(Schema{"cpu": KindNumeric})
	require.NoError(t, err)

	_, err = e.Transform(Record{"cpu": 1.0, "disk": 2.0})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestMissingFieldEncodesAsZero(t *testing.T) {
	e, err := NewEncoder(Schema{"cpu": KindNumeric, "host": KindLabel})
	require.NoError(t, err)

	vec, err := e.Transform(Record{})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, vec)
}

func TestLabelDictionaryGrows(t *testing.T) {
	e, err := NewEncoder(Schema{"host": KindLabel})
	require.NoError(t, err)

	v1, err := e.Transform(Record{"host": "alpha"})
	require.NoError(t, err)
	v2, err := e.Transform(Record{"host": "beta"})
	require.NoError(t, err)
	v3, err := e.Transform(Record{"host": "alpha"})
	require.NoError(t, err)

	assert.Equal(t, v1, v3, "index for a seen value must never change")
	assert.NotEqual(t, v1[0], v2[0])
	assert.Greater(t, v1[0], 0.0, "0 is reserved for absent values")
}

func TestHashIsPureAndBounded(t *testing.T) {
	e, err := NewEncoder(Schema{"ua": KindHash})
	require.NoError(t, err)

	v1, err := e.Transform(Record{"ua": "curl/8.0"})
	require.NoError(t, err)
	v2, err := e.Transform(Record{"ua": "curl/8.0"})
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.GreaterOrEqual(t, v1[0], 0.0)
	assert.Less(t, v1[0], float64(defaultHashBuckets))
}

func TestOneHotFixedWidthWithUnknownSlot(t *testing.T) {
	e, err := NewEncoder(Schema{"proto": KindOneHot})
	require.NoError(t, err)
	require.Equal(t, defaultOneHotSlots+1, e.Width())

	vec, err := e.Transform(Record{"proto": "tcp"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, vec[0])

	// Exhaust the slot budget, then overflow into the unknown slot.
	for i := 0; i < defaultOneHotSlots+5; i++ {
		vec, err = e.Transform(Record{"proto": string(rune('a' + i))})
		require.NoError(t, err)
		require.Len(t, vec, e.Width(), "width must stay fixed")
	}
	assert.Equal(t, 1.0, vec[defaultOneHotSlots], "overflow values land in the unknown slot")
}

func TestBinaryEncoding(t *testing.T) {
	e, err := NewEncoder(Schema{"ok": KindBinary})
	require.NoError(t, err)

	for _, truthy := range []any{true, 1.0, "yes", "TRUE", "on"} {
		vec, err := e.Transform(Record{"ok": truthy})
		require.NoError(t, err)
		assert.Equal(t, 1.0, vec[0], "value %v", truthy)
	}
	for _, falsy := range []any{false, 0.0, "no", "off", nil} {
		vec, err := e.Transform(Record{"ok": falsy})
		require.NoError(t, err)
		assert.Equal(t, 0.0, vec[0], "value %v", falsy)
	}
}

func TestFrequencyEncoding(t *testing.T) {
	e, err := NewEncoder(Schema{"host": KindFrequency})
	require.NoError(t, err)

	v1, err := e.Transform(Record{"host": "a"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v1[0], 1e-9) // 1/1

	v2, err := e.Transform(Record{"host": "b"})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v2[0], 1e-9) // 1/2

	v3, err := e.Transform(Record{"host": "a"})
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, v3[0], 1e-9)
}

func TestNumericRejectsNonNumeric(t *testing.T) {
	e, err := NewEncoder(Schema{"cpu": KindNumeric})
	require.NoError(t, err)

	_, err = e.Transform(Record{"cpu": "not a number"})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestSerializeRoundTrip(t *testing.T) {
	e, err := NewEncoder(Schema{"host": KindLabel, "cpu": KindNumeric, "proto": KindOneHot})
	require.NoError(t, err)

	records := []Record{
		{"host": "alpha", "cpu": 1.0, "proto": "tcp"},
		{"host": "beta", "cpu": 2.0, "proto": "udp"},
	}
	require.NoError(t, e.Fit(records))

	data, err := e.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, e.Width(), restored.Width())

	// Seen values keep their indices, new values continue the sequence.
	for _, rec := range records {
		want, err := e.Transform(rec)
		require.NoError(t, err)
		got, err := restored.Transform(rec)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	wantNew, err := e.Transform(Record{"host": "gamma", "cpu": 3.0, "proto": "icmp"})
	require.NoError(t, err)
	gotNew, err := restored.Transform(Record{"host": "gamma", "cpu": 3.0, "proto": "icmp"})
	require.NoError(t, err)
	assert.Equal(t, wantNew, gotNew)
}

func TestParseSchema(t *testing.T) {
	schema, err := ParseSchema(map[string]string{"cpu": "numeric", "host": "LABEL"})
	require.NoError(t, err)
	assert.Equal(t, KindNumeric, schema["cpu"])
	assert.Equal(t, KindLabel, schema["host"])

	_, err = ParseSchema(map[string]string{"x": "embedding"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestInferSchema(t *testing.T) {
	schema, err := InferSchema(Record{"cpu": 1.5, "host": "a", "ok": true})
	require.NoError(t, err)
	assert.Equal(t, KindNumeric, schema["cpu"])
	assert.Equal(t, KindLabel, schema["host"])
	assert.Equal(t, KindBinary, schema["ok"])
}
