// Package encoding replays the categorical and scaling transforms learned at
// training time against new feature values. Unseen categorical values are
// expected production traffic and are remapped to the table's fallback code
// rather than failing the request.
package encoding

import (
	"strconv"

	"github.com/rs/zerolog/log"

	"nova-ml/internal/mlerr"
	"nova-ml/internal/schema"
)

// UnseenHook is invoked whenever a categorical value misses the training
// table and the fallback code is used. Serving wires this to a Prometheus
// counter.
type UnseenHook func(feature, value string)

// Bank replays training-time transforms. It holds only shared read-only
// schema state and is safe for concurrent use.
type Bank struct {
	schema   *schema.Schema
	onUnseen UnseenHook
}

// NewBank creates an encoder bank bound to a schema.
func NewBank(s *schema.Schema) *Bank {
	return &Bank{schema: s}
}

// WithUnseenHook registers a callback for unseen-category fallbacks.
func (b *Bank) WithUnseenHook(hook UnseenHook) *Bank {
	b.onUnseen = hook
	return b
}

// EncodeCategorical maps a raw value to its training-time integer code. A
// value never seen during training resolves to the table's fallback code and
// emits a warning; it is deliberately not an error. A malformed table (empty
// for a declared categorical) fails with an EncodingError.
func (b *Bank) EncodeCategorical(feature string, raw interface{}) (int, error) {
	enc, ok := b.schema.EncodingFor(feature)
	if !ok {
		return 0, mlerr.NewEncodingError(feature, "no encoding table for declared categorical")
	}
	if len(enc.Codes) == 0 {
		return 0, mlerr.NewEncodingError(feature, "empty table")
	}

	value := coerceToString(raw)
	if code, ok := enc.Codes[value]; ok {
		return code, nil
	}

	log.Warn().
		Str("feature", feature).
		Str("value", value).
		Int("fallback_code", enc.Fallback).
		Msg("unseen categorical value, using fallback code")
	if b.onUnseen != nil {
		b.onUnseen(feature, value)
	}
	return enc.Fallback, nil
}

// Scale applies the stored per-feature standardization (x - mean) / scale.
// When no scaling was recorded this is the identity. The input slice is not
// modified.
func (b *Bank) Scale(vec []float64) []float64 {
	params := b.schema.ScalingParams()
	out := make([]float64, len(vec))
	if params == nil {
		copy(out, vec)
		return out
	}
	for i, v := range vec {
		out[i] = (v - params.Mean[i]) / params.Scale[i]
	}
	return out
}

// coerceToString normalizes a raw scalar into the string form used as the
// encoding table key. Numeric forms must match what the training pipeline
// wrote: integers without a decimal point, floats in shortest form.
func coerceToString(raw interface{}) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
