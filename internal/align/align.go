// Package align validates and reorders an incoming feature record against
// the frozen training schema, producing the exact numeric vector the trained
// model expects. Alignment is deterministic and side-effect free: the same
// (record, schema) pair always yields a bit-identical vector.
package align

import (
	"math"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"

	"nova-ml/internal/encoding"
	"nova-ml/internal/mlerr"
	"nova-ml/internal/schema"
)

// Record is one loosely-typed feature payload as received from a caller:
// feature name to scalar (number, string, bool or null). It lives for a
// single alignment pass.
type Record map[string]interface{}

// DroppedHook is invoked with the names of request features that are not in
// the schema and were dropped.
type DroppedHook func(names []string)

// Aligner turns Records into model-ready vectors.
type Aligner struct {
	schema    *schema.Schema
	bank      *encoding.Bank
	onDropped DroppedHook
}

// New creates an aligner over a schema and its encoder bank.
func New(s *schema.Schema, bank *encoding.Bank) *Aligner {
	return &Aligner{schema: s, bank: bank}
}

// WithDroppedHook registers a callback for dropped extra features.
func (a *Aligner) WithDroppedHook(hook DroppedHook) *Aligner {
	a.onDropped = hook
	return a
}

// Align produces the ordered numeric vector for one record.
//
// Features the schema requires but the record lacks are a hard failure
// naming every missing feature; fabricating values for partial inference is
// never acceptable. Features the record carries but the schema does not know
// are dropped and logged so forward-compatible payloads keep working.
func (a *Aligner) Align(record Record) ([]float64, error) {
	order := a.schema.FeatureOrder()

	var missing []string
	for _, name := range order {
		if _, ok := record[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, mlerr.NewMissingFeatureError(missing)
	}

	var extra []string
	for name := range record {
		if _, ok := a.schema.FeatureIndex(name); !ok {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		log.Debug().Strs("features", extra).Msg("dropping request features not in schema")
		if a.onDropped != nil {
			a.onDropped(extra)
		}
	}

	vec := make([]float64, len(order))
	for i, name := range order {
		raw := record[name]
		if a.schema.IsCategorical(name) {
			code, err := a.bank.EncodeCategorical(name, raw)
			if err != nil {
				return nil, err
			}
			vec[i] = float64(code)
			continue
		}
		v, err := coerceNumeric(name, raw)
		if err != nil {
			return nil, err
		}
		vec[i] = v
	}

	return a.bank.Scale(vec), nil
}

// coerceNumeric interprets a raw scalar as a finite float64. Anything else,
// including null and non-numeric strings, is a per-request TypeCoercionError.
func coerceNumeric(feature string, raw interface{}) (float64, error) {
	var v float64
	switch x := raw.(type) {
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int64:
		v = float64(x)
	case bool:
		if x {
			v = 1
		}
	case string:
		parsed, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, mlerr.NewTypeCoercionError(feature, raw)
		}
		v = parsed
	default:
		return 0, mlerr.NewTypeCoercionError(feature, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, mlerr.NewTypeCoercionError(feature, raw)
	}
	return v, nil
}
