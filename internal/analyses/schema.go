package analyses

// Payload schema requested from the analysis service. Top-level keys may
// arrive as "layer_1", "Layer 1" or "layer1"; NormalizeKey folds them.
// {
//   "layer_1": {
//     "secular_trend": "string", "regime_status": "string",
//     "channel_position": "string", "behavior_summary": "string",
//     "interpretation": "string", "risk_bias": "string",
//     "summary_signal": "string"
//   },
//   "layer_2": {
//     "dominant_dynamics": "string", "overall_bias": "string",
//     "secular_summary": "string",
//     "scenario_analysis": {
//       "scenarios": [
//         {
//           "id": "1", "name": "string", "probability": 0.50,
//           "path_summary": "string", "technical_logic": "string",
//           "target_zone_description": "string",
//           "expected_move_percent": [-10, -18],
//           "risk_profile": "string"
//         }
//       ]
//     }
//   },
//   "layer_3": {
//     "scenario_summary": ["string", "string", "string", "string"],
//     "primary_message": "string"
//   }
// }

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	probabilityPlaces = 4
	movePlaces        = 2
)

var requiredLayers = []string{"layer1", "layer2", "layer3"}

// NormalizeKey folds key casing and spacing: spaces and underscores are
// removed and the result is lower-cased.
func NormalizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if r == ' ' || r == '_' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// ParseLayers decodes the analysis service's text into canonical Layers.
// Top-level keys are normalized before structural validation.
func ParseLayers(raw []byte) (Layers, error) {
	raw = stripCodeFence(raw)
	if len(raw) == 0 {
		return Layers{}, fmt.Errorf("%w: empty response", ErrMalformedPayload)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return Layers{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	// Keys are folded in sorted order so the first spelling wins on collision.
	normalized := make(map[string]json.RawMessage, len(top))
	for _, k := range slices.Sorted(maps.Keys(top)) {
		nk := NormalizeKey(k)
		if _, dup := normalized[nk]; dup {
			continue
		}
		normalized[nk] = top[k]
	}

	var missing []string
	for _, key := range requiredLayers {
		v, ok := normalized[key]
		if !ok || len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Layers{}, fmt.Errorf("%w: %s", ErrMissingLayer, strings.Join(missing, ", "))
	}

	var layers Layers
	if err := json.Unmarshal(normalized["layer1"], &layers.Layer1); err != nil {
		return Layers{}, fmt.Errorf("%w: layer1: %v", ErrMalformedPayload, err)
	}
	if err := json.Unmarshal(normalized["layer2"], &layers.Layer2); err != nil {
		return Layers{}, fmt.Errorf("%w: layer2: %v", ErrMalformedPayload, err)
	}
	if err := json.Unmarshal(normalized["layer3"], &layers.Layer3); err != nil {
		return Layers{}, fmt.Errorf("%w: layer3: %v", ErrMalformedPayload, err)
	}

	canonical, err := json.Marshal(normalized)
	if err != nil {
		return Layers{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	layers.Raw = canonical
	return layers, nil
}

// BuildRecord flattens Layers into a Record for date. Scenarios are padded or
// truncated to ScenarioSlots; the expected-move range is split positionally
// (index 0 -> min, index 1 -> max) without reordering by magnitude.
func BuildRecord(date string, layers Layers) Record {
	rec := Record{
		AsOfDate:       date,
		Layer1:         layers.Layer1,
		Layer2Meta:     mergeMeta(layers.Layer2.Layer2Meta, layers.Layer2.ScenarioAnalysis.Layer2Meta),
		PrimaryMessage: layers.Layer3.PrimaryMessage,
		Raw:            layers.Raw,
	}

	scenarios := layers.Layer2.ScenarioAnalysis.Scenarios
	for i := 0; i < ScenarioSlots && i < len(scenarios); i++ {
		rec.Scenarios[i] = flattenScenario(i, scenarios[i])
	}
	for i := 0; i < ScenarioSlots && i < len(layers.Layer3.ScenarioSummary); i++ {
		s := layers.Layer3.ScenarioSummary[i]
		rec.ScenarioSummary[i] = &s
	}
	return rec
}

// flattenScenario defaults a missing id to the 1-based slot number.
func flattenScenario(slot int, s Scenario) ScenarioColumns {
	id := s.ID.Value
	if id == nil {
		n := strconv.Itoa(slot + 1)
		id = &n
	}
	cols := ScenarioColumns{
		ID:                    id,
		Name:                  s.Name,
		Probability:           normalizeProbability(s.Probability.NullDecimal),
		PathSummary:           s.PathSummary,
		TechnicalLogic:        s.TechnicalLogic,
		TargetZoneDescription: s.TargetZoneDescription,
		RiskProfile:           s.RiskProfile,
	}
	if len(s.ExpectedMovePercent) > 0 {
		cols.ExpectedMoveMin = round(s.ExpectedMovePercent[0].NullDecimal, movePlaces)
	}
	if len(s.ExpectedMovePercent) > 1 {
		cols.ExpectedMoveMax = round(s.ExpectedMovePercent[1].NullDecimal, movePlaces)
	}
	return cols
}

var hundred = decimal.NewFromInt(100)

// normalizeProbability rounds to 4 places. Values reported on a 0-100 scale
// are rescaled to 0-1.
func normalizeProbability(p decimal.NullDecimal) decimal.NullDecimal {
	if !p.Valid {
		return p
	}
	if p.Decimal.GreaterThan(decimal.NewFromInt(1)) && p.Decimal.LessThanOrEqual(hundred) {
		p.Decimal = p.Decimal.Div(hundred)
	}
	return round(p, probabilityPlaces)
}

func round(d decimal.NullDecimal, places int32) decimal.NullDecimal {
	if !d.Valid {
		return d
	}
	return decimal.NullDecimal{Decimal: d.Decimal.Round(places), Valid: true}
}

func mergeMeta(primary, fallback Layer2Meta) Layer2Meta {
	out := primary
	if out.DominantDynamics == nil {
		out.DominantDynamics = fallback.DominantDynamics
	}
	if out.OverallBias == nil {
		out.OverallBias = fallback.OverallBias
	}
	if out.SecularSummary == nil {
		out.SecularSummary = fallback.SecularSummary
	}
	return out
}

func stripCodeFence(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(trimmed, []byte("```")) {
		return trimmed
	}
	trimmed = bytes.TrimPrefix(trimmed, []byte("```"))
	if nl := bytes.IndexByte(trimmed, '\n'); nl >= 0 {
		trimmed = trimmed[nl+1:]
	}
	trimmed = bytes.TrimSuffix(bytes.TrimSpace(trimmed), []byte("```"))
	return bytes.TrimSpace(trimmed)
}

// SummaryLines returns the non-empty layer-3 scenario summaries in order.
func (l Layer3) SummaryLines() []string {
	out := make([]string, 0, len(l.ScenarioSummary))
	for _, s := range l.ScenarioSummary {
		if strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
