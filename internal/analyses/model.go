package analyses

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ScenarioSlots is the fixed number of scenarios persisted per record.
const ScenarioSlots = 4

// Layers is the canonical form of the three-layer payload returned by the
// analysis service.
type Layers struct {
	Layer1 Layer1 `json:"layer1"`
	Layer2 Layer2 `json:"layer2"`
	Layer3 Layer3 `json:"layer3"`

	// Raw is the key-normalized top-level JSON object.
	Raw json.RawMessage `json:"-"`
}

// Layer1 is the trend summary.
type Layer1 struct {
	SecularTrend    *string `json:"secular_trend"`
	RegimeStatus    *string `json:"regime_status"`
	ChannelPosition *string `json:"channel_position"`
	BehaviorSummary *string `json:"behavior_summary"`
	Interpretation  *string `json:"interpretation"`
	RiskBias        *string `json:"risk_bias"`
	SummarySignal   *string `json:"summary_signal"`
}

// Layer2 is the scenario-probability breakdown.
type Layer2 struct {
	Layer2Meta
	ScenarioAnalysis ScenarioAnalysis `json:"scenario_analysis"`
}

// Layer2Meta holds the layer-2 fields that sit beside the scenarios.
type Layer2Meta struct {
	DominantDynamics *string `json:"dominant_dynamics"`
	OverallBias      *string `json:"overall_bias"`
	SecularSummary   *string `json:"secular_summary"`
}

// ScenarioAnalysis wraps the ordered scenario list.
type ScenarioAnalysis struct {
	Layer2Meta
	Scenarios []Scenario `json:"scenarios"`
}

// Scenario is one entry of layer2.scenario_analysis.scenarios, ordered by
// descending probability.
type Scenario struct {
	ID                    Text      `json:"id"`
	Name                  *string   `json:"name"`
	Probability           Number    `json:"probability"`
	PathSummary           *string   `json:"path_summary"`
	TechnicalLogic        *string   `json:"technical_logic"`
	TargetZoneDescription *string   `json:"target_zone_description"`
	ExpectedMovePercent   MoveRange `json:"expected_move_percent"`
	RiskProfile           *string   `json:"risk_profile"`
}

// Layer3 is the condensed narrative summary.
type Layer3 struct {
	ScenarioSummary []string `json:"scenario_summary"`
	PrimaryMessage  *string  `json:"primary_message"`
}

// ScenarioColumns is one flattened scenarioN_* column group.
type ScenarioColumns struct {
	ID                    *string
	Name                  *string
	Probability           decimal.NullDecimal
	PathSummary           *string
	TechnicalLogic        *string
	TargetZoneDescription *string
	ExpectedMoveMin       decimal.NullDecimal
	ExpectedMoveMax       decimal.NullDecimal
	RiskProfile           *string
}

// Record is the flat, persisted form of one day's analysis.
type Record struct {
	AsOfDate          string
	Layer1            Layer1
	Layer2Meta        Layer2Meta
	Scenarios         [ScenarioSlots]ScenarioColumns
	ScenarioSummary   [ScenarioSlots]*string
	PrimaryMessage    *string
	OriginalChartURL  string
	AnnotatedChartURL *string
	Raw               json.RawMessage
}

// Row is a stored Record with its identity and timestamps.
type Row struct {
	ID string
	Record
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Number is a lenient numeric field: it accepts JSON numbers, numeric
// strings and strings with a trailing "%". Anything else decodes as null
// rather than rejecting the payload.
type Number struct {
	decimal.NullDecimal
}

func (n *Number) UnmarshalJSON(data []byte) error {
	n.NullDecimal = decimal.NullDecimal{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = s
	}
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	raw = strings.TrimPrefix(raw, "+")
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	n.NullDecimal = decimal.NullDecimal{Decimal: d, Valid: true}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(n.Decimal.String()), nil
}

// NewNumber is a convenience constructor for tests and fixtures.
func NewNumber(v float64) Number {
	return Number{decimal.NullDecimal{Decimal: decimal.NewFromFloat(v), Valid: true}}
}

// Text is a lenient identifier field: strings are kept, numbers and booleans
// keep their literal text, and anything else decodes as null.
type Text struct {
	Value *string
}

func (t *Text) UnmarshalJSON(data []byte) error {
	t.Value = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	switch v := v.(type) {
	case string:
		t.Value = &v
	case float64, bool:
		s := string(data)
		t.Value = &s
	}
	return nil
}

func (t Text) MarshalJSON() ([]byte, error) {
	if t.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*t.Value)
}

// NewText wraps s as a present Text value.
func NewText(s string) Text {
	return Text{Value: &s}
}

// MoveRange is the expected-move pair. A value that is not a JSON array
// decodes as an empty range.
type MoveRange []Number

func (m *MoveRange) UnmarshalJSON(data []byte) error {
	*m = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil
	}
	var items []Number
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	*m = items
	return nil
}
