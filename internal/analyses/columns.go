package analyses

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"chart-analysis-backend/internal/dateutil"
)

const tableName = "chart_analyses"

var layer1Columns = []string{
	"layer1_secular_trend",
	"layer1_regime_status",
	"layer1_channel_position",
	"layer1_behavior_summary",
	"layer1_interpretation",
	"layer1_risk_bias",
	"layer1_summary_signal",
}

var layer2Columns = []string{
	"layer2_dominant_dynamics",
	"layer2_overall_bias",
	"layer2_secular_summary",
}

var scenarioFields = []string{
	"id",
	"name",
	"probability",
	"path_summary",
	"technical_logic",
	"target_zone_description",
	"expected_move_min",
	"expected_move_max",
	"risk_profile",
}

// dataColumns are the columns overwritten on conflict, in bind order.
var dataColumns = buildDataColumns()

func buildDataColumns() []string {
	cols := []string{"asof_date"}
	cols = append(cols, layer1Columns...)
	cols = append(cols, layer2Columns...)
	for i := 1; i <= ScenarioSlots; i++ {
		for _, f := range scenarioFields {
			cols = append(cols, scenarioColumn(i, f))
		}
	}
	return append(cols,
		"layer3_scenario_summary",
		"layer3_primary_message",
		"original_chart_url",
		"annotated_chart_url",
		"analysis_raw",
	)
}

func scenarioColumn(slot int, field string) string {
	return fmt.Sprintf("scenario%d_%s", slot, field)
}

// selectColumns is the read projection shared by every query.
func selectColumns() string {
	cols := append([]string{"id"}, dataColumns...)
	cols = append(cols, "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

// values returns the bind arguments for dataColumns.
func (r Record) values() ([]any, error) {
	args := make([]any, 0, len(dataColumns))
	args = append(args, r.AsOfDate)
	l1 := r.Layer1
	args = append(args,
		nullString(l1.SecularTrend),
		nullString(l1.RegimeStatus),
		nullString(l1.ChannelPosition),
		nullString(l1.BehaviorSummary),
		nullString(l1.Interpretation),
		nullString(l1.RiskBias),
		nullString(l1.SummarySignal),
	)
	args = append(args,
		nullString(r.Layer2Meta.DominantDynamics),
		nullString(r.Layer2Meta.OverallBias),
		nullString(r.Layer2Meta.SecularSummary),
	)
	for _, s := range r.Scenarios {
		args = append(args,
			nullString(s.ID),
			nullString(s.Name),
			fixed(s.Probability, probabilityPlaces),
			nullString(s.PathSummary),
			nullString(s.TechnicalLogic),
			nullString(s.TargetZoneDescription),
			fixed(s.ExpectedMoveMin, movePlaces),
			fixed(s.ExpectedMoveMax, movePlaces),
			nullString(s.RiskProfile),
		)
	}
	summary, err := json.Marshal(r.ScenarioSummary)
	if err != nil {
		return nil, err
	}
	raw := r.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	args = append(args,
		string(summary),
		nullString(r.PrimaryMessage),
		r.OriginalChartURL,
		nullString(r.AnnotatedChartURL),
		string(raw),
	)
	return args, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// fixed renders a decimal at the column's scale so the bound text matches
// what NUMERIC stores.
func fixed(d decimal.NullDecimal, places int32) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.StringFixed(places)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(sc rowScanner) (Row, error) {
	var (
		row       Row
		asOf      time.Time
		l1        [7]sql.NullString
		l2        [3]sql.NullString
		text      [ScenarioSlots][7]sql.NullString
		nums      [ScenarioSlots][3]decimal.NullDecimal
		summary   sql.NullString
		primary   sql.NullString
		annotated sql.NullString
		raw       sql.NullString
	)

	dest := []any{&row.ID, &asOf}
	for i := range l1 {
		dest = append(dest, &l1[i])
	}
	for i := range l2 {
		dest = append(dest, &l2[i])
	}
	for i := 0; i < ScenarioSlots; i++ {
		dest = append(dest,
			&text[i][0], // id
			&text[i][1], // name
			&nums[i][0], // probability
			&text[i][2], // path_summary
			&text[i][3], // technical_logic
			&text[i][4], // target_zone_description
			&nums[i][1], // expected_move_min
			&nums[i][2], // expected_move_max
			&text[i][5], // risk_profile
		)
	}
	dest = append(dest, &summary, &primary, &row.OriginalChartURL, &annotated, &raw, &row.CreatedAt, &row.UpdatedAt)

	if err := sc.Scan(dest...); err != nil {
		return Row{}, err
	}

	row.AsOfDate = dateutil.Key(asOf)
	row.Layer1 = Layer1{
		SecularTrend:    ptr(l1[0]),
		RegimeStatus:    ptr(l1[1]),
		ChannelPosition: ptr(l1[2]),
		BehaviorSummary: ptr(l1[3]),
		Interpretation:  ptr(l1[4]),
		RiskBias:        ptr(l1[5]),
		SummarySignal:   ptr(l1[6]),
	}
	row.Layer2Meta = Layer2Meta{
		DominantDynamics: ptr(l2[0]),
		OverallBias:      ptr(l2[1]),
		SecularSummary:   ptr(l2[2]),
	}
	for i := 0; i < ScenarioSlots; i++ {
		row.Scenarios[i] = ScenarioColumns{
			ID:                    ptr(text[i][0]),
			Name:                  ptr(text[i][1]),
			Probability:           round(nums[i][0], probabilityPlaces),
			PathSummary:           ptr(text[i][2]),
			TechnicalLogic:        ptr(text[i][3]),
			TargetZoneDescription: ptr(text[i][4]),
			ExpectedMoveMin:       round(nums[i][1], movePlaces),
			ExpectedMoveMax:       round(nums[i][2], movePlaces),
			RiskProfile:           ptr(text[i][5]),
		}
	}
	if summary.Valid && summary.String != "" {
		if err := json.Unmarshal([]byte(summary.String), &row.ScenarioSummary); err != nil {
			// keep empty
			row.ScenarioSummary = [ScenarioSlots]*string{}
		}
	}
	row.PrimaryMessage = ptr(primary)
	row.AnnotatedChartURL = ptr(annotated)
	if raw.Valid {
		row.Raw = json.RawMessage(raw.String)
	}
	row.CreatedAt = row.CreatedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()
	return row, nil
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// MarshalJSON renders the row with the same flat names as its columns.
func (r Row) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(dataColumns)+3)
	out["id"] = r.ID
	out["asof_date"] = r.AsOfDate
	l1 := []*string{
		r.Layer1.SecularTrend, r.Layer1.RegimeStatus, r.Layer1.ChannelPosition,
		r.Layer1.BehaviorSummary, r.Layer1.Interpretation, r.Layer1.RiskBias, r.Layer1.SummarySignal,
	}
	for i, col := range layer1Columns {
		out[col] = l1[i]
	}
	l2 := []*string{r.Layer2Meta.DominantDynamics, r.Layer2Meta.OverallBias, r.Layer2Meta.SecularSummary}
	for i, col := range layer2Columns {
		out[col] = l2[i]
	}
	for i, s := range r.Scenarios {
		slot := i + 1
		out[scenarioColumn(slot, "id")] = s.ID
		out[scenarioColumn(slot, "name")] = s.Name
		out[scenarioColumn(slot, "probability")] = number(s.Probability)
		out[scenarioColumn(slot, "path_summary")] = s.PathSummary
		out[scenarioColumn(slot, "technical_logic")] = s.TechnicalLogic
		out[scenarioColumn(slot, "target_zone_description")] = s.TargetZoneDescription
		out[scenarioColumn(slot, "expected_move_min")] = number(s.ExpectedMoveMin)
		out[scenarioColumn(slot, "expected_move_max")] = number(s.ExpectedMoveMax)
		out[scenarioColumn(slot, "risk_profile")] = s.RiskProfile
	}
	out["layer3_scenario_summary"] = r.ScenarioSummary
	out["layer3_primary_message"] = r.PrimaryMessage
	out["original_chart_url"] = r.OriginalChartURL
	out["annotated_chart_url"] = r.AnnotatedChartURL
	out["created_at"] = r.CreatedAt
	out["updated_at"] = r.UpdatedAt
	return json.Marshal(out)
}

func number(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}
