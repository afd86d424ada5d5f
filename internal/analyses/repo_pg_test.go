package analyses

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func sampleRecord(t *testing.T) Record {
	t.Helper()
	layers, err := ParseLayers([]byte(samplePayload))
	if err != nil {
		t.Fatalf("ParseLayers: %v", err)
	}
	rec := BuildRecord("2025-11-30", layers)
	rec.OriginalChartURL = "/charts/2025-11-30/original_chart.png"
	return rec
}

func selectColumnNames() []string {
	return strings.Split(selectColumns(), ", ")
}

// storedRow renders rec the way Postgres would hand it back.
func storedRow(t *testing.T, id string, rec Record, created, updated time.Time) []driver.Value {
	t.Helper()
	vals, err := rec.values()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	asOf, err := time.Parse("2006-01-02", rec.AsOfDate)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	out := []driver.Value{id, asOf}
	for _, v := range vals[1:] {
		out = append(out, v)
	}
	return append(out, created, updated)
}

func TestPGRepoSaveUpsertsSingleStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	rec := sampleRecord(t)
	now := time.Date(2025, 11, 30, 22, 0, 0, 0, time.UTC)

	args := []driver.Value{sqlmock.AnyArg()}
	vals, err := rec.values()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	for _, v := range vals {
		args = append(args, v)
	}

	rows := sqlmock.NewRows(selectColumnNames()).AddRow(storedRow(t, "row-1", rec, now, now)...)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO chart_analyses")).
		WithArgs(args...).
		WillReturnRows(rows)

	got, err := repo.Save(context.Background(), rec)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got.ID != "row-1" || got.AsOfDate != "2025-11-30" {
		t.Fatalf("unexpected row identity: %s %s", got.ID, got.AsOfDate)
	}
	if p := got.Scenarios[0].Probability.Decimal.StringFixed(4); p != "0.5000" {
		t.Fatalf("scenario1 probability = %s", p)
	}
	if p := got.Scenarios[1].Probability.Decimal.StringFixed(4); p != "0.0800" {
		t.Fatalf("scenario2 probability = %s", p)
	}
	if got.Scenarios[2].Probability.Valid || got.Scenarios[3].Name != nil {
		t.Fatalf("unused slots should be null")
	}
	if got.ScenarioSummary[0] == nil || *got.ScenarioSummary[0] != "pullback likely" {
		t.Fatalf("summary not round-tripped: %v", got.ScenarioSummary)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoSaveBindsFixedScaleDecimals(t *testing.T) {
	vals, err := sampleRecord(t).values()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	idx := func(col string) int {
		for i, c := range dataColumns {
			if c == col {
				return i
			}
		}
		t.Fatalf("column %s not found", col)
		return -1
	}
	if got := vals[idx("scenario1_probability")]; got != "0.5000" {
		t.Fatalf("scenario1_probability = %v", got)
	}
	if got := vals[idx("scenario2_probability")]; got != "0.0800" {
		t.Fatalf("scenario2_probability = %v", got)
	}
	if got := vals[idx("scenario1_expected_move_min")]; got != "-10.00" {
		t.Fatalf("scenario1_expected_move_min = %v", got)
	}
	if got := vals[idx("scenario3_probability")]; got != nil {
		t.Fatalf("scenario3_probability = %v", got)
	}
	if got := vals[idx("annotated_chart_url")]; got != nil {
		t.Fatalf("annotated_chart_url = %v", got)
	}
}

func TestUpsertQueryKeepsAnnotatedURLOnNull(t *testing.T) {
	if !strings.Contains(upsertQuery, "ON CONFLICT (asof_date) DO UPDATE") {
		t.Fatalf("upsert query missing conflict clause:\n%s", upsertQuery)
	}
	want := "annotated_chart_url = COALESCE(EXCLUDED.annotated_chart_url, chart_analyses.annotated_chart_url)"
	if !strings.Contains(upsertQuery, want) {
		t.Fatalf("upsert query should coalesce annotated url:\n%s", upsertQuery)
	}
	if strings.Contains(upsertQuery, "asof_date = EXCLUDED.asof_date") {
		t.Fatalf("conflict key must not be reassigned")
	}
	if strings.Contains(upsertQuery, "created_at = ") {
		t.Fatalf("created_at must survive an update")
	}
}

func TestPGRepoGetLatestNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY asof_date DESC")).
		WillReturnError(sql.ErrNoRows)

	_, err = (&PGRepo{DB: db}).GetLatest(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoGetByDateWrapsStorageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery(regexp.QuoteMeta("WHERE asof_date = $1")).
		WithArgs("2025-11-30").
		WillReturnError(errors.New("connection reset"))

	_, err = (&PGRepo{DB: db}).GetByDate(context.Background(), "2025-11-30")
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestPGRepoSaveRequiresDate(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	_, err = (&PGRepo{DB: db}).Save(context.Background(), Record{})
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}
