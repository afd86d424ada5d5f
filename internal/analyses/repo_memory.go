package analyses

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repo for dev runs without a database and tests.
type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]Row
	now  func() time.Time
}

// NewMemoryRepo constructs an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]Row), now: time.Now}
}

// Save mirrors the Postgres upsert semantics.
func (r *MemoryRepo) Save(ctx context.Context, rec Record) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, &StorageError{Op: "save", Err: err}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	rec.ScenarioSummary = copySummary(rec.ScenarioSummary)
	for i := range rec.Scenarios {
		rec.Scenarios[i].Probability = round(rec.Scenarios[i].Probability, probabilityPlaces)
		rec.Scenarios[i].ExpectedMoveMin = round(rec.Scenarios[i].ExpectedMoveMin, movePlaces)
		rec.Scenarios[i].ExpectedMoveMax = round(rec.Scenarios[i].ExpectedMoveMax, movePlaces)
	}

	existing, ok := r.rows[rec.AsOfDate]
	if !ok {
		row := Row{ID: uuid.NewString(), Record: rec, CreatedAt: now, UpdatedAt: now}
		r.rows[rec.AsOfDate] = row
		return row, nil
	}
	if rec.AnnotatedChartURL == nil {
		rec.AnnotatedChartURL = existing.AnnotatedChartURL
	}
	existing.Record = rec
	existing.UpdatedAt = now
	r.rows[rec.AsOfDate] = existing
	return existing, nil
}

// GetLatest returns the row with the greatest date.
func (r *MemoryRepo) GetLatest(ctx context.Context) (Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		latest Row
		found  bool
	)
	for date, row := range r.rows {
		if !found || date > latest.AsOfDate {
			latest = row
			found = true
		}
	}
	if !found {
		return Row{}, ErrNotFound
	}
	return latest, nil
}

// GetByDate returns the row for date.
func (r *MemoryRepo) GetByDate(ctx context.Context, date string) (Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[date]
	if !ok {
		return Row{}, ErrNotFound
	}
	return row, nil
}

// Len reports the number of stored rows.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func copySummary(in [ScenarioSlots]*string) [ScenarioSlots]*string {
	var out [ScenarioSlots]*string
	for i, s := range in {
		if s != nil {
			v := *s
			out[i] = &v
		}
	}
	return out
}

var _ Repo = (*MemoryRepo)(nil)
