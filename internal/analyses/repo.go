package analyses

import "context"

// Repo persists analysis records, one per calendar date.
type Repo interface {
	// Save upserts rec keyed on AsOfDate. On conflict every data column is
	// overwritten and updated_at refreshed; id and created_at are kept.
	Save(ctx context.Context, rec Record) (Row, error)
	GetLatest(ctx context.Context) (Row, error)
	GetByDate(ctx context.Context, date string) (Row, error)
}

// UnavailableRepo stands in when the database could not be reached at
// startup so the rest of the service keeps serving.
type UnavailableRepo struct {
	Err error
}

func (r UnavailableRepo) Save(ctx context.Context, rec Record) (Row, error) {
	return Row{}, &StorageError{Op: "save", Err: r.Err}
}

func (r UnavailableRepo) GetLatest(ctx context.Context) (Row, error) {
	return Row{}, &StorageError{Op: "get latest", Err: r.Err}
}

func (r UnavailableRepo) GetByDate(ctx context.Context, date string) (Row, error) {
	return Row{}, &StorageError{Op: "get by date", Err: r.Err}
}

var _ Repo = UnavailableRepo{}
