// Package filestore keeps one directory per calendar date holding that day's
// chart artifacts.
package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"chart-analysis-backend/internal/dateutil"
	"chart-analysis-backend/internal/shared/storage/object"
	"chart-analysis-backend/internal/shared/telemetry"
	"chart-analysis-backend/internal/shared/util"
)

// Artifact file names inside a partition.
const (
	OriginalChart  = "original_chart.png"
	AnnotatedChart = "annotated_chart.png"
	RawAnalysis    = "analysis.json"
)

// DefaultRetentionDays is used when Prune is called with a non-positive value.
const DefaultRetentionDays = 30

var (
	// ErrNotFound is returned when an artifact does not exist.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidKey is returned for malformed partition keys or file names.
	ErrInvalidKey = errors.New("invalid partition key")
)

// Partition describes one date directory.
type Partition struct {
	Date  string   `json:"date"`
	Files []string `json:"files"`
}

// Has reports whether the partition contains name.
func (p Partition) Has(name string) bool {
	for _, f := range p.Files {
		if f == name {
			return true
		}
	}
	return false
}

// PruneResult summarizes a retention pass.
type PruneResult struct {
	Removed  []string `json:"removed"`
	Archived []string `json:"archived"`
	Failed   []string `json:"failed"`
}

// Store maps partition keys to directories under root.
type Store struct {
	root    string
	loc     *time.Location
	now     func() time.Time
	archive object.ObjectStore
}

// Option configures a Store.
type Option func(*Store)

// WithLocation sets the timezone used to decide partition age.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithArchive copies partitions to store before pruning removes them.
func WithArchive(store object.ObjectStore) Option {
	return func(s *Store) { s.archive = store }
}

// New creates a Store rooted at root.
func New(root string, opts ...Option) *Store {
	s := &Store{root: root, loc: time.UTC, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the base directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory for a partition key without creating it.
func (s *Store) Dir(date string) (string, error) {
	if !dateutil.IsKey(date) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, date)
	}
	return filepath.Join(s.root, date), nil
}

// EnsureDir creates the partition directory if it does not exist.
func (s *Store) EnsureDir(date string) (string, error) {
	dir, err := s.Dir(date)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// Path returns the filesystem path of an artifact.
func (s *Store) Path(date, name string) (string, error) {
	dir, err := s.Dir(date)
	if err != nil {
		return "", err
	}
	clean, err := util.SanitizeFileName(name)
	if err != nil || clean != name {
		return "", fmt.Errorf("%w: file name %q", ErrInvalidKey, name)
	}
	return filepath.Join(dir, clean), nil
}

// Ref is the storage reference recorded for an artifact ("<date>/<name>").
func Ref(date, name string) string {
	return path.Join(date, name)
}

// Save writes data atomically under the partition and returns its path.
func (s *Store) Save(ctx context.Context, date, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := s.Path(date, name)
	if err != nil {
		return "", err
	}
	if _, err := s.EnsureDir(date); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", p, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chmod %s: %w", p, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename %s: %w", p, err)
	}
	return p, nil
}

// Read returns the bytes of an artifact.
func (s *Store) Read(date, name string) ([]byte, error) {
	p, err := s.Path(date, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, Ref(date, name))
		}
		return nil, err
	}
	return data, nil
}

// Exists reports whether an artifact is present.
func (s *Store) Exists(date, name string) bool {
	p, err := s.Path(date, name)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// List returns partitions sorted newest first. Directories whose names are
// not partition keys are ignored.
func (s *Store) List() ([]Partition, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.root, err)
	}

	var out []Partition
	for _, e := range entries {
		if !e.IsDir() || !dateutil.IsKey(e.Name()) {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, e.Name()))
		if err != nil {
			telemetry.Warn("filestore.list_partition_failed", map[string]any{"date": e.Name(), "error": err.Error()})
			continue
		}
		p := Partition{Date: e.Name(), Files: []string{}}
		for _, f := range files {
			if f.IsDir() || f.Name()[0] == '.' {
				continue
			}
			p.Files = append(p.Files, f.Name())
		}
		sort.Strings(p.Files)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

// Prune removes partitions older than days (DefaultRetentionDays when
// days <= 0). Failures on individual partitions are logged and skipped.
func (s *Store) Prune(ctx context.Context, days int) (PruneResult, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	result := PruneResult{Removed: []string{}, Archived: []string{}, Failed: []string{}}

	partitions, err := s.List()
	if err != nil {
		return result, err
	}
	now := s.now()
	for _, p := range partitions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		old, err := dateutil.OlderThan(p.Date, days, now, s.loc)
		if err != nil || !old {
			continue
		}
		if s.archive != nil {
			if err := s.archivePartition(ctx, p); err != nil {
				telemetry.Error("filestore.archive_failed", map[string]any{
					"date":    p.Date,
					"archive": s.archive.Name(),
					"error":   err.Error(),
				})
				result.Failed = append(result.Failed, p.Date)
				continue
			}
			result.Archived = append(result.Archived, p.Date)
		}
		if err := os.RemoveAll(filepath.Join(s.root, p.Date)); err != nil {
			telemetry.Error("filestore.prune_failed", map[string]any{"date": p.Date, "error": err.Error()})
			result.Failed = append(result.Failed, p.Date)
			continue
		}
		result.Removed = append(result.Removed, p.Date)
	}

	telemetry.Info("filestore.pruned", map[string]any{
		"retention_days": days,
		"removed":        len(result.Removed),
		"archived":       len(result.Archived),
		"failed":         len(result.Failed),
	})
	return result, nil
}

func (s *Store) archivePartition(ctx context.Context, p Partition) error {
	for _, name := range p.Files {
		data, err := s.Read(p.Date, name)
		if err != nil {
			return err
		}
		if _, err := s.archive.Put(ctx, Ref(p.Date, name), util.ContentTypeForName(name), bytes.NewReader(data)); err != nil {
			return fmt.Errorf("archive %s: %w", Ref(p.Date, name), err)
		}
	}
	return nil
}
