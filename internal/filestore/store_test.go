package filestore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2025, time.November, 30, 12, 0, 0, 0, time.UTC)
}

func TestSaveReadExists(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	require.False(t, store.Exists("2025-11-30", OriginalChart))

	p, err := store.Save(ctx, "2025-11-30", OriginalChart, []byte("png"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(store.Root(), "2025-11-30", OriginalChart), p)
	require.True(t, store.Exists("2025-11-30", OriginalChart))

	data, err := store.Read("2025-11-30", OriginalChart)
	require.NoError(t, err)
	require.Equal(t, "png", string(data))

	_, err = store.Save(ctx, "2025-11-30", OriginalChart, []byte("png2"))
	require.NoError(t, err)
	data, err = store.Read("2025-11-30", OriginalChart)
	require.NoError(t, err)
	require.Equal(t, "png2", string(data))
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.Read("2025-11-30", AnnotatedChart)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestInvalidKeysRejected(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	_, err := store.Save(ctx, "../etc", OriginalChart, []byte("x"))
	require.True(t, errors.Is(err, ErrInvalidKey))

	_, err = store.Save(ctx, "2025-11-30", "../escape.png", []byte("x"))
	require.True(t, errors.Is(err, ErrInvalidKey))

	_, err = store.Path("2025-11-30", "nested/file.png")
	require.True(t, errors.Is(err, ErrInvalidKey))
}

func TestListSortedDescendingAndSkipsForeignDirs(t *testing.T) {
	root := t.TempDir()
	store := New(root)
	ctx := context.Background()

	for _, d := range []string{"2025-11-28", "2025-11-30", "2025-11-29"} {
		_, err := store.Save(ctx, d, OriginalChart, []byte("x"))
		require.NoError(t, err)
	}
	_, err := store.Save(ctx, "2025-11-30", AnnotatedChart, []byte("y"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tmp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644))

	parts, err := store.List()
	require.NoError(t, err)
	require.Len(t, parts, 3)
	require.Equal(t, "2025-11-30", parts[0].Date)
	require.Equal(t, "2025-11-29", parts[1].Date)
	require.Equal(t, "2025-11-28", parts[2].Date)
	require.Equal(t, []string{AnnotatedChart, OriginalChart}, parts[0].Files)
	require.True(t, parts[0].Has(AnnotatedChart))
	require.False(t, parts[1].Has(AnnotatedChart))
}

func TestListMissingRootIsEmpty(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "missing"))
	parts, err := store.List()
	require.NoError(t, err)
	require.Empty(t, parts)
}

func TestPruneRemovesOldPartitions(t *testing.T) {
	store := New(t.TempDir(), WithClock(fixedClock))
	ctx := context.Background()
	for _, d := range []string{"2025-11-30", "2025-10-31", "2025-10-30", "2025-09-01"} {
		_, err := store.Save(ctx, d, OriginalChart, []byte("x"))
		require.NoError(t, err)
	}

	res, err := store.Prune(ctx, 30)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"2025-10-30", "2025-09-01"}, res.Removed)
	require.Empty(t, res.Failed)

	parts, err := store.List()
	require.NoError(t, err)
	require.Len(t, parts, 2)
}

type memArchive struct {
	objects map[string]string
	failOn  string
}

func (m *memArchive) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	if m.failOn != "" && strings.HasPrefix(key, m.failOn) {
		return 0, errors.New("archive unavailable")
	}
	data, _ := io.ReadAll(r)
	m.objects[key] = string(data)
	return int64(len(data)), nil
}

func (m *memArchive) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(m.objects[key])), nil
}

func (m *memArchive) Name() string { return "mem" }

func TestPruneArchivesBeforeRemovalAndSkipsOnFailure(t *testing.T) {
	archive := &memArchive{objects: map[string]string{}, failOn: "2025-09-01"}
	store := New(t.TempDir(), WithClock(fixedClock), WithArchive(archive))
	ctx := context.Background()
	for _, d := range []string{"2025-10-01", "2025-09-01"} {
		_, err := store.Save(ctx, d, OriginalChart, []byte("chart-"+d))
		require.NoError(t, err)
	}

	res, err := store.Prune(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, []string{"2025-10-01"}, res.Removed)
	require.Equal(t, []string{"2025-10-01"}, res.Archived)
	require.Equal(t, []string{"2025-09-01"}, res.Failed)
	require.Equal(t, "chart-2025-10-01", archive.objects["2025-10-01/original_chart.png"])
	require.True(t, store.Exists("2025-09-01", OriginalChart))
}
