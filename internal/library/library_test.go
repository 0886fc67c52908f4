package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"roomsync/internal/metadata"
	"roomsync/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct{}

func (fakeExtractor) IsAudioFile(path string) bool {
	return strings.HasSuffix(path, ".mp3")
}

func (fakeExtractor) ExtractFromFile(path string) (models.Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Track{}, err
	}
	if string(data) == "corrupt" {
		return models.Track{}, errors.New("corrupt file")
	}
	return models.Track{ID: metadata.TrackID(path), Name: filepath.Base(path), Source: metadata.SourceLocal}, nil
}

type recordingLists struct {
	mu      sync.Mutex
	tracks  []models.Track
	removed []string
}

func (r *recordingLists) OverwriteListMusics(_ context.Context, _ string, tracks []models.Track) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append([]models.Track(nil), tracks...)
	return nil
}

func (r *recordingLists) AddMusics(_ context.Context, _ string, tracks []models.Track) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, tracks...)
	return nil
}

func (r *recordingLists) RemoveMusics(_ context.Context, _ string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, ids...)
	return nil
}

func (r *recordingLists) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.tracks))
	for i, t := range r.tracks {
		out[i] = t.Name
	}
	return out
}

func (r *recordingLists) removedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanOverwritesListInPathOrder(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "b.mp3"), "ok")
	write(t, filepath.Join(dir, "a.mp3"), "ok")
	write(t, filepath.Join(dir, "sub", "c.mp3"), "ok")
	write(t, filepath.Join(dir, "bad.mp3"), "corrupt")
	write(t, filepath.Join(dir, ".hidden.mp3"), "ok")
	write(t, filepath.Join(dir, "notes.txt"), "ok")

	lists := &recordingLists{}
	lib := New(dir, models.ListIDDefault, lists, fakeExtractor{}, Options{Workers: 3}, nil, quietLogger())

	n, err := lib.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a.mp3", "b.mp3", "c.mp3"}, lists.names())
}

func TestScanMissingRoot(t *testing.T) {
	lib := New(filepath.Join(t.TempDir(), "missing"), "default", &recordingLists{}, fakeExtractor{}, Options{}, nil, quietLogger())
	_, err := lib.Scan(context.Background())
	assert.Error(t, err)
}

func TestWatchAddsAndRemovesTracks(t *testing.T) {
	dir := t.TempDir()
	lists := &recordingLists{}
	lib := New(dir, "default", lists, fakeExtractor{}, Options{Settle: 20 * time.Millisecond}, nil, quietLogger())

	require.NoError(t, lib.Watch())
	require.NoError(t, lib.Watch())
	defer lib.Close()

	path := filepath.Join(dir, "new.mp3")
	write(t, path, "ok")
	require.Eventually(t, func() bool {
		return len(lists.names()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		ids := lists.removedIDs()
		return len(ids) == 1 && ids[0] == metadata.TrackID(path)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	lists := &recordingLists{}
	lib := New(dir, "default", lists, fakeExtractor{}, Options{Settle: 20 * time.Millisecond}, nil, quietLogger())
	require.NoError(t, lib.Watch())
	defer lib.Close()

	sub := filepath.Join(dir, "album")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// let the watcher pick up the directory before writing into it
	time.Sleep(100 * time.Millisecond)
	write(t, filepath.Join(sub, "track.mp3"), "ok")

	require.Eventually(t, func() bool {
		return len(lists.names()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	lib := New(t.TempDir(), "default", &recordingLists{}, fakeExtractor{}, Options{}, nil, quietLogger())
	require.NoError(t, lib.Close())
	require.NoError(t, lib.Watch())
	require.NoError(t, lib.Close())
	require.NoError(t, lib.Close())
}
