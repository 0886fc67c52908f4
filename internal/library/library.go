// Package library imports a music folder into a local list and keeps the list
// in step with the folder while it is watched.
package library

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"roomsync/internal/metadata"
	"roomsync/pkg/models"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultSettle is how long a new file is left alone before it is read
const DefaultSettle = 500 * time.Millisecond

// Lists is the list storage imported tracks land in
type Lists interface {
	OverwriteListMusics(ctx context.Context, listID string, tracks []models.Track) error
	AddMusics(ctx context.Context, listID string, tracks []models.Track) error
	RemoveMusics(ctx context.Context, listID string, trackIDs []string) error
}

// Extractor reads track descriptors from audio files
type Extractor interface {
	ExtractFromFile(filePath string) (models.Track, error)
	IsAudioFile(filePath string) bool
}

// Options tune a Library
type Options struct {
	Workers int
	Settle  time.Duration
}

// Library mirrors one folder into one list
type Library struct {
	root      string
	listID    string
	lists     Lists
	extractor Extractor
	workers   int
	settle    time.Duration
	clock     clock.Clock
	logger    *logrus.Entry

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates a library for root feeding listID
func New(root, listID string, lists Lists, extractor Extractor, opts Options, clk clock.Clock, logger *logrus.Logger) *Library {
	if logger == nil {
		logger = logrus.New()
	}
	if clk == nil {
		clk = clock.New()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	return &Library{
		root:      root,
		listID:    listID,
		lists:     lists,
		extractor: extractor,
		workers:   opts.Workers,
		settle:    opts.Settle,
		clock:     clk,
		logger: logger.WithFields(logrus.Fields{
			"component": "library",
			"list_id":   listID,
		}),
	}
}

// Scan extracts every audio file under root and overwrites the list with the
// result, ordered by path. Files that fail to parse are skipped.
func (l *Library) Scan(ctx context.Context) (int, error) {
	l.logger.WithField("library_path", l.root).Info("Scanning music library")

	type result struct {
		path  string
		track models.Track
	}

	jobs := make(chan string, 100)
	results := make(chan result, 100)
	var wg sync.WaitGroup

	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				track, err := l.extractor.ExtractFromFile(path)
				if err != nil {
					l.logger.WithError(err).WithField("file_path", path).Warn("Error extracting metadata")
					continue
				}
				results <- result{path: path, track: track}
			}
		}()
	}

	var collected []result
	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		for r := range results {
			collected = append(collected, r)
		}
	}()

	walkErr := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() && !ignored(path) && l.extractor.IsAudioFile(path) {
			jobs <- path
		}
		return nil
	})

	close(jobs)
	wg.Wait()
	close(results)
	<-collectDone

	if walkErr != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", l.root, walkErr)
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].path < collected[j].path })
	tracks := make([]models.Track, len(collected))
	for i, r := range collected {
		tracks[i] = r.track
	}

	if err := l.lists.OverwriteListMusics(ctx, l.listID, tracks); err != nil {
		return 0, err
	}
	l.logger.WithField("tracks", len(tracks)).Info("Scanned music library")
	return len(tracks), nil
}

// Watch follows root recursively until Close. New audio files are appended to
// the list, removed or renamed ones dropped from it.
func (l *Library) Watch() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addRecursive(watcher, l.root); err != nil {
		watcher.Close()
		return err
	}

	l.watcher = watcher
	l.done = make(chan struct{})
	go l.watchFiles(watcher, l.done)

	l.logger.WithField("library_path", l.root).Info("File watcher started")
	return nil
}

// Close stops watching. Safe to call more than once.
func (l *Library) Close() error {
	l.mu.Lock()
	watcher, done := l.watcher, l.done
	l.watcher, l.done = nil, nil
	l.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}

func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (l *Library) watchFiles(watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			l.handleFileEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.WithError(err).Error("File watcher error")
		}
	}
}

func (l *Library) handleFileEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if ignored(event.Name) {
		return
	}
	isAudio := l.extractor.IsAudioFile(event.Name)

	switch {
	case event.Has(fsnotify.Create) && isAudio:
		name := event.Name
		l.clock.AfterFunc(l.settle, func() { l.handleNewFile(name) })

	case (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && isAudio:
		go l.handleRemovedFile(event.Name)

	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addRecursive(watcher, event.Name); err != nil {
				l.logger.WithError(err).WithField("directory", event.Name).Warn("Failed to watch new directory")
				return
			}
			l.logger.WithField("directory", event.Name).Info("Watching new directory")
		}
	}
}

func (l *Library) handleNewFile(filePath string) {
	log := l.logger.WithField("file_path", filePath)

	track, err := l.extractor.ExtractFromFile(filePath)
	if err != nil {
		log.WithError(err).Error("Error extracting metadata")
		return
	}
	if err := l.lists.AddMusics(context.Background(), l.listID, []models.Track{track}); err != nil {
		log.WithError(err).Error("Error adding track to list")
		return
	}
	log.WithFields(logrus.Fields{
		"name":   track.Name,
		"singer": track.Singer,
	}).Info("Added new track")
}

func (l *Library) handleRemovedFile(filePath string) {
	log := l.logger.WithField("file_path", filePath)
	if err := l.lists.RemoveMusics(context.Background(), l.listID, []string{metadata.TrackID(filePath)}); err != nil {
		log.WithError(err).Error("Error removing track from list")
		return
	}
	log.Info("Removed track from list")
}

// ignored filters hidden and temporary files
func ignored(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp")
}
