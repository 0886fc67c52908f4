package metadata

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"roomsync/pkg/models"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
)

// SourceLocal marks tracks imported from the local file system
const SourceLocal = "local"

// DefaultFormats are the extensions imported when none are configured
var DefaultFormats = []string{".mp3", ".flac", ".wav", ".m4a"}

// Extractor builds room track descriptors from audio files
type Extractor struct {
	supportedFormats []string
	logger           *logrus.Entry
}

// NewExtractor creates an extractor accepting the given extensions
func NewExtractor(supportedFormats []string, logger *logrus.Logger) *Extractor {
	if logger == nil {
		logger = logrus.New()
	}
	if len(supportedFormats) == 0 {
		supportedFormats = DefaultFormats
	}
	formats := make([]string, len(supportedFormats))
	for i, f := range supportedFormats {
		formats[i] = strings.ToLower(f)
	}
	return &Extractor{
		supportedFormats: formats,
		logger:           logger.WithField("component", "metadata"),
	}
}

// TrackID derives a stable id from the cleaned absolute file path
func TrackID(filePath string) string {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		abs = filePath
	}
	sum := md5.Sum([]byte(filepath.Clean(abs)))
	return fmt.Sprintf("local_%x", sum[:8])
}

// ExtractFromFile reads tags and duration from an audio file. Files without
// readable tags fall back to the file name.
func (e *Extractor) ExtractFromFile(filePath string) (models.Track, error) {
	startTime := time.Now()
	log := e.logger.WithField("file_path", filePath)

	file, err := os.Open(filePath)
	if err != nil {
		return models.Track{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return models.Track{}, fmt.Errorf("failed to stat audio file: %w", err)
	}

	duration, err := e.calculateDuration(filePath)
	if err != nil {
		log.WithError(err).Debug("Failed to calculate duration")
		duration = 0
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	track := models.Track{
		ID:       TrackID(filePath),
		Name:     strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		Singer:   "Unknown Artist",
		Album:    "Unknown Album",
		Source:   SourceLocal,
		Interval: FormatInterval(duration),
		Qualities: map[string]models.QualityInfo{
			strings.TrimPrefix(ext, "."): {Size: FormatSize(stat.Size())},
		},
	}

	tags, err := tag.ReadFrom(file)
	if err != nil {
		log.WithError(err).Debug("No readable tags, using file name")
		return track, nil
	}

	if title := tags.Title(); title != "" {
		track.Name = title
	}
	if artist := tags.Artist(); artist != "" {
		track.Singer = artist
	} else if albumArtist := tags.AlbumArtist(); albumArtist != "" {
		track.Singer = albumArtist
	}
	if album := tags.Album(); album != "" {
		track.Album = album
	}

	log.WithFields(logrus.Fields{
		"name":            track.Name,
		"singer":          track.Singer,
		"interval":        track.Interval,
		"processing_time": time.Since(startTime),
	}).Debug("Extracted metadata")
	return track, nil
}

// IsAudioFile checks the extension against the supported formats
func (e *Extractor) IsAudioFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, format := range e.supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

func (e *Extractor) calculateDuration(filePath string) (time.Duration, error) {
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".mp3":
		return durationMP3(filePath)
	case ".flac":
		return durationFLAC(filePath)
	case ".wav":
		return durationWAV(filePath)
	default:
		return 0, fmt.Errorf("no duration reader for %s", ext)
	}
}

// durationMP3 sums frame durations; a file with no decodable frame is
// estimated at 192 kbps
func durationMP3(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped, frames int
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) || frames > 0 {
				break
			}
			st, statErr := f.Stat()
			if statErr != nil {
				return 0, statErr
			}
			return time.Duration(st.Size()*8/192000) * time.Second, nil
		}
		total += fr.Duration()
		frames++
	}
	return total, nil
}

func durationFLAC(path string) (time.Duration, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	info := stream.Info
	if info.NSamples == 0 || info.SampleRate == 0 {
		return 0, fmt.Errorf("flac stream missing sample info")
	}
	return time.Duration(float64(info.NSamples) / float64(info.SampleRate) * float64(time.Second)), nil
}

// durationWAV derives the length from the PCM size after the header
func durationWAV(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	frameBytes := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if dec.SampleRate == 0 || frameBytes <= 0 {
		return 0, fmt.Errorf("invalid wav header")
	}

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	pcmBytes := st.Size() - 44
	if pcmBytes < 0 {
		pcmBytes = 0
	}
	frames := pcmBytes / frameBytes
	return time.Duration(float64(frames) / float64(dec.SampleRate) * float64(time.Second)), nil
}

// FormatInterval renders a duration as the "mm:ss" hint carried by tracks.
// Zero yields an empty hint.
func FormatInterval(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs <= 0 {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// FormatSize renders a byte count the way quality sizes are displayed
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMG"[exp])
}
