package voice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/interfaces"
)

// ErrAudioNotFound is returned by Path for unknown or invalid references
var ErrAudioNotFound = errors.New("audio not found")

const (
	audioExt     = ".mp3"
	tempFileGlob = ".tmp-*"
)

var (
	requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	audioRefPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}\.mp3$`)
)

// FileAudioStore writes generated speech to <dir>/<request_id>.mp3
type FileAudioStore struct {
	dir    string
	logger arbor.ILogger
}

var _ interfaces.AudioStore = (*FileAudioStore)(nil)

// NewFileAudioStore creates the directory if needed
func NewFileAudioStore(dir string, logger arbor.ILogger) (*FileAudioStore, error) {
	if dir == "" {
		return nil, errors.New("audio directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}
	return &FileAudioStore{dir: dir, logger: logger}, nil
}

// Save writes audio atomically and returns its reference (the file name)
func (s *FileAudioStore) Save(requestID string, audio []byte) (string, error) {
	if !requestIDPattern.MatchString(requestID) {
		return "", fmt.Errorf("invalid request ID %q", requestID)
	}
	if len(audio) == 0 {
		return "", errors.New("audio cannot be empty")
	}

	tmp, err := os.CreateTemp(s.dir, tempFileGlob)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("failed to sync audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to close audio: %w", err)
	}

	ref := requestID + audioExt
	if err := os.Rename(tmpName, filepath.Join(s.dir, ref)); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to store audio: %w", err)
	}

	s.logger.Debug().
		Str("audio_ref", ref).
		Int("bytes", len(audio)).
		Msg("Audio saved")

	return ref, nil
}

// Path resolves a reference to an existing file inside the store
func (s *FileAudioStore) Path(ref string) (string, error) {
	if !audioRefPattern.MatchString(ref) {
		return "", ErrAudioNotFound
	}

	path := filepath.Join(s.dir, ref)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrAudioNotFound
	}
	return path, nil
}

// Reap deletes audio files (and abandoned temp files) older than maxAge
func (s *FileAudioStore) Reap(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list audio directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, audioExt) && !strings.HasPrefix(name, ".tmp-")) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Str("file", name).Err(err).Msg("Failed to remove old audio")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Dur("max_age", maxAge).
			Msg("Old audio files removed")
	}

	return removed, nil
}
