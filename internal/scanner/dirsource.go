package scanner

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DirSource replays the images of a directory as a camera feed, cycling
// forever. It stands in for a physical camera on headless stations: point a
// capture daemon or a folder of printed-label photos at it.
type DirSource struct {
	dir string

	mu       sync.Mutex
	files    []string
	pos      int
	seq      uint64
	acquired bool
}

// NewDirSource creates a source over dir. Nothing is read until Acquire.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Acquire lists the directory. A missing or image-less directory is reported
// as ErrCameraUnavailable.
func (s *DirSource) Acquire(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: no images in %s", ErrCameraUnavailable, s.dir)
	}
	sort.Strings(files)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		return fmt.Errorf("%w: %s already in use", ErrCameraUnavailable, s.dir)
	}
	s.files = files
	s.pos = 0
	s.seq = 0
	s.acquired = true
	return nil
}

// Next decodes the next file in the cycle.
func (s *DirSource) Next() (Frame, error) {
	s.mu.Lock()
	if !s.acquired {
		s.mu.Unlock()
		return Frame{}, fmt.Errorf("source %s not acquired", s.dir)
	}
	path := s.files[s.pos]
	s.pos = (s.pos + 1) % len(s.files)
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return Frame{}, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame %s: %w", filepath.Base(path), err)
	}
	return Frame{Seq: seq, Timestamp: time.Now(), Image: img, Source: path}, nil
}

// Release drops the file list.
func (s *DirSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired = false
	s.files = nil
	return nil
}
