package scanner

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"
)

// SyntheticSource is an in-memory FrameSource. Frames pushed with Push are
// handed out once each, in order.
type SyntheticSource struct {
	mu       sync.Mutex
	name     string
	frames   []image.Image
	seq      uint64
	acquired bool

	// AcquireErr, when set, makes Acquire fail as a denied camera would.
	AcquireErr error

	acquires int
	releases int
}

// NewSyntheticSource creates an empty synthetic source.
func NewSyntheticSource(name string) *SyntheticSource {
	return &SyntheticSource{name: name}
}

// Push queues a frame.
func (s *SyntheticSource) Push(img image.Image) {
	s.mu.Lock()
	s.frames = append(s.frames, img)
	s.mu.Unlock()
}

// Acquire takes the source.
func (s *SyntheticSource) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AcquireErr != nil {
		return s.AcquireErr
	}
	if s.acquired {
		return fmt.Errorf("source %s already acquired", s.name)
	}
	s.acquired = true
	s.seq = 0
	s.acquires++
	return nil
}

// Next returns the oldest queued frame.
func (s *SyntheticSource) Next() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired {
		return Frame{}, fmt.Errorf("source %s not acquired", s.name)
	}
	if len(s.frames) == 0 {
		return Frame{}, ErrNoFrame
	}
	img := s.frames[0]
	s.frames = s.frames[1:]
	s.seq++
	return Frame{Seq: s.seq, Timestamp: time.Now(), Image: img, Source: s.name}, nil
}

// Release gives the source back.
func (s *SyntheticSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		s.acquired = false
		s.releases++
	}
	return nil
}

// Acquired reports whether the source is currently held.
func (s *SyntheticSource) Acquired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// Counts returns how many times the source was acquired and released.
func (s *SyntheticSource) Counts() (acquires, releases int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquires, s.releases
}
