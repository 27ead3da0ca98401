package e2etesting

import (
	"context"
	"sync"
	"time"
)

// CodeSink stands in for the configured notifier and keeps the last code
// delivered to each principal.
type CodeSink struct {
	mu         sync.Mutex
	codes      map[string]string
	deliveries int
}

func NewCodeSink() *CodeSink {
	return &CodeSink{codes: make(map[string]string)}
}

func (s *CodeSink) Notify(ctx context.Context, principalID, code string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[principalID] = code
	s.deliveries++
	return nil
}

// Code returns the most recent code delivered to principalID.
func (s *CodeSink) Code(principalID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[principalID]
	return code, ok
}

func (s *CodeSink) Deliveries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveries
}
