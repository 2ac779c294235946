package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/chitra/pkg/inference"
)

// DefaultHistoryTurns is used when a session is created with a non-positive
// capacity.
const DefaultHistoryTurns = 10

// Session keeps the bounded conversation window and the user-active flag the
// proactive scheduler consults.
type Session struct {
	mu    sync.RWMutex
	turns []inference.Turn
	head  int
	size  int

	active atomic.Bool
}

func NewSession(capacity int) *Session {
	if capacity <= 0 {
		capacity = DefaultHistoryTurns
	}
	return &Session{turns: make([]inference.Turn, capacity)}
}

// Append adds a turn, dropping the oldest one when the window is full.
func (s *Session) Append(turn inference.Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	capacity := len(s.turns)
	idx := (s.head + s.size) % capacity
	s.turns[idx] = turn
	if s.size < capacity {
		s.size++
	} else {
		s.head = (s.head + 1) % capacity
	}
}

// History returns the most recent n turns, oldest first. n <= 0 returns the
// whole window.
func (s *Session) History(n int) []inference.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > s.size {
		n = s.size
	}
	out := make([]inference.Turn, 0, n)
	capacity := len(s.turns)
	for i := s.size - n; i < s.size; i++ {
		out = append(out, s.turns[(s.head+i)%capacity])
	}
	return out
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *Session) Capacity() int { return len(s.turns) }

// Begin marks the user as active. Callers pair it with a deferred End.
func (s *Session) Begin() { s.active.Store(true) }

func (s *Session) End() { s.active.Store(false) }

func (s *Session) UserActive() bool { return s.active.Load() }
