package session

import (
	"sync"

	"exam-photo-bot/api/internal/preset"
)

// Session is the in-progress selection of one user. Category is empty until
// the user picks one after choosing an exam.
type Session struct {
	Exam     string
	Category preset.Category
}

// Ready reports whether the next upload can be routed to a preset.
func (s Session) Ready() bool { return s.Exam != "" && s.Category != "" }

// Store keeps one Session per user identity. Nothing is persisted.
type Store struct {
	mu sync.Mutex
	m  map[int64]Session
}

func NewStore() *Store {
	return &Store{m: make(map[int64]Session)}
}

func (s *Store) Get(userID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[userID]
	return v, ok
}

// SelectExam starts a fresh selection, dropping any previous category.
func (s *Store) SelectExam(userID int64, exam string) {
	s.mu.Lock()
	s.m[userID] = Session{Exam: exam}
	s.mu.Unlock()
}

// SelectCategory sets the category of an existing session. Without a session it
// does nothing and returns false.
func (s *Store) SelectCategory(userID int64, cat preset.Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[userID]
	if !ok {
		return false
	}
	v.Category = cat
	s.m[userID] = v
	return true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
