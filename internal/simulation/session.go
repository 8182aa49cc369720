package simulation

import (
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinodismyname/leverlab/config"
)

var (
	// ErrSessionNotFound indicates an unknown or dropped scenario session.
	ErrSessionNotFound = errors.New("simulation: session not found")
	// ErrTooManySessions indicates the per-dataset session limit was reached.
	ErrTooManySessions = errors.New("simulation: too many sessions for dataset")
)

// LeverChange records one lever move within a session.
type LeverChange struct {
	Lever string    `json:"lever"`
	From  float64   `json:"from"`
	To    float64   `json:"to"`
	At    time.Time `json:"at"`
}

// Session is the mutable lever vector of one scenario exploration.
type Session struct {
	ID        string             `json:"session_id"`
	DatasetID string             `json:"dataset_id"`
	Values    map[string]float64 `json:"values"`
	History   []LeverChange      `json:"history,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (s *Session) snapshot() Session {
	out := *s
	out.Values = maps.Clone(s.Values)
	if out.Values == nil {
		out.Values = map[string]float64{}
	}
	out.History = append([]LeverChange(nil), s.History...)
	return out
}

// SessionStore is an in-memory store for scenario sessions. It is not
// persisted and is safe for concurrent access. Callers only ever see copies.
type SessionStore struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	maxPerDataset int
	maxHistory    int
	clock         func() time.Time
}

// NewSessionStore returns a store limiting sessions per dataset.
func NewSessionStore(maxPerDataset int, clock func() time.Time) *SessionStore {
	if maxPerDataset <= 0 {
		maxPerDataset = config.DefaultMaxSessionsPerDataset
	}
	if clock == nil {
		clock = time.Now
	}
	return &SessionStore{
		sessions:      make(map[string]*Session),
		maxPerDataset: maxPerDataset,
		maxHistory:    50,
		clock:         clock,
	}
}

// Open starts a session with every lever at zero.
func (s *SessionStore) Open(datasetID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.DatasetID == datasetID {
			n++
		}
	}
	if n >= s.maxPerDataset {
		return Session{}, ErrTooManySessions
	}
	now := s.clock()
	sess := &Session{ID: uuid.NewString(), DatasetID: datasetID, Values: map[string]float64{}, CreatedAt: now, UpdatedAt: now}
	s.sessions[sess.ID] = sess
	return sess.snapshot(), nil
}

// Get returns a copy of the session.
func (s *SessionStore) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return sess.snapshot(), true
}

// Set merges values into the session's lever vector. A zero value removes
// the lever from the vector.
func (s *SessionStore) Set(id string, values map[string]float64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	now := s.clock()
	for _, lever := range sortedIDs(values) {
		to := values[lever]
		from := sess.Values[lever]
		if from == to {
			continue
		}
		if to == 0 {
			delete(sess.Values, lever)
		} else {
			sess.Values[lever] = to
		}
		sess.History = append(sess.History, LeverChange{Lever: lever, From: from, To: to, At: now})
	}
	if len(sess.History) > s.maxHistory {
		sess.History = sess.History[len(sess.History)-s.maxHistory:]
	}
	sess.UpdatedAt = now
	return sess.snapshot(), nil
}

// Reset clears the lever vector and history.
func (s *SessionStore) Reset(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	sess.Values = map[string]float64{}
	sess.History = nil
	sess.UpdatedAt = s.clock()
	return sess.snapshot(), nil
}

// Close drops one session.
func (s *SessionStore) Close(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// DropDataset removes every session of datasetID and returns how many.
func (s *SessionStore) DropDataset(datasetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.DatasetID == datasetID {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Count returns the number of open sessions.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
