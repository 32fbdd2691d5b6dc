// File: internal/tabstate/tabstate.go

// Package tabstate is the per-tab key-value state shared across page
// navigations of one run. Writes are last-writer-wins.
package tabstate

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Canonical keys. Producers and consumers agree on these by convention.
const (
	KeyRunID                   = "runId"
	KeyState                   = "state"
	KeyRunning                 = "running"
	KeyExecutionResult         = "executionResult"
	KeyJobID                   = "jobId"
	KeyJobData                 = "jobData"
	KeySignupAttempted         = "signupAttempted"
	KeyQuestionnairesCompleted = "questionnairesCompleted"
	KeyLocationQueries         = "locationQueries"
	KeyUpdatedAt               = "updatedAt"
)

// Result is a terminal outcome code.
type Result string

const (
	ResultApplied             Result = "applied"
	ResultAborted             Result = "aborted"
	ResultFailed              Result = "failed"
	ResultJobExpired          Result = "job_expired"
	ResultUnsupportedPlatform Result = "unsupported_platform"
)

// Run states written under KeyState.
const (
	StateRunning   = "running"
	StateSubmitted = "submitted"
	StateAborted   = "aborted"
	StateFailed    = "failed"
	StateCompleted = "completed"
)

// State is a copy of the store's contents.
type State map[string]any

// String returns the value under key when it is a string.
func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Bool returns the value under key when it is a bool.
func (s State) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Options tune a Patch.
type Options struct {
	// UpdateUI notifies subscribers. Silent patches only change the store.
	UpdateUI bool
}

// Listener receives the state after a notifying patch.
type Listener func(State)

// Store is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	data      State
	listeners map[int]Listener
	nextID    int
	now       func() time.Time
	logger    *zap.Logger
}

// New returns a store seeded with a fresh run id.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		data:      State{KeyRunID: uuid.NewString()},
		listeners: make(map[int]Listener),
		now:       time.Now,
		logger:    logger.Named("tabstate"),
	}
	return s
}

// RunID identifies this run in logs and snapshots.
func (s *Store) RunID() string {
	return s.Get().String(KeyRunID)
}

// Patch merges patch into the store. Nil values delete keys.
func (s *Store) Patch(patch map[string]any, opts Options) {
	s.mu.Lock()
	for k, v := range patch {
		if v == nil {
			delete(s.data, k)
			continue
		}
		s.data[k] = v
	}
	s.data[KeyUpdatedAt] = s.now().UTC()
	var (
		snap      State
		listeners []Listener
	)
	if opts.UpdateUI {
		snap = s.copyLocked()
		ids := make([]int, 0, len(s.listeners))
		for id := range s.listeners {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			listeners = append(listeners, s.listeners[id])
		}
	}
	s.mu.Unlock()

	s.logger.Debug("Tab state patched.", zap.Strings("keys", keys(patch)), zap.Bool("update_ui", opts.UpdateUI))
	for _, l := range listeners {
		l(snap)
	}
}

// Get returns a copy of the whole state.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Value returns one key.
func (s *Store) Value(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Finish records a terminal result and clears the running flag.
func (s *Store) Finish(result Result) {
	state := StateCompleted
	switch result {
	case ResultAborted:
		state = StateAborted
	case ResultFailed, ResultJobExpired, ResultUnsupportedPlatform:
		state = StateFailed
	case ResultApplied:
		state = StateSubmitted
	}
	s.Patch(map[string]any{
		KeyExecutionResult: string(result),
		KeyState:           state,
		KeyRunning:         false,
	}, Options{UpdateUI: true})
}

// Result returns the recorded terminal result, if any.
func (s *Store) Result() (Result, bool) {
	r := s.Get().String(KeyExecutionResult)
	return Result(r), r != ""
}

// LocationQueries returns the cached location search results for query.
func (s *Store) LocationQueries(query string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cache, _ := s.data[KeyLocationQueries].(map[string][]string)
	v, ok := cache[query]
	return append([]string(nil), v...), ok
}

// CacheLocationQuery stores the search results for query.
func (s *Store) CacheLocationQuery(query string, results []string) {
	s.mu.Lock()
	cache, _ := s.data[KeyLocationQueries].(map[string][]string)
	next := make(map[string][]string, len(cache)+1)
	for k, v := range cache {
		next[k] = v
	}
	next[query] = append([]string(nil), results...)
	s.mu.Unlock()
	s.Patch(map[string]any{KeyLocationQueries: next}, Options{})
}

func (s *Store) copyLocked() State {
	out := make(State, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
