// File: internal/engine/state.go
package engine

import (
	"sort"
	"sync"

	"github.com/xkilldash9x/autoapply/internal/question"
)

// state is the per-run bookkeeping of the resolution loop. Every field is
// guarded by mu; the fan-out workers only touch it through the methods
// below.
type state struct {
	mu sync.Mutex

	resolved  map[string]bool
	exhausted map[string]bool
	vanished  map[string]bool
	inFlight  map[string]bool
	attempts  map[string]int

	// llmQueue holds at most one pending request per question; order keeps
	// insertion order for the batch.
	llmQueue    map[string]question.LLMRequest
	order       []string
	llmCache    map[string]question.Answer
	llmFailures map[string]int

	corrections []question.Correction

	// Per-round counters, reset by beginRound.
	progress int
	enqueued int
}

func newState() *state {
	return &state{
		resolved:    make(map[string]bool),
		exhausted:   make(map[string]bool),
		vanished:    make(map[string]bool),
		inFlight:    make(map[string]bool),
		attempts:    make(map[string]int),
		llmQueue:    make(map[string]question.LLMRequest),
		llmCache:    make(map[string]question.Answer),
		llmFailures: make(map[string]int),
	}
}

func (s *state) beginRound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = 0
	s.enqueued = 0
}

func (s *state) round() (progress, enqueued int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress, s.enqueued
}

// prune moves every queued question that is no longer on the page into the
// vanished set and drops its request. Attempt counts, terminal sets and
// cached answers survive so a question that comes back keeps its budget.
// It returns the pruned ids.
func (s *state) prune(current map[string]question.Question) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gone []string
	for _, id := range s.order {
		if _, ok := current[id]; !ok {
			gone = append(gone, id)
		}
	}
	for _, id := range gone {
		s.dequeueLocked(id)
		s.vanished[id] = true
	}
	for id := range s.inFlight {
		if _, ok := current[id]; !ok {
			delete(s.inFlight, id)
		}
	}
	for id := range s.vanished {
		if _, ok := current[id]; ok {
			delete(s.vanished, id)
		}
	}
	return gone
}

// pending returns the current questions that are neither resolved nor
// exhausted, in page order.
func (s *state) pending(qs []question.Question) []question.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]question.Question, 0, len(qs))
	for _, q := range qs {
		if s.resolved[q.ID] || s.exhausted[q.ID] {
			continue
		}
		out = append(out, q)
	}
	return out
}

// tryStart claims a question for this round. It refuses questions that are
// already executing or waiting on the LLM.
func (s *state) tryStart(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	if _, queued := s.llmQueue[id]; queued {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *state) finish(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

func (s *state) attemptsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

// nextAttempt consumes one attempt. When the cap is reached the question
// moves to exhausted and ok is false.
func (s *state) nextAttempt(id string, max int) (attempt int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts[id] >= max {
		s.exhausted[id] = true
		s.dequeueLocked(id)
		return s.attempts[id], false
	}
	s.attempts[id]++
	return s.attempts[id], true
}

// markResolved records a resolved or skipped question and drops any pending
// request for it.
func (s *state) markResolved(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exhausted[id] {
		return
	}
	s.resolved[id] = true
	s.progress++
	s.dequeueLocked(id)
}

// markExhausted records a question that will not be retried.
func (s *state) markExhausted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved[id] {
		return
	}
	s.exhausted[id] = true
	s.dequeueLocked(id)
}

// enqueueLLM adds a request unless one is already pending for the question.
func (s *state) enqueueLLM(req question.LLMRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved[req.QuestionID] || s.exhausted[req.QuestionID] {
		return false
	}
	if _, ok := s.llmQueue[req.QuestionID]; ok {
		return false
	}
	s.llmQueue[req.QuestionID] = req
	s.order = append(s.order, req.QuestionID)
	s.enqueued++
	return true
}

func (s *state) dequeueLocked(id string) {
	if _, ok := s.llmQueue[id]; !ok {
		return
	}
	delete(s.llmQueue, id)
	for i, qid := range s.order {
		if qid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *state) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.llmQueue)
}

// drainQueue empties the queue and returns its requests in insertion order.
func (s *state) drainQueue() []question.LLMRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := make([]question.LLMRequest, 0, len(s.order))
	for _, id := range s.order {
		reqs = append(reqs, s.llmQueue[id])
	}
	s.llmQueue = make(map[string]question.LLMRequest)
	s.order = nil
	return reqs
}

func (s *state) cached(id string) (question.Answer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.llmCache[id]
	return a, ok
}

func (s *state) cache(id string, a question.Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmCache[id] = a
}

// cacheFailed counts a failed execution of a cached LLM answer. Once the
// count reaches limit the cache entry is dropped and true is returned. A
// zero limit keeps the entry forever.
func (s *state) cacheFailed(id string, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmFailures[id]++
	if limit <= 0 || s.llmFailures[id] < limit {
		return false
	}
	delete(s.llmCache, id)
	delete(s.llmFailures, id)
	return true
}

func (s *state) enqueueCorrection(c question.Correction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrections = append(s.corrections, c)
}

func (s *state) takeCorrections() []question.Correction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.corrections
	s.corrections = nil
	return out
}

func (s *state) isResolved(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved[id]
}

// snapshot returns sorted copies of the terminal sets.
func (s *state) snapshot() (resolved, exhausted, vanished []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return keys(s.resolved), keys(s.exhausted), keys(s.vanished)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
