// File: internal/question/resolution.go
package question

import "time"

// Source names the strategy that produced an answer.
type Source string

const (
	SourceElement      Source = "element"
	SourceLabel        Source = "label"
	SourceQuestionType Source = "question-type"
	SourceLLM          Source = "llm"
)

// Meta carries correction targeting data and resolver hints alongside a
// resolution.
type Meta struct {
	DBAnswerKey string
	// DBAnswerKeyIdx is the first list index inside DBAnswerKey, or -1.
	DBAnswerKeyIdx int
	// ContainerIdx is the sub-form container the question was found in, or -1.
	ContainerIdx           int
	MatchedLabelCandidates []string
	Hints                  []string
	// Entry is the name of the matched known-question entry.
	Entry string
	// Timeout overrides the per-type handler timeout when non-zero.
	Timeout time.Duration
	// Location routes execution to the location autocomplete handler.
	Location bool
}

// NoMeta returns a Meta with unset indices.
func NoMeta() Meta { return Meta{DBAnswerKeyIdx: -1, ContainerIdx: -1} }

// Resolution is the resolver output. It is one of Answered, Skipped,
// NeedsLLM, StructuralFailure or Failed.
type Resolution interface {
	resolution()
}

type Answered struct {
	Value    any
	Locators []string
	Source   Source
	Meta     Meta
}

type Skipped struct {
	Reason string
}

type NeedsLLM struct {
	PromptHint string
	Meta       Meta
}

type StructuralFailure struct {
	Correction Correction
}

// Failed is the ERROR variant; Correction is optional.
type Failed struct {
	Reason     string
	Correction *Correction
}

func (Answered) resolution()          {}
func (Skipped) resolution()           {}
func (NeedsLLM) resolution()          {}
func (StructuralFailure) resolution() {}
func (Failed) resolution()            {}

// Status is the outcome of a handler execution.
type Status uint8

const (
	StatusOK Status = iota
	StatusError
)

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "error"
}

// Reason classifies a failed execution.
type Reason string

const (
	ReasonLocatorMissing   Reason = "locator_missing"
	ReasonNormalizeFailed  Reason = "normalize_failed"
	ReasonNoMatch          Reason = "no_match"
	ReasonStateNotObserved Reason = "state_not_observed"
	ReasonTimeout          Reason = "timeout"
	ReasonCrash            Reason = "crash"
)

// ExecutionResult is what a handler returns. Options lists the choices the
// handler saw on the page so a later LLM request can carry them.
type ExecutionResult struct {
	Status     Status
	Reason     Reason
	Detail     string
	Options    []string
	Correction *Correction
}

func OK() ExecutionResult { return ExecutionResult{Status: StatusOK} }

func Fail(reason Reason, detail string) ExecutionResult {
	return ExecutionResult{Status: StatusError, Reason: reason, Detail: detail}
}

// WithOptions attaches observed options to a result.
func (r ExecutionResult) WithOptions(opts []string) ExecutionResult {
	r.Options = opts
	return r
}

func (r ExecutionResult) OK() bool { return r.Status == StatusOK }
