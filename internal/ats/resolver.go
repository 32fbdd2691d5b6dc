// File: internal/ats/resolver.go
package ats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/channel"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/labels"
	"github.com/xkilldash9x/autoapply/internal/normalize"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
)

// Known answer key prefixes served by dedicated paths.
const (
	AddressKeyPrefix = "address."
	ResumeKey        = "resume"
)

// consentPhrases make a lone checkbox default to checked.
var consentPhrases = []string{"acknowledge", "confirm", "i consent", "i agree", "i confirm"}

// ResolverDeps are the collaborators of a Resolver.
type ResolverDeps struct {
	Known   question.Catalog
	Labels  *labels.Catalog
	Matcher labels.Matcher
	Profile *profile.Profile
	Channel channel.Channel
	// Job returns the posting being applied to.
	Job func() jobdata.Details
	// UseNearestAddress enables the nearest-address service even when the
	// profile does not ask for it.
	UseNearestAddress bool
}

// Resolver produces a resolution for one question through the known
// element, label, type default and model layers, in that order.
type Resolver struct {
	deps   ResolverDeps
	logger *zap.Logger

	mu      sync.Mutex
	address *profile.Address
	resume  map[bool]string
}

// NewResolver validates deps and builds a Resolver.
func NewResolver(deps ResolverDeps, logger *zap.Logger) (*Resolver, error) {
	if deps.Profile == nil {
		return nil, errors.New("resolver requires a profile")
	}
	if deps.Labels == nil || deps.Matcher == nil {
		return nil, errors.New("resolver requires a label catalog and matcher")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Job == nil {
		deps.Job = func() jobdata.Details { return jobdata.Details{} }
	}
	return &Resolver{deps: deps, logger: logger.Named("resolver"), resume: make(map[bool]string)}, nil
}

// Resolve implements engine.Resolver.
func (r *Resolver) Resolve(ctx context.Context, page dom.Page, q question.Question, locators []string) question.Resolution {
	meta := question.NoMeta()
	meta.ContainerIdx = q.Container

	if entry, ok := r.deps.Known.Match(q); ok {
		if res, done := r.known(ctx, q, entry, locators, meta); done {
			return res
		}
	}

	candidates, err := r.deps.Matcher.Match(ctx, q.Label)
	if err != nil {
		if ctx.Err() != nil {
			return question.Failed{Reason: ctx.Err().Error()}
		}
		r.logger.Warn("Label matching failed.", zap.String("label", q.Label), zap.Error(err))
	}
	meta.MatchedLabelCandidates = labels.Keys(candidates)
	meta.Hints = r.hints(q, candidates)

	if len(candidates) > 0 {
		if def, ok := r.deps.Labels.Get(candidates[0].Key); ok {
			if v, ok := r.labelValue(ctx, q, def); ok {
				meta.DBAnswerKey = def.DBAnswerKey
				meta.DBAnswerKeyIdx = keyIndex(def.DBAnswerKey)
				return question.Answered{Value: yesNo(q, v), Locators: locators, Source: question.SourceLabel, Meta: meta}
			}
		}
	}

	if v, ok := r.typeDefault(ctx, q); ok {
		return question.Answered{Value: v, Locators: locators, Source: question.SourceQuestionType, Meta: meta}
	}

	hint := ""
	if len(meta.MatchedLabelCandidates) > 0 {
		hint = "Related profile data: " + strings.Join(meta.MatchedLabelCandidates, ", ")
	}
	return question.NeedsLLM{PromptHint: hint, Meta: meta}
}

// known applies a matched known entry. done is false when the entry yields
// no value and resolution continues with the label layer.
func (r *Resolver) known(ctx context.Context, q question.Question, e question.KnownEntry, locators []string, meta question.Meta) (question.Resolution, bool) {
	meta.Entry = e.Name
	meta.Timeout = e.Timeout
	meta.Location = e.Location
	key := expandKey(e.DBAnswerKey, q.Container)
	meta.DBAnswerKey = key
	meta.DBAnswerKeyIdx = keyIndex(key)

	switch e.Action {
	case question.ActionForceSkip:
		return question.Skipped{Reason: "force skipped by " + e.Name}, true
	case question.ActionSkip:
		if !q.Required || q.Set {
			return question.Skipped{Reason: "optional or already set: " + e.Name}, true
		}
	}

	v, ok := r.knownValue(ctx, q, e, key)
	if !ok {
		if e.Action == question.ActionSkipIfDataUnavailable {
			return question.Skipped{Reason: "no profile data for " + e.Name}, true
		}
		r.logger.Debug("Known entry produced no value.", zap.String("entry", e.Name), zap.String("key", key))
		return nil, false
	}
	locs := append(append([]string(nil), locators...), e.Locators...)
	return question.Answered{Value: yesNo(q, v), Locators: locs, Source: question.SourceElement, Meta: meta}, true
}

func (r *Resolver) knownValue(ctx context.Context, q question.Question, e question.KnownEntry, key string) (any, bool) {
	switch {
	case strings.HasPrefix(key, AddressKeyPrefix):
		addr, ok := r.chooseAddress(ctx)
		if !ok {
			return nil, false
		}
		return AddressField(addr, strings.TrimPrefix(key, AddressKeyPrefix))
	case key == ResumeKey:
		return r.chooseResume(ctx, true)
	}
	if e.ValueFunc != nil {
		if v, ok := e.ValueFunc(r.deps.Profile); ok && !isEmpty(v) {
			return v, true
		}
		return nil, false
	}
	if e.Value != nil {
		return e.Value, true
	}
	if key == "" {
		return nil, false
	}
	v, err := r.deps.Profile.LookupString(key)
	if err != nil || isEmpty(v) {
		return nil, false
	}
	return v, true
}

func (r *Resolver) labelValue(ctx context.Context, q question.Question, def labels.Definition) (any, bool) {
	switch def.Group {
	case labels.GroupAddress:
		addr, ok := r.chooseAddress(ctx)
		if !ok {
			return nil, false
		}
		return AddressField(addr, def.Field)
	case labels.GroupResume:
		return r.chooseResume(ctx, true)
	}
	return def.Resolve(q, r.deps.Profile)
}

func (r *Resolver) typeDefault(ctx context.Context, q question.Question) (any, bool) {
	switch {
	case q.Kind == question.KindFile:
		return r.chooseResume(ctx, false)
	case q.Kind == question.KindCheckbox && len(q.Fields) == 1:
		label := strings.ToLower(q.Label)
		for _, p := range consentPhrases {
			if strings.Contains(label, p) {
				return true, true
			}
		}
	}
	return nil, false
}

// chooseAddress returns the nearest address when enabled, else the primary
// one. The choice is made once per run.
func (r *Resolver) chooseAddress(ctx context.Context) (profile.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.address != nil {
		return *r.address, true
	}
	p := r.deps.Profile
	if (p.LLMAddressSelectionEnabled || r.deps.UseNearestAddress) && r.deps.Channel != nil && len(p.Addresses) > 1 {
		job := r.deps.Job()
		if len(job.Locations) > 0 {
			addr, err := r.deps.Channel.NearestAddress(ctx, job.Locations)
			if err == nil {
				r.address = &addr
				return addr, true
			}
			r.logger.Warn("Nearest address lookup failed, using the primary address.", zap.Error(err))
		}
	}
	addr, ok := p.PrimaryAddress()
	if !ok {
		return profile.Address{}, false
	}
	r.address = &addr
	return addr, true
}

// chooseResume asks the server for the best resume for the job, falling back
// to the primary resume.
func (r *Resolver) chooseResume(ctx context.Context, useLLM bool) (any, bool) {
	useLLM = useLLM && r.deps.Profile.LLMResumeSelectionEnabled
	r.mu.Lock()
	defer r.mu.Unlock()
	if path, ok := r.resume[useLLM]; ok {
		return path, true
	}
	path, ok := BestResume(ctx, r.deps.Channel, r.deps.Profile, r.deps.Job(), useLLM, r.logger)
	if !ok {
		return nil, false
	}
	r.resume[useLLM] = path
	return path, true
}

// BestResume asks the channel for the resume best suited to job and falls
// back to the profile's primary resume. ch may be nil.
func BestResume(ctx context.Context, ch channel.Channel, p *profile.Profile, job jobdata.Details, useLLM bool, logger *zap.Logger) (string, bool) {
	if ch != nil {
		path, err := ch.BestResume(ctx, job, useLLM)
		switch {
		case err == nil && path != "":
			return path, true
		case err != nil && !errors.Is(err, channel.ErrNotFound) && logger != nil:
			logger.Warn("Resume selection failed, using the primary resume.", zap.Error(err))
		}
	}
	res, ok := p.PrimaryResume()
	if !ok || res.ResumeStoredPath == "" {
		return "", false
	}
	return res.ResumeStoredPath, true
}

func (r *Resolver) hints(q question.Question, candidates []labels.Candidate) []string {
	var out []string
	for _, c := range candidates {
		def, ok := r.deps.Labels.Get(c.Key)
		if !ok {
			continue
		}
		if h := def.HintFor(q, r.deps.Profile); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// AddressField returns one part of an address by its profile name.
func AddressField(a profile.Address, field string) (any, bool) {
	var v string
	switch field {
	case "addressLine1":
		v = a.AddressLine1
	case "addressLine2":
		v = a.AddressLine2
	case "city":
		v = a.City
	case "county":
		v = a.County
	case "state":
		v = a.State
	case "postalCode":
		v = a.PostalCode
	case "country":
		v = a.Country
	case "location", "":
		v = a.Location()
	default:
		return nil, false
	}
	return v, strings.TrimSpace(v) != ""
}

// expandKey fills an empty index ("workExperiences[].company") with the
// question's container.
func expandKey(key string, container int) string {
	if !strings.Contains(key, "[]") {
		return key
	}
	if container < 0 {
		container = 0
	}
	return strings.Replace(key, "[]", fmt.Sprintf("[%d]", container), 1)
}

func keyIndex(key string) int {
	if key == "" {
		return -1
	}
	path, err := profile.ParsePath(key)
	if err != nil {
		return -1
	}
	if i, ok := path.FirstIndex(); ok {
		return i
	}
	return -1
}

// yesNo renders booleans for choice widgets.
func yesNo(q question.Question, v any) any {
	b, ok := v.(bool)
	if !ok {
		return v
	}
	if q.Kind.IsSingleChoice() || (q.Kind == question.KindCheckbox && len(q.Fields) == 1) {
		return normalize.YesNo(b)
	}
	return v
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case *string:
		return t == nil || strings.TrimSpace(*t) == ""
	}
	return false
}
