// File: internal/labels/funcs.go
package labels

import (
	"strings"

	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
)

// builtinValues are computed values that a YAML literal cannot express.
var builtinValues = map[string]ValueFunc{
	"fullName": func(_ question.Question, p *profile.Profile) (any, bool) {
		if p == nil {
			return nil, false
		}
		name := p.FullName()
		return name, name != ""
	},
	"phone": func(_ question.Question, p *profile.Profile) (any, bool) {
		if p == nil || p.PhoneNumber == "" {
			return nil, false
		}
		return strings.TrimSpace(p.PhoneExtension + " " + p.PhoneNumber), true
	},
	"currentCompany": func(_ question.Question, p *profile.Profile) (any, bool) {
		if w, ok := currentJob(p); ok {
			return w.Company, w.Company != ""
		}
		return nil, false
	},
	"currentTitle": func(_ question.Question, p *profile.Profile) (any, bool) {
		if w, ok := currentJob(p); ok {
			return w.JobTitle, w.JobTitle != ""
		}
		return nil, false
	},
	"school": func(_ question.Question, p *profile.Profile) (any, bool) {
		if p == nil || len(p.Education) == 0 || p.Education[0].School == "" {
			return nil, false
		}
		return p.Education[0].School, true
	},
	"degree": func(_ question.Question, p *profile.Profile) (any, bool) {
		if p == nil || len(p.Education) == 0 || len(p.Education[0].Degree) == 0 {
			return nil, false
		}
		return p.Education[0].Degree, true
	},
}

// builtinHints describe data the model needs to phrase an answer.
var builtinHints = map[string]HintFunc{
	"yearsOfExperience": func(_ question.Question, p *profile.Profile) string {
		if p == nil || len(p.WorkExperiences) == 0 {
			return ""
		}
		first := p.WorkExperiences[len(p.WorkExperiences)-1]
		return "Career started " + first.StartDate + "; count years from then to today."
	},
	"desiredSalary": func(_ question.Question, p *profile.Profile) string {
		if p != nil && p.UseSalaryRange {
			return "Answer with a range around the expected salary."
		}
		return ""
	},
}

// currentJob returns the first experience without an end date, else the
// most recent one.
func currentJob(p *profile.Profile) (profile.WorkExperience, bool) {
	if p == nil || len(p.WorkExperiences) == 0 {
		return profile.WorkExperience{}, false
	}
	for _, w := range p.WorkExperiences {
		if w.Current() {
			return w, true
		}
	}
	return p.WorkExperiences[0], true
}
