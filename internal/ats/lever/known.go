// File: internal/ats/lever/known.go
package lever

import (
	"github.com/xkilldash9x/autoapply/internal/ats"
	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
)

func named(name string) dom.Validator { return dom.AttrEquals("name", name) }

// KnownQuestions are Lever's standard application fields, keyed by input
// name.
var KnownQuestions = question.Catalog{
	{
		Name:      "full name",
		Types:     question.TextTypes,
		Validator: named("name"),
		ValueFunc: func(p *profile.Profile) (any, bool) {
			n := p.FullName()
			return n, n != ""
		},
	},
	{Name: "email", Types: question.TextTypes, Validator: named("email"), DBAnswerKey: "email"},
	{Name: "phone", Types: question.TextTypes, Validator: named("phone"), DBAnswerKey: "phoneNumber"},
	{
		Name:        "current company",
		Types:       question.TextTypes,
		Validator:   named("org"),
		DBAnswerKey: "workExperiences[0].company",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "current location",
		Types:       question.Types(question.KindText, question.KindSearch, question.KindDropdown),
		Validator:   dom.Any(named("location"), dom.AttrEquals("id", "location-input")),
		DBAnswerKey: ats.AddressKeyPrefix + "location",
		Location:    true,
		Locators:    []string{xpLocationInput},
	},
	{
		Name:        "resume",
		Types:       question.Types(question.KindFile),
		Validator:   named("resume"),
		DBAnswerKey: ats.ResumeKey,
	},
	{Name: "linkedin", Types: question.TextTypes, Validator: named("urls[LinkedIn]"), DBAnswerKey: "linkedin", Action: question.ActionSkipIfDataUnavailable},
	{Name: "github", Types: question.TextTypes, Validator: named("urls[GitHub]"), DBAnswerKey: "github", Action: question.ActionSkipIfDataUnavailable},
	{Name: "portfolio", Types: question.TextTypes, Validator: named("urls[Portfolio]"), DBAnswerKey: "portfolio", Action: question.ActionSkipIfDataUnavailable},
	{Name: "other website", Types: question.TextTypes, Validator: named("urls[Other]"), DBAnswerKey: "otherURLs[0]", Action: question.ActionSkipIfDataUnavailable},
	{
		Name:      "additional information",
		Types:     question.Types(question.KindTextarea),
		Validator: named("comments"),
		Action:    question.ActionSkip,
	},
	{
		Name:      "marketing consent",
		Types:     question.Types(question.KindCheckbox),
		Validator: dom.AttrPrefix("name", "consent["),
		Action:    question.ActionSkip,
		Notes:     "optional mailing list opt-in",
	},
}
