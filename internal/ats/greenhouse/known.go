// File: internal/ats/greenhouse/known.go
package greenhouse

import (
	"github.com/xkilldash9x/autoapply/internal/ats"
	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/question"
)

// byID matches a field by its id on either board generation.
func byID(ids ...string) dom.Validator {
	vs := make([]dom.Validator, 0, len(ids))
	for _, id := range ids {
		vs = append(vs, dom.AttrEquals("id", id))
	}
	return dom.Any(vs...)
}

var choiceTypes = question.Types(question.KindDropdown, question.KindSelect)

// KnownQuestions are the standard Greenhouse application fields.
var KnownQuestions = question.Catalog{
	{Name: "first name", Types: question.TextTypes, Validator: byID("first_name", "job_application_first_name"), DBAnswerKey: "firstName"},
	{Name: "last name", Types: question.TextTypes, Validator: byID("last_name", "job_application_last_name"), DBAnswerKey: "lastName"},
	{
		Name:        "preferred name",
		Types:       question.TextTypes,
		Validator:   byID("preferred_name", "job_application_preferred_name"),
		DBAnswerKey: "preferredName",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{Name: "email", Types: question.TextTypes, Validator: byID("email", "job_application_email"), DBAnswerKey: "email"},
	{Name: "phone", Types: question.TextTypes, Validator: byID("phone", "job_application_phone"), DBAnswerKey: "phoneNumber"},
	{
		Name:        "phone country",
		Types:       choiceTypes,
		Validator:   byID("country"),
		DBAnswerKey: ats.AddressKeyPrefix + "country",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "location",
		Types:       question.Types(question.KindDropdown, question.KindText, question.KindSearch),
		Validator:   byID("candidate-location", "job_application_location", "auto_complete_input"),
		DBAnswerKey: ats.AddressKeyPrefix + "location",
		Location:    true,
		Notes:       "autocomplete backed by a geocoder",
	},
	{
		Name:        "resume",
		Types:       question.Types(question.KindFile),
		Validator:   byID("resume", "resume_file"),
		DBAnswerKey: ats.ResumeKey,
	},
	{
		Name:      "cover letter",
		Types:     question.Types(question.KindFile, question.KindTextarea),
		Validator: byID("cover_letter", "cover_letter_file", "cover_letter_text"),
		Action:    question.ActionSkip,
	},
}
