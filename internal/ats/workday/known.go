// File: internal/ats/workday/known.go
package workday

import (
	"time"

	"github.com/xkilldash9x/autoapply/internal/ats"
	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/question"
)

var (
	choiceTypes   = question.Types(question.KindDropdown, question.KindSelect, question.KindRadio)
	dropdownTypes = question.Types(question.KindDropdown, question.KindSelect)
)

// within matches fields inside the form field with the given automation id.
func within(id string) dom.Validator {
	return func(e dom.Element) bool {
		_, ok := e.Closest(dom.AutomationID(id))
		return ok
	}
}

// KnownQuestions are the Workday questions recognised by automation ids.
var KnownQuestions = question.Catalog{
	{Name: "honeypot", Types: question.AnyType, Validator: dom.AutomationID("beecatcher"), Action: question.ActionForceSkip},
	{
		Name:      "resume upload",
		Types:     question.Types(question.KindFile),
		Validator: dom.AutomationID("file-upload-input-ref"),
		Action:    question.ActionForceSkip,
		Notes:     "uploaded once when the My Experience step opens",
	},
	{
		Name:      "previous worker",
		Types:     question.Types(question.KindRadio),
		Validator: dom.AttrEquals("name", "candidateIsPreviousWorker"),
		Value:     "No",
	},

	// My Information.
	{Name: "first name", Types: question.TextTypes, Validator: dom.AutomationID("legalNameSection_firstName"), DBAnswerKey: "firstName"},
	{Name: "last name", Types: question.TextTypes, Validator: dom.AutomationID("legalNameSection_lastName"), DBAnswerKey: "lastName"},
	{
		Name:        "middle name",
		Types:       question.TextTypes,
		Validator:   dom.AutomationID("legalNameSection_middleName"),
		DBAnswerKey: "middleName",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "preferred name",
		Types:       question.Types(question.KindCheckbox),
		Validator:   dom.AutomationID("preferredNameCheckbox"),
		Action:      question.ActionSkip,
		DBAnswerKey: "preferredName",
	},
	{Name: "address line 1", Types: question.TextTypes, Validator: dom.AutomationID("addressSection_addressLine1"), DBAnswerKey: ats.AddressKeyPrefix + "addressLine1"},
	{
		Name:        "address line 2",
		Types:       question.TextTypes,
		Validator:   dom.AutomationID("addressSection_addressLine2"),
		DBAnswerKey: ats.AddressKeyPrefix + "addressLine2",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{Name: "city", Types: question.TextTypes, Validator: dom.AutomationID("addressSection_city"), DBAnswerKey: ats.AddressKeyPrefix + "city"},
	{Name: "postal code", Types: question.TextTypes, Validator: dom.AutomationID("addressSection_postalCode"), DBAnswerKey: ats.AddressKeyPrefix + "postalCode"},
	{Name: "state", Types: dropdownTypes, Validator: dom.AutomationID("addressSection_countryRegion"), DBAnswerKey: ats.AddressKeyPrefix + "state"},
	{
		Name:        "country",
		Types:       dropdownTypes,
		Validator:   dom.AutomationID("countryDropdown"),
		DBAnswerKey: ats.AddressKeyPrefix + "country",
		Timeout:     15 * time.Second,
		Notes:       "changing the country re-renders the address section",
	},
	{
		Name:      "phone device type",
		Types:     dropdownTypes,
		Validator: dom.AutomationID("phone-device-type"),
		ValueFunc: func(p *profile.Profile) (any, bool) {
			if p.PhoneType != "" {
				return p.PhoneType, true
			}
			return "Mobile", true
		},
	},
	{
		Name:      "country phone code",
		Types:     dropdownTypes,
		Validator: dom.AutomationID("countryPhoneCode"),
		Action:    question.ActionSkip,
		Notes:     "derived from the country",
	},
	{Name: "phone number", Types: question.TextTypes, Validator: dom.AutomationID("phone-number"), DBAnswerKey: "phoneNumber"},
	{
		Name:        "phone extension",
		Types:       question.TextTypes,
		Validator:   dom.AutomationID("phone-extension"),
		DBAnswerKey: "phoneExtension",
		Action:      question.ActionSkipIfDataUnavailable,
	},

	// My Experience sub-forms; indices come from the container.
	{
		Name:        "job title",
		Types:       question.TextTypes,
		Validator:   dom.AutomationID("jobTitle"),
		DBAnswerKey: "workExperiences[].jobTitle",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "company",
		Types:       question.TextTypes,
		Validator:   dom.AutomationID("company"),
		DBAnswerKey: "workExperiences[].company",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "work location",
		Types:       question.TextTypes,
		Validator:   dom.AutomationID("location"),
		DBAnswerKey: "workExperiences[].location",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "role description",
		Types:       question.TextTypes,
		Validator:   dom.AutomationID("description"),
		DBAnswerKey: "workExperiences[].roleDescription",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:      "currently work here",
		Types:     question.Types(question.KindCheckbox),
		Validator: dom.AutomationID("currentlyWorkHere"),
		Action:    question.ActionSkip,
		Notes:     "an empty end date already marks the role current",
	},
	{
		Name:        "work start date",
		Types:       question.TextTypes,
		Validator:   dom.All(within("formField-startDate"), dom.AutomationID("dateSectionMonth-input")),
		DBAnswerKey: "workExperiences[].startDate",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "work end date",
		Types:       question.TextTypes,
		Validator:   dom.All(within("formField-endDate"), dom.AutomationID("dateSectionMonth-input")),
		DBAnswerKey: "workExperiences[].endDate",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "school",
		Types:       question.TextTypes,
		Validator:   dom.AutomationID("school"),
		DBAnswerKey: "education[].school",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "degree",
		Types:       choiceTypes,
		Validator:   dom.AutomationID("degree"),
		DBAnswerKey: "education[].degree",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "field of study",
		Types:       question.Types(question.KindMultiselect, question.KindDropdown),
		Validator:   within("formField-fieldOfStudy"),
		DBAnswerKey: "education[].major",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "gpa",
		Types:       question.TextTypes,
		Validator:   dom.AutomationID("gpa"),
		DBAnswerKey: "education[].gpa",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "website",
		Types:       question.TextTypes,
		Validator:   dom.AutomationID("website"),
		DBAnswerKey: "otherURLs[]",
		Action:      question.ActionSkipIfDataUnavailable,
	},
	{
		Name:        "linkedin",
		Types:       question.TextTypes,
		Validator:   dom.AutomationID("linkedinQuestion"),
		DBAnswerKey: "linkedin",
		Action:      question.ActionSkipIfDataUnavailable,
	},

	// Self Identify.
	{
		Name:      "signature name",
		Types:     question.TextTypes,
		Validator: dom.AutomationID("name"),
		ValueFunc: func(p *profile.Profile) (any, bool) {
			n := p.FullName()
			return n, n != ""
		},
	},
	{
		Name:      "signature date",
		Types:     question.TextTypes,
		Validator: dom.All(within("formField-dateSignedOn"), dom.AutomationID("dateSectionMonth-input")),
		ValueFunc: func(*profile.Profile) (any, bool) {
			return time.Now().Format("01/02/2006"), true
		},
	},
	{Name: "terms", Types: question.Types(question.KindCheckbox), Validator: dom.AutomationID("agreementCheckbox"), Value: true},
}
