// File: internal/ats/workday/selectors.go
package workday

import (
	"github.com/xkilldash9x/autoapply/internal/ats"
	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
	"github.com/xkilldash9x/autoapply/internal/question"
)

// Application steps, named after the progress bar.
const (
	PageMyInformation     ats.PageKind = "my_information"
	PageMyExperience      ats.PageKind = "my_experience"
	PageQuestions         ats.PageKind = "application_questions"
	PageVoluntary         ats.PageKind = "voluntary_disclosures"
	PageSelfIdentify      ats.PageKind = "self_identify"
	PageApplicationReview ats.PageKind = ats.PageReview
)

// aid builds an XPath matching a data-automation-id.
func aid(tag, id string) string {
	return "//" + tag + "[@data-automation-id='" + id + "']"
}

// Document level selectors.
var (
	xpApplyButton     = aid("a", "adventureButton")
	xpApplyManually   = aid("a", "applyManually")
	xpProgressStep    = aid("*", "progressBarActiveStep")
	xpNextButton      = aid("button", "pageFooterNextButton")
	xpSubmitButton    = aid("button", "pageFooterSubmitButton")
	xpErrorMessage    = aid("*", "errorMessage")
	xpCongratulations = aid("*", "congratulationsPopup")
	xpAlreadyApplied  = aid("*", "alreadyApplied")
	xpPageNotFound    = aid("*", "jobPostingPageNotFound")
	xpErrorPage       = aid("*", "errorPage")
	xpJobTitle        = aid("*", "jobPostingHeader")
	xpJobLocation     = aid("*", "locations") + "//dd"
	xpJobDescription  = aid("*", "jobPostingDescription")
	xpPromptOption    = "//*[@data-automation-id='promptOption' or @role='option']"
	xpSelectedItem    = ".//*[@data-automation-id='selectedItem']"
	xpUploadedFile    = ".//*[@data-automation-id='file-upload-item-name']"
	xpResumeInput     = aid("input", "file-upload-input-ref")
	xpUploadProgress  = aid("*", "file-upload-progress")
	xpFieldContainers = "//div[starts-with(@data-automation-id,'formField-')]"
)

// Auth page selectors.
var (
	xpAuthPassword       = aid("input", "password")
	xpAuthVerifyPassword = aid("input", "verifyPassword")
	xpAuthConsent        = aid("input", "createAccountCheckbox")
	xpCreateAccount      = aid("*", "createAccountSubmitButton")
	xpSignIn             = aid("*", "signInSubmitButton")
	xpSignInLink         = aid("*", "signInLink")
	xpAuthError          = "//*[@data-automation-id='errorMessage' or @role='alert']"
	xpVerifyPrompt       = "//*[@data-automation-id='verifyEmailMessage' or @data-automation-id='resendVerificationEmail']"
)

// Sub-forms of the My Experience step.
var (
	workSubForm = ats.SubForm{
		Kind:      question.RemoveWorkContainer,
		Container: "//div[@data-automation-id='workExperienceSection']//div[starts-with(@data-automation-id,'workExperience-')]",
		Remove:    ".//button[@data-automation-id='panel-set-delete-button']",
		Add:       "//div[@data-automation-id='workExperienceSection']//button[@data-automation-id='Add' or @data-automation-id='Add Another']",
	}
	educationSubForm = ats.SubForm{
		Kind:      question.RemoveEduContainer,
		Container: "//div[@data-automation-id='educationSection']//div[starts-with(@data-automation-id,'education-')]",
		Remove:    ".//button[@data-automation-id='panel-set-delete-button']",
		Add:       "//div[@data-automation-id='educationSection']//button[@data-automation-id='Add' or @data-automation-id='Add Another']",
	}
	websiteSubForm = ats.SubForm{
		Kind:      question.RemoveWebsiteContainer,
		Container: "//div[@data-automation-id='websiteSection']//div[starts-with(@data-automation-id,'websitePanelSet-')]",
		Remove:    ".//button[@data-automation-id='panel-set-delete-button']",
		Add:       "//div[@data-automation-id='websiteSection']//button[@data-automation-id='Add' or @data-automation-id='Add Another']",
	}
)

// ignoreFields never hold answers: survey trackers and the hidden honeypot.
var ignoreFields = dom.Any(
	dom.AttrPrefix("name", "surveysResponse"),
	dom.AutomationID("beecatcher"),
)

var multiselect = dom.Any(
	dom.AutomationID("multiselectInputContainer"),
	dom.AttrEquals("data-uxi-widget-type", "multiselect"),
)

func formSelectors(subForms ...ats.SubForm) ats.Selectors {
	return ats.Selectors{
		Containers:    []string{xpFieldContainers},
		Labels:        []string{"./label", ".//legend", "./div/label"},
		Ignore:        ignoreFields,
		Multiselect:   multiselect,
		SelectedItems: xpSelectedItem,
		UploadedFile:  xpUploadedFile,
		Submit:        xpNextButton,
		Errors:        xpErrorMessage,
		Progress:      xpProgressStep,
		SubForms:      subForms,
	}
}

// Selectors is the Workday selector catalog.
var Selectors = ats.Catalog{
	PageMyInformation: formSelectors(),
	PageMyExperience:  formSelectors(workSubForm, educationSubForm, websiteSubForm),
	PageQuestions:     formSelectors(),
	PageVoluntary:     formSelectors(),
	PageSelfIdentify:  formSelectors(),
	PageApplicationReview: func() ats.Selectors {
		s := formSelectors()
		s.Submit = xpSubmitButton
		return s
	}(),
}

// stepKinds maps progress bar titles to page kinds, checked in order.
var stepKinds = []struct {
	title string
	kind  ats.PageKind
}{
	{"my information", PageMyInformation},
	{"my experience", PageMyExperience},
	{"application questions", PageQuestions},
	{"voluntary disclosures", PageVoluntary},
	{"self identify", PageSelfIdentify},
	{"review", PageApplicationReview},
}

var jobSelectors = jobdata.Selectors{
	Title:       xpJobTitle,
	Location:    xpJobLocation,
	Description: xpJobDescription,
}
