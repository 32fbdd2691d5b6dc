// File: internal/ats/greenhouse/selectors.go
package greenhouse

import (
	"github.com/xkilldash9x/autoapply/internal/ats"
	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
)

// PageSecurityCode is the emailed code prompt raised by a submit.
const PageSecurityCode ats.PageKind = "security_code"

func class(tag, name string) string {
	return "//" + tag + "[" + dom.ClassContains(name) + "]"
}

// Document level selectors. Both the classic boards.greenhouse.io markup
// and the newer job-boards markup are covered.
var (
	xpForm          = "//form[@id='application_form' or @id='application-form']"
	xpApplyButton   = "//*[@id='apply_button' or (self::button and " + dom.ClassContains("btn--apply") + ")]"
	xpSubmit        = "//*[@id='submit_app'] | //form[@id='application-form']//button[@type='submit']"
	xpConfirmation  = "//*[@id='application_confirmation'] | " + class("*", "application--confirmation")
	xpFlashError    = "//*[@id='flash-error'] | " + class("*", "flash-error")
	xpSecurityInput = "//input[@id='security_code' or starts-with(@id,'security-input-')]"
	xpErrors        = class("*", "helper-text--error") + " | //*[@id='error_message'] | " + class("*", "field-error-msg")
	xpOption        = class("*", "select__option") + " | //*[@role='option']"
	xpMultiValue    = class("*", "select__multi-value")
	xpFilename      = class("*", "file-upload__filename") + " | //*[@id='resume_filename']"
	xpUploaded      = ".//*[" + dom.ClassContains("file-upload__filename") + " or @id='resume_filename']"
	xpJobTitle      = "//h1[" + dom.ClassContains("app-title") + " or " + dom.ClassContains("section-header") + "]"
	xpJobCompany    = class("*", "company-name")
	xpJobLocation   = class("*", "job__location") + " | " + class("div", "location")
	xpJobContent    = "//*[@id='content'] | " + class("*", "job__description")
)

var ignoreFields = dom.Any(
	dom.AttrPrefix("id", "security-input-"),
	dom.AttrEquals("id", "security_code"),
	dom.AttrEquals("name", "g-recaptcha-response"),
)

// Selectors describes the single page application form.
var Selectors = ats.Selectors{
	Containers: []string{
		xpForm + "//div[" + dom.ClassContains("field") + "]",
		xpForm + "//div[" + dom.ClassContains("field-wrapper") + "]",
		xpForm + "//fieldset",
	},
	Labels:        []string{"./label", ".//legend", ".//label"},
	Ignore:        ignoreFields,
	Multiselect:   dom.AttrContains("class", "--is-multi"),
	SelectedItems: "." + xpMultiValue,
	UploadedFile:  xpUploaded,
	Submit:        xpSubmit,
	Errors:        xpErrors,
	Interstitial:  xpSecurityInput,
}

// securitySelectors submits the form again once the code is entered.
var securitySelectors = ats.Selectors{
	Submit: xpSubmit,
	Errors: xpErrors,
}

var jobSelectors = jobdata.Selectors{
	Title:       xpJobTitle,
	Company:     xpJobCompany,
	Location:    xpJobLocation,
	Description: xpJobContent,
}
