// File: internal/ats/lever/selectors.go
package lever

import (
	"github.com/xkilldash9x/autoapply/internal/ats"
	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/jobdata"
)

func class(tag, name string) string {
	return "//" + tag + "[" + dom.ClassContains(name) + "]"
}

// Document level selectors.
var (
	xpForm          = "//form[@id='application-form' or contains(@action,'/apply')]"
	xpApplyButton   = "//a[" + dom.ClassContains("postings-btn") + " and contains(@href,'/apply')]"
	xpSubmit        = "//button[@id='btn-submit' or @data-qa='btn-submit']"
	xpSuccess       = "//*[@data-qa='msg-submit-success'] | " + class("*", "application-confirmation")
	xpNotFound      = class("*", "page-not-found") + " | //h2[contains(normalize-space(),'find anything here')]"
	xpErrors        = class("*", "error-message") + " | //*[@data-qa='msg-submit-error'] | " + class("*", "application-error")
	xpLocationInput = "//input[@id='location-input' or @name='location']"
	xpLocationOpt   = class("*", "dropdown-location")
	xpFilename      = class("*", "filename") + " | //*[@data-qa='resume-filename']"
	xpUploaded      = ".//*[" + dom.ClassContains("filename") + " or @data-qa='resume-filename']"
	xpUploading     = class("*", "resume-upload-working")
	xpJobTitle      = "//div[" + dom.ClassContains("posting-headline") + "]/h2"
	xpJobLocation   = class("*", "posting-categories") + "//*[" + dom.ClassContains("location") + "]"
	xpJobContent    = class("div", "posting-page") + "//div[" + dom.ClassContains("section-wrapper") + "]"
)

var ignoreFields = dom.Any(
	dom.AttrEquals("name", "selectedLocation"),
	dom.AttrEquals("name", "h-captcha-response"),
	dom.AttrEquals("name", "g-recaptcha-response"),
	dom.AttrPrefix("name", "origin"),
)

// Selectors describes the single page application form.
var Selectors = ats.Selectors{
	Containers: []string{
		xpForm + "//li[" + dom.ClassContains("application-question") + "]",
		xpForm + "//div[" + dom.ClassContains("application-question") + "]",
	},
	Labels:       []string{".//div[" + dom.ClassContains("application-label") + "]", ".//div[" + dom.ClassContains("text") + "]", "./label"},
	Ignore:       ignoreFields,
	UploadedFile: xpUploaded,
	Submit:       xpSubmit,
	Errors:       xpErrors,
}

var jobSelectors = jobdata.Selectors{
	Title:       xpJobTitle,
	Location:    xpJobLocation,
	Description: xpJobContent,
}
