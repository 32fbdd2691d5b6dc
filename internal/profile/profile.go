// File: internal/profile/profile.go
// Package profile models the read-only user profile document and evaluates
// dotted/bracketed paths against it.
package profile

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Profile is the applicant's data. Field json names are the path vocabulary
// used by catalogs, e.g. "workExperiences[0].company".
type Profile struct {
	Email          string   `json:"email"`
	Username       string   `json:"username,omitempty"`
	FirstName      string   `json:"firstName"`
	MiddleName     string   `json:"middleName,omitempty"`
	LastName       string   `json:"lastName"`
	PreferredName  string   `json:"preferredName,omitempty"`
	PhoneExtension string   `json:"phoneExtension"`
	PhoneNumber    string   `json:"phoneNumber"`
	PhoneType      string   `json:"phoneType,omitempty"`
	BirthDate      string   `json:"birthDate,omitempty"`
	LinkedIn       string   `json:"linkedin,omitempty"`
	GitHub         string   `json:"github,omitempty"`
	Portfolio      string   `json:"portfolio,omitempty"`
	OtherURLs      []string `json:"otherURLs,omitempty"`
	Skills         []string `json:"skills,omitempty"`
	Languages      []string `json:"languages,omitempty"`

	RelocationPreference bool   `json:"relocationPreference"`
	RelocationSupport    bool   `json:"relocationSupport"`
	AccommodationSupport bool   `json:"accomodationSupport"`
	RemoteWorkPreference bool   `json:"remoteWorkPreference"`
	NoticePeriod         string `json:"noticePeriod,omitempty"`
	DesiredSalary        string `json:"desiredSalary,omitempty"`
	UseSalaryRange       bool   `json:"useSalaryRange,omitempty"`
	HeardAboutUs         string `json:"heardAboutUs,omitempty"`

	EmploymentInfo  EmploymentInfo     `json:"employmentInfo"`
	WorkExperiences []WorkExperience   `json:"workExperiences"`
	Education       []Education        `json:"education"`
	Projects        map[string]Project `json:"projects,omitempty"`
	Certifications  []Certification    `json:"certifications,omitempty"`

	Addresses                  []Address `json:"addresses"`
	PrimaryAddressContainerIdx int       `json:"primaryAddressContainerIdx"`
	LLMAddressSelectionEnabled bool      `json:"llmAddressSelectionEnabled"`

	Resumes                   []Resume `json:"resumes"`
	PrimaryResumeContainerIdx int      `json:"primaryResumeContainerIdx"`
	LLMResumeSelectionEnabled bool     `json:"llmResumeSelectionEnabled"`

	Password          string `json:"password,omitempty"`
	SecondaryPassword string `json:"secondaryPassword,omitempty"`
}

// EmploymentInfo holds eligibility and voluntary self-identification answers.
type EmploymentInfo struct {
	VisaSponsorshipRequirement bool     `json:"visaSponsorshipRequirement"`
	WorkAuthorization          bool     `json:"workAuthorization"`
	RightToWork                bool     `json:"rightToWork"`
	BackgroundCheck            bool     `json:"backgroundCheck"`
	EmploymentRestrictions     bool     `json:"employmentRestrictions"`
	NonCompeteRestrictions     bool     `json:"nonCompeteRestrictions"`
	SecurityClearance          bool     `json:"securityClearance"`
	CitizenshipStatus          bool     `json:"citizenshipStatus"`
	Gender                     string   `json:"gender"`
	SexualOrientation          string   `json:"sexualOrientation,omitempty"`
	LGBTQStatus                bool     `json:"lgbtqStatus"`
	HispanicOrLatino           bool     `json:"hispanicOrLatino"`
	MilitaryService            bool     `json:"militaryService"`
	VeteranStatus              bool     `json:"veteranStatus"`
	DisabilityStatus           bool     `json:"disabilityStatus"`
	VisaStatus                 string   `json:"visaStatus,omitempty"`
	Ethnicity                  []string `json:"ethnicity,omitempty"`
}

// WorkExperience is one entry of the ordered work history.
type WorkExperience struct {
	JobTitle         string  `json:"jobTitle"`
	Company          string  `json:"company"`
	JobLocationType  string  `json:"jobLocationType,omitempty"`
	Location         string  `json:"location,omitempty"`
	JobType          string  `json:"jobType,omitempty"`
	RoleDescription  string  `json:"roleDescription,omitempty"`
	StartDate        string  `json:"startDate"`
	EndDate          string  `json:"endDate"`
	ReasonForLeaving *string `json:"reasonForLeaving"`
}

// Current reports whether the experience has no end date.
func (w WorkExperience) Current() bool { return w.EndDate == "" }

// Education is one entry of the ordered education history. Degree and Major
// carry spelling variants so option matching has several candidates.
type Education struct {
	School    string   `json:"school"`
	Degree    []string `json:"degree"`
	Major     []string `json:"major"`
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
	GPA       string   `json:"gpa,omitempty"`
}

// Project is a portfolio entry keyed by its title.
type Project struct {
	Description string   `json:"description"`
	Topics      []string `json:"topics,omitempty"`
	URL         string   `json:"url,omitempty"`
}

// Certification is a professional certificate.
type Certification struct {
	Name   string `json:"name"`
	Issuer string `json:"issuer,omitempty"`
	Date   string `json:"date,omitempty"`
}

// Address is a postal address.
type Address struct {
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	County       string `json:"county,omitempty"`
	State        string `json:"state"`
	PostalCode   string `json:"postalCode"`
	Country      string `json:"country"`
}

// Location renders the address as "City, State".
func (a Address) Location() string {
	switch {
	case a.City != "" && a.State != "":
		return a.City + ", " + a.State
	case a.City != "":
		return a.City
	default:
		return a.State
	}
}

// Resume describes a stored resume file and what it targets.
type Resume struct {
	ResumeName       string `json:"resumeName,omitempty"`
	ResumeCategory   string `json:"resumeCategory"`
	ResumeRegion     string `json:"resumeRegion"`
	ResumeStoredPath string `json:"resumeStoredPath"`
}

// FullName joins first and last name.
func (p *Profile) FullName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.LastName
	}
}

// PrimaryAddress returns the address marked primary, or false when the
// profile has none or the index is out of range.
func (p *Profile) PrimaryAddress() (Address, bool) {
	if p.PrimaryAddressContainerIdx < 0 || p.PrimaryAddressContainerIdx >= len(p.Addresses) {
		return Address{}, false
	}
	return p.Addresses[p.PrimaryAddressContainerIdx], true
}

// PrimaryResume returns the resume marked primary.
func (p *Profile) PrimaryResume() (Resume, bool) {
	if p.PrimaryResumeContainerIdx < 0 || p.PrimaryResumeContainerIdx >= len(p.Resumes) {
		return Resume{}, false
	}
	return p.Resumes[p.PrimaryResumeContainerIdx], true
}

// Load reads a profile document. A leading "~" is expanded.
func Load(path string) (*Profile, error) {
	resolved, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve profile path '%s': %w", path, err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile '%s': %w", resolved, err)
	}
	return Parse(data)
}

// Parse decodes a profile document.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &p, nil
}
