// File: internal/question/correction.go
package question

import (
	"fmt"
	"strings"
)

// CorrectionKind is a structural remediation applied between iterations.
type CorrectionKind uint8

const (
	RemoveWorkContainer CorrectionKind = iota + 1
	RemoveEduContainer
	RemoveWebsiteContainer
	MarkQuestionFailed
)

func (k CorrectionKind) String() string {
	switch k {
	case RemoveWorkContainer:
		return "REMOVE_WORK_CONTAINER"
	case RemoveEduContainer:
		return "REMOVE_EDU_CONTAINER"
	case RemoveWebsiteContainer:
		return "REMOVE_WEBSITE_CONTAINER"
	case MarkQuestionFailed:
		return "MARK_QUESTION_FAILED"
	}
	return fmt.Sprintf("correction(%d)", uint8(k))
}

// Correction targets a sub-form container or a question.
type Correction struct {
	Kind           CorrectionKind
	ContainerIdx   int
	DBAnswerKeyIdx int
	QuestionID     string
	Reason         string
}

// containerRoots maps repeatable profile sections to their removal kind.
var containerRoots = map[string]CorrectionKind{
	"workExperiences": RemoveWorkContainer,
	"education":       RemoveEduContainer,
	"otherURLs":       RemoveWebsiteContainer,
}

// ContainerCorrection returns the removal correction for an answer key that
// points into a repeatable sub-form, such as "workExperiences[2].company".
func ContainerCorrection(meta Meta, questionID string) (Correction, bool) {
	root := meta.DBAnswerKey
	if i := strings.IndexAny(root, ".["); i >= 0 {
		root = root[:i]
	}
	kind, ok := containerRoots[root]
	if !ok {
		return Correction{}, false
	}
	return Correction{
		Kind:           kind,
		ContainerIdx:   meta.ContainerIdx,
		DBAnswerKeyIdx: meta.DBAnswerKeyIdx,
		QuestionID:     questionID,
		Reason:         "profile entry has no matching container on the page",
	}, true
}
