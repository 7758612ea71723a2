// Package generation drives one generation job from admission to settlement.
//
// Every job type follows the same shape: admit against the ledger, read and
// claim the parent entity, create and start the job, call the model (and for
// some types the research gateway), write the domain entity, complete the job,
// debit, notify. Configs and results are typed per job type and only cross the
// storage boundary as JSON.
package generation

import (
	"github.com/teranos/courseforge/content"
	"github.com/teranos/courseforge/errors"
)

// JobType is the closed set of generation jobs
type JobType string

const (
	JobOutline          JobType = "outline"
	JobLessonPlan       JobType = "lesson-plan"
	JobScript           JobType = "script"
	JobQuiz             JobType = "quiz"
	JobContentVariation JobType = "content-variation"
	JobEnhancement      JobType = "enhancement"
	JobImage            JobType = "image"
	JobFactCheck        JobType = "fact-check"
)

// JobTypes lists every job type in a stable order
var JobTypes = []JobType{
	JobOutline,
	JobLessonPlan,
	JobScript,
	JobQuiz,
	JobContentVariation,
	JobEnhancement,
	JobImage,
	JobFactCheck,
}

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseJobType validates s
func ParseJobType(s string) (JobType, error) {
	t := JobType(s)
	if !t.Valid() {
		return "", errors.WithHint(
			errors.NewInvalidRequestError("unknown job type %q", s),
			"Valid job types: outline, lesson-plan, script, quiz, content-variation, enhancement, image, fact-check",
		)
	}
	return t, nil
}

// parent describes which entity a job type reads, and whether it is required.
type parent struct {
	kind     content.Kind
	required bool
	// claim means the job writes the entity and must own it while running
	claim bool
}

func (t JobType) parent() (parent, bool) {
	switch t {
	case JobOutline:
		return parent{kind: content.KindCourse, required: true, claim: true}, true
	case JobLessonPlan, JobScript, JobQuiz:
		return parent{kind: content.KindLesson, required: true, claim: true}, true
	case JobContentVariation:
		return parent{kind: content.KindLesson, required: true}, true
	case JobImage:
		return parent{kind: content.KindCourse, claim: true}, true
	case JobFactCheck:
		return parent{kind: content.KindLesson}, true
	case JobEnhancement:
		return parent{}, false
	}
	return parent{}, false
}
