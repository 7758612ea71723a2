package generation

import (
	"math"
	"strings"

	"github.com/teranos/courseforge/ai/gateway"
	"github.com/teranos/courseforge/content"
	"github.com/teranos/courseforge/research"
)

// WordsPerMinute is the speaking rate used to size and time scripts
const WordsPerMinute = 150

type OutlineResult struct {
	CourseID     string           `json:"course_id"`
	Outline      *content.Outline `json:"outline"`
	ModuleCount  int              `json:"module_count"`
	LectureCount int              `json:"lecture_count"`
}

type LessonPlanResult struct {
	LessonID   string              `json:"lesson_id"`
	Plan       *content.LessonPlan `json:"plan"`
	Objectives []string            `json:"objectives"`
}

type ScriptResult struct {
	LessonID         string `json:"lesson_id"`
	Script           string `json:"script"`
	WordCount        int    `json:"word_count"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	TargetWords      int    `json:"target_words"`
	Model            string `json:"model,omitempty"`
}

// Question is one quiz item. Options and Pairs depend on the question type.
type Question struct {
	Type        string     `json:"type"`
	Prompt      string     `json:"prompt"`
	Options     []string   `json:"options,omitempty"`
	Pairs       [][]string `json:"pairs,omitempty"`
	Answer      string     `json:"answer"`
	Explanation string     `json:"explanation,omitempty"`
}

type QuizResult struct {
	LessonID  string     `json:"lesson_id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

type ContentVariationResult struct {
	VariationID string                `json:"variation_id"`
	LessonID    string                `json:"lesson_id"`
	Kind        content.VariationKind `json:"kind"`
	Title       string                `json:"title"`
	WordCount   int                   `json:"word_count"`
	Version     int                   `json:"version"`
}

type EnhancementResult struct {
	Mode       EnhancementMode      `json:"mode"`
	Content    string               `json:"content"`
	WordCount  int                  `json:"word_count"`
	Enrichment *research.Enrichment `json:"enrichment,omitempty"`
	Sources    []research.Source    `json:"sources,omitempty"`
	Model      string               `json:"model,omitempty"`
}

type ImageResult struct {
	Image    *gateway.ImageRef `json:"image"`
	CourseID string            `json:"course_id,omitempty"`
}

type FactCheckResult struct {
	TotalClaims     int                  `json:"total_claims"`
	Verified        int                  `json:"verified"`
	Disputed        int                  `json:"disputed"`
	Unverifiable    int                  `json:"unverifiable"`
	OverallAccuracy int                  `json:"overall_accuracy"`
	Results         []research.FactCheck `json:"results"`
}

// WordCount counts whitespace separated words
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// SpeakingMinutes is words / WordsPerMinute, rounded half away from zero
func SpeakingMinutes(words int) int {
	return int(math.Round(float64(words) / WordsPerMinute))
}

// Accuracy is verified*100/total rounded, 100 when nothing was checked
func Accuracy(verified, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(verified) * 100 / float64(total)))
}

func summarizeFactChecks(checks []research.FactCheck) *FactCheckResult {
	r := &FactCheckResult{TotalClaims: len(checks), Results: checks}
	if r.Results == nil {
		r.Results = []research.FactCheck{}
	}
	for _, fc := range checks {
		switch fc.Verdict {
		case research.VerdictVerified:
			r.Verified++
		case research.VerdictDisputed:
			r.Disputed++
		default:
			r.Unverifiable++
		}
	}
	r.OverallAccuracy = Accuracy(r.Verified, r.TotalClaims)
	return r
}
