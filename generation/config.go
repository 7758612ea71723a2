package generation

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/teranos/courseforge/content"
	"github.com/teranos/courseforge/errors"
)

// Config is a typed job configuration. The set of implementations is closed.
type Config interface {
	JobType() JobType
	// Validate applies defaults and rejects impossible values
	Validate() error
	isConfig()
}

const (
	DefaultModuleCount       = 5
	MaxModuleCount           = 12
	DefaultLecturesPerModule = 3
	DefaultObjectiveCount    = 3
	DefaultQuestionCount     = 5
	MaxQuestionCount         = 50
	MaxScriptMinutes         = 120
	DefaultTone              = "conversational"
	DefaultDifficulty        = "medium"
	DefaultImageStyle        = "clean flat illustration"
)

type OutlineConfig struct {
	Topic             string `json:"topic,omitempty"`
	Audience          string `json:"audience,omitempty"`
	ModuleCount       int    `json:"module_count,omitempty"`
	LecturesPerModule int    `json:"lectures_per_module,omitempty"`
	Research          bool   `json:"research,omitempty"`
	Model             string `json:"model,omitempty"`
}

func (OutlineConfig) JobType() JobType { return JobOutline }
func (OutlineConfig) isConfig()        {}

func (c *OutlineConfig) Validate() error {
	if c.ModuleCount == 0 {
		c.ModuleCount = DefaultModuleCount
	}
	if c.ModuleCount < 1 || c.ModuleCount > MaxModuleCount {
		return errors.NewInvalidRequestError("module_count must be between 1 and %d, got %d", MaxModuleCount, c.ModuleCount)
	}
	if c.LecturesPerModule == 0 {
		c.LecturesPerModule = DefaultLecturesPerModule
	}
	if c.LecturesPerModule < 1 || c.LecturesPerModule > 10 {
		return errors.NewInvalidRequestError("lectures_per_module must be between 1 and 10, got %d", c.LecturesPerModule)
	}
	return nil
}

type LessonPlanConfig struct {
	ObjectiveCount int    `json:"objective_count,omitempty"`
	Model          string `json:"model,omitempty"`
}

func (LessonPlanConfig) JobType() JobType { return JobLessonPlan }
func (LessonPlanConfig) isConfig()        {}

func (c *LessonPlanConfig) Validate() error {
	if c.ObjectiveCount == 0 {
		c.ObjectiveCount = DefaultObjectiveCount
	}
	if c.ObjectiveCount < 1 || c.ObjectiveCount > 10 {
		return errors.NewInvalidRequestError("objective_count must be between 1 and 10, got %d", c.ObjectiveCount)
	}
	return nil
}

// ScriptConfig sizes the script by speaking time. Zero minutes means the lesson's duration.
type ScriptConfig struct {
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Tone            string `json:"tone,omitempty"`
	Model           string `json:"model,omitempty"`
}

func (ScriptConfig) JobType() JobType { return JobScript }
func (ScriptConfig) isConfig()        {}

func (c *ScriptConfig) Validate() error {
	if c.DurationMinutes < 0 || c.DurationMinutes > MaxScriptMinutes {
		return errors.NewInvalidRequestError("duration_minutes must be between 1 and %d, got %d", MaxScriptMinutes, c.DurationMinutes)
	}
	if strings.TrimSpace(c.Tone) == "" {
		c.Tone = DefaultTone
	}
	return nil
}

// Question types a quiz may mix
const (
	QuestionMultipleChoice = "multiple-choice"
	QuestionTrueFalse      = "true-false"
	QuestionShortAnswer    = "short-answer"
	QuestionMatching       = "matching"
	QuestionFillBlank      = "fill-blank"
)

// QuestionTypes lists every supported question type
var QuestionTypes = []string{
	QuestionMultipleChoice,
	QuestionTrueFalse,
	QuestionShortAnswer,
	QuestionMatching,
	QuestionFillBlank,
}

type QuizConfig struct {
	QuestionCount int      `json:"question_count,omitempty"`
	QuestionTypes []string `json:"question_types,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
	Model         string   `json:"model,omitempty"`
}

func (QuizConfig) JobType() JobType { return JobQuiz }
func (QuizConfig) isConfig()        {}

func (c *QuizConfig) Validate() error {
	if c.QuestionCount == 0 {
		c.QuestionCount = DefaultQuestionCount
	}
	if c.QuestionCount < 1 || c.QuestionCount > MaxQuestionCount {
		return errors.NewInvalidRequestError("question_count must be between 1 and %d, got %d", MaxQuestionCount, c.QuestionCount)
	}
	if len(c.QuestionTypes) == 0 {
		c.QuestionTypes = append([]string(nil), QuestionTypes...)
	}
	for _, qt := range c.QuestionTypes {
		if !knownQuestionType(qt) {
			return errors.WithHint(
				errors.NewInvalidRequestError("unknown question type %q", qt),
				"Valid question types: "+strings.Join(QuestionTypes, ", "),
			)
		}
	}
	switch c.Difficulty {
	case "":
		c.Difficulty = DefaultDifficulty
	case "easy", "medium", "hard":
	default:
		return errors.NewInvalidRequestError("difficulty must be easy, medium or hard, got %q", c.Difficulty)
	}
	return nil
}

func knownQuestionType(qt string) bool {
	for _, known := range QuestionTypes {
		if qt == known {
			return true
		}
	}
	return false
}

type ContentVariationConfig struct {
	Kind  content.VariationKind `json:"kind"`
	Tone  string                `json:"tone,omitempty"`
	Model string                `json:"model,omitempty"`
}

func (ContentVariationConfig) JobType() JobType { return JobContentVariation }
func (ContentVariationConfig) isConfig()        {}

func (c *ContentVariationConfig) Validate() error {
	if !c.Kind.Valid() {
		return errors.WithHint(
			errors.NewInvalidRequestError("unknown variation kind %q", c.Kind),
			"Valid kinds: youtube-script, blog-post, ebook-chapter",
		)
	}
	if strings.TrimSpace(c.Tone) == "" {
		c.Tone = DefaultTone
	}
	return nil
}

// EnhancementMode selects how caller content is reworked
type EnhancementMode string

const (
	EnhanceHumanize       EnhancementMode = "humanize"
	EnhanceSimplify       EnhancementMode = "simplify"
	EnhanceExpand         EnhancementMode = "expand"
	EnhanceResearchEnrich EnhancementMode = "research-enrich"
)

type EnhancementConfig struct {
	Mode    EnhancementMode `json:"mode"`
	Content string          `json:"content"`
	Topic   string          `json:"topic,omitempty"`
	Model   string          `json:"model,omitempty"`
}

func (EnhancementConfig) JobType() JobType { return JobEnhancement }
func (EnhancementConfig) isConfig()        {}

func (c *EnhancementConfig) Validate() error {
	switch c.Mode {
	case EnhanceHumanize, EnhanceSimplify, EnhanceExpand, EnhanceResearchEnrich:
	default:
		return errors.WithHint(
			errors.NewInvalidRequestError("unknown enhancement mode %q", c.Mode),
			"Valid modes: humanize, simplify, expand, research-enrich",
		)
	}
	if strings.TrimSpace(c.Content) == "" {
		return errors.NewInvalidRequestError("enhancement content cannot be empty")
	}
	if c.Mode == EnhanceResearchEnrich && strings.TrimSpace(c.Topic) == "" {
		c.Topic = firstSentence(c.Content)
	}
	return nil
}

// ImageConfig describes a cover or illustration. With a course parent and no
// prompt the course title is used.
type ImageConfig struct {
	Prompt string `json:"prompt,omitempty"`
	Style  string `json:"style,omitempty"`
}

func (ImageConfig) JobType() JobType { return JobImage }
func (ImageConfig) isConfig()        {}

func (c *ImageConfig) Validate() error {
	if strings.TrimSpace(c.Style) == "" {
		c.Style = DefaultImageStyle
	}
	return nil
}

// Depth bounds how many claims a fact-check verifies
type Depth string

const (
	DepthBasic         Depth = "basic"
	DepthThorough      Depth = "thorough"
	DepthComprehensive Depth = "comprehensive"
)

// ClaimCap is the most claims a depth extracts
func (d Depth) ClaimCap() int {
	switch d {
	case DepthThorough:
		return 15
	case DepthComprehensive:
		return 30
	default:
		return 5
	}
}

// FactCheckConfig checks Content, or the parent lesson's script when Content is empty.
type FactCheckConfig struct {
	Content string `json:"content,omitempty"`
	Depth   Depth  `json:"depth,omitempty"`
}

func (FactCheckConfig) JobType() JobType { return JobFactCheck }
func (FactCheckConfig) isConfig()        {}

func (c *FactCheckConfig) Validate() error {
	switch c.Depth {
	case "":
		c.Depth = DepthBasic
	case DepthBasic, DepthThorough, DepthComprehensive:
	default:
		return errors.NewInvalidRequestError("depth must be basic, thorough or comprehensive, got %q", c.Depth)
	}
	return nil
}

// DecodeConfig decodes raw into the typed config for t, applying defaults.
// An empty payload decodes to the type's defaults; a key the type does not
// define is rejected.
func DecodeConfig(t JobType, raw json.RawMessage) (Config, error) {
	var cfg Config
	switch t {
	case JobOutline:
		cfg = &OutlineConfig{}
	case JobLessonPlan:
		cfg = &LessonPlanConfig{}
	case JobScript:
		cfg = &ScriptConfig{}
	case JobQuiz:
		cfg = &QuizConfig{}
	case JobContentVariation:
		cfg = &ContentVariationConfig{}
	case JobEnhancement:
		cfg = &EnhancementConfig{}
	case JobImage:
		cfg = &ImageConfig{}
	case JobFactCheck:
		cfg = &FactCheckConfig{}
	default:
		return nil, errors.NewInvalidRequestError("unknown job type %q", t)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && string(raw) != "null" {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.Mark(
				errors.Wrapf(err, "invalid %s config", t),
				errors.ErrInvalidRequest,
			)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid %s config", t)
	}
	return cfg, nil
}

// EncodeConfig is the storage form of cfg
func EncodeConfig(cfg Config) (json.RawMessage, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s config", cfg.JobType())
	}
	return data, nil
}
