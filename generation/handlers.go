package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/teranos/courseforge/ai/gateway"
	"github.com/teranos/courseforge/content"
	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/logger"
	"github.com/teranos/courseforge/research"
)

// executed is a handler's typed result plus the research outcome, if any
type executed struct {
	value      any
	enrichment *research.Enrichment
}

// execute performs the generation steps and the domain write for t.
// Nothing is written to the domain entity unless every step succeeded.
func (o *Orchestrator) execute(ctx context.Context, t *task) (*executed, error) {
	switch t.jobType {
	case JobOutline:
		return o.generateOutline(ctx, t, t.cfg.(*OutlineConfig))
	case JobLessonPlan:
		return o.generateLessonPlan(ctx, t, t.cfg.(*LessonPlanConfig))
	case JobScript:
		return o.generateScript(ctx, t, t.cfg.(*ScriptConfig))
	case JobQuiz:
		return o.generateQuiz(ctx, t, t.cfg.(*QuizConfig))
	case JobContentVariation:
		return o.generateVariation(ctx, t, t.cfg.(*ContentVariationConfig))
	case JobEnhancement:
		return o.enhance(ctx, t.cfg.(*EnhancementConfig))
	case JobImage:
		return o.generateImage(ctx, t, t.cfg.(*ImageConfig))
	case JobFactCheck:
		return o.factCheck(ctx, t, t.cfg.(*FactCheckConfig))
	default:
		return nil, errors.AssertionFailedf("no handler for job type %q", t.jobType)
	}
}

func (o *Orchestrator) request(p *RenderedPrompt, model, entityID string) gateway.Request {
	return gateway.Request{
		Model:        model,
		SystemPrompt: p.System,
		UserPrompt:   p.User,
		Temperature:  p.Temperature,
		MaxTokens:    p.MaxTokens,
		EntityID:     entityID,
	}
}

// researchFor runs a research request, failing when research is not configured
func (o *Orchestrator) researchFor(ctx context.Context, req research.Request) (*research.Findings, error) {
	if !o.researchEnabled() {
		return nil, researchDisabled()
	}
	return o.research.Research(ctx, req)
}

func (o *Orchestrator) researchEnabled() bool {
	return o.research != nil && o.research.Enabled()
}

func researchDisabled() error {
	return errors.Mark(
		errors.Wrap(errors.ErrServiceUnavailable, "research is not configured"),
		errors.ErrResearchFailure,
	)
}

func malformed(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errors.ErrMalformedResponse)
}

func (o *Orchestrator) generateOutline(ctx context.Context, t *task, cfg *OutlineConfig) (*executed, error) {
	course := t.course
	topic := firstNonEmpty(cfg.Topic, course.Topic, course.Title)
	audience := firstNonEmpty(cfg.Audience, course.Audience, "general learners")

	data := promptData{
		Title:             course.Title,
		Topic:             topic,
		Audience:          audience,
		ModuleCount:       cfg.ModuleCount,
		LecturesPerModule: cfg.LecturesPerModule,
	}

	var enrichment *research.Enrichment
	if cfg.Research {
		findings, err := o.researchFor(ctx, research.Request{Topic: topic, Mode: research.ModePreGeneration})
		if err != nil {
			// Grounding is optional for outlines: degrade, never fail.
			enrichment = research.Skipped(err)
			o.logger.Warnw("Outline research skipped", logger.FieldEntityID, course.ID, logger.FieldError, err.Error())
		} else {
			enrichment = research.Applied(findings)
			data.Research = researchNotes(findings)
		}
	}

	prompt, err := o.prompts.Render("outline", data)
	if err != nil {
		return nil, err
	}
	var outline content.Outline
	if err := o.models.GenerateJSON(ctx, o.request(prompt, cfg.Model, course.ID), &outline); err != nil {
		return nil, err
	}
	if len(outline.Modules) == 0 {
		return nil, malformed("model returned an outline with no modules")
	}
	if err := o.content.FinishOutline(ctx, course.ID, &outline); err != nil {
		return nil, err
	}

	return &executed{
		value: &OutlineResult{
			CourseID:     course.ID,
			Outline:      &outline,
			ModuleCount:  len(outline.Modules),
			LectureCount: outline.LectureCount(),
		},
		enrichment: enrichment,
	}, nil
}

func researchNotes(f *research.Findings) string {
	var b strings.Builder
	b.WriteString(f.Summary)
	for _, s := range f.Suggestions {
		b.WriteString("\n- ")
		b.WriteString(s)
	}
	return strings.TrimSpace(b.String())
}

func (o *Orchestrator) generateLessonPlan(ctx context.Context, t *task, cfg *LessonPlanConfig) (*executed, error) {
	lesson := t.lesson
	prompt, err := o.prompts.Render("lesson_plan", promptData{
		Title:           lesson.Title,
		Course:          t.course,
		DurationMinutes: lesson.DurationMinutes,
		ObjectiveCount:  cfg.ObjectiveCount,
	})
	if err != nil {
		return nil, err
	}

	var reply struct {
		Objectives   []string          `json:"objectives"`
		Introduction string            `json:"introduction"`
		Sections     []content.Section `json:"sections"`
		Activity     string            `json:"activity"`
	}
	if err := o.models.GenerateJSON(ctx, o.request(prompt, cfg.Model, lesson.ID), &reply); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply.Introduction) == "" && len(reply.Sections) == 0 {
		return nil, malformed("model returned an empty lesson plan")
	}

	plan := &content.LessonPlan{
		Introduction: strings.TrimSpace(reply.Introduction),
		Sections:     reply.Sections,
		Activity:     strings.TrimSpace(reply.Activity),
	}
	objectives := cleanList(reply.Objectives)
	if err := o.content.FinishLessonPlan(ctx, lesson.ID, plan, objectives); err != nil {
		return nil, err
	}
	return &executed{value: &LessonPlanResult{LessonID: lesson.ID, Plan: plan, Objectives: objectives}}, nil
}

func (o *Orchestrator) generateScript(ctx context.Context, t *task, cfg *ScriptConfig) (*executed, error) {
	lesson := t.lesson
	minutes := cfg.DurationMinutes
	if minutes == 0 {
		minutes = lesson.DurationMinutes
	}
	if minutes <= 0 {
		minutes = 10
	}
	target := minutes * WordsPerMinute

	prompt, err := o.prompts.Render("script", promptData{
		Title:           lesson.Title,
		DurationMinutes: minutes,
		TargetWords:     target,
		Tone:            cfg.Tone,
		Plan:            planText(lesson.Plan),
	})
	if err != nil {
		return nil, err
	}
	resp, err := o.models.Generate(ctx, o.request(prompt, cfg.Model, lesson.ID))
	if err != nil {
		return nil, err
	}

	script := strings.TrimSpace(resp.Content)
	if script == "" {
		return nil, malformed("model returned an empty script")
	}
	if err := o.content.FinishScript(ctx, lesson.ID, script); err != nil {
		return nil, err
	}

	words := WordCount(script)
	return &executed{value: &ScriptResult{
		LessonID:         lesson.ID,
		Script:           script,
		WordCount:        words,
		EstimatedMinutes: SpeakingMinutes(words),
		TargetWords:      target,
		Model:            resp.Model,
	}}, nil
}

// planText flattens a lesson plan for prompts
func planText(p *content.LessonPlan) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	if p.Introduction != "" {
		fmt.Fprintf(&b, "Introduction: %s\n", p.Introduction)
	}
	for i, s := range p.Sections {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, s.Title, s.Content)
		for _, kp := range s.KeyPoints {
			fmt.Fprintf(&b, "   - %s\n", kp)
		}
	}
	if p.Activity != "" {
		fmt.Fprintf(&b, "Activity: %s\n", p.Activity)
	}
	return strings.TrimSpace(b.String())
}

func (o *Orchestrator) generateQuiz(ctx context.Context, t *task, cfg *QuizConfig) (*executed, error) {
	lesson := t.lesson
	source := lesson.Script
	if strings.TrimSpace(source) == "" {
		source = planText(lesson.Plan)
	}

	prompt, err := o.prompts.Render("quiz", promptData{
		Title:         lesson.Title,
		QuestionCount: cfg.QuestionCount,
		QuestionTypes: strings.Join(cfg.QuestionTypes, ", "),
		Difficulty:    cfg.Difficulty,
		Source:        source,
	})
	if err != nil {
		return nil, err
	}

	var reply struct {
		Title     string     `json:"title"`
		Questions []Question `json:"questions"`
	}
	if err := o.models.GenerateJSON(ctx, o.request(prompt, cfg.Model, lesson.ID), &reply); err != nil {
		return nil, err
	}

	questions := make([]Question, 0, len(reply.Questions))
	for _, q := range reply.Questions {
		if strings.TrimSpace(q.Prompt) == "" {
			continue
		}
		if !knownQuestionType(q.Type) {
			q.Type = QuestionShortAnswer
		}
		questions = append(questions, q)
		if len(questions) == cfg.QuestionCount {
			break
		}
	}
	if len(questions) == 0 {
		return nil, malformed("model returned a quiz with no usable questions")
	}

	title := firstNonEmpty(strings.TrimSpace(reply.Title), lesson.Title+" quiz")
	payload, err := json.Marshal(struct {
		Difficulty string     `json:"difficulty"`
		Questions  []Question `json:"questions"`
	}{cfg.Difficulty, questions})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode quiz")
	}
	// Quizzes append; earlier activities stay.
	if err := o.content.FinishActivity(ctx, lesson.ID, content.Activity{Kind: "quiz", Title: title, Payload: payload}); err != nil {
		return nil, err
	}
	return &executed{value: &QuizResult{LessonID: lesson.ID, Title: title, Questions: questions}}, nil
}

func (o *Orchestrator) generateVariation(ctx context.Context, t *task, cfg *ContentVariationConfig) (*executed, error) {
	lesson := t.lesson
	prompt, err := o.prompts.Render("variation_"+string(cfg.Kind), promptData{
		Title:  lesson.Title,
		Kind:   string(cfg.Kind),
		Tone:   cfg.Tone,
		Source: lesson.Script,
	})
	if err != nil {
		return nil, err
	}

	var reply struct {
		Title    string          `json:"title"`
		Body     string          `json:"body"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := o.models.GenerateJSON(ctx, o.request(prompt, cfg.Model, lesson.ID), &reply); err != nil {
		return nil, err
	}
	body := strings.TrimSpace(reply.Body)
	if body == "" {
		return nil, malformed("model returned an empty %s", cfg.Kind)
	}

	v := &content.ContentVariation{
		LessonID: lesson.ID,
		OwnerID:  t.owner,
		Kind:     cfg.Kind,
		Title:    firstNonEmpty(strings.TrimSpace(reply.Title), lesson.Title),
		Body:     body,
		Metadata: objectOrNil(reply.Metadata),
	}
	if err := o.content.CreateVariation(ctx, v); err != nil {
		return nil, err
	}
	return &executed{value: &ContentVariationResult{
		VariationID: v.ID,
		LessonID:    lesson.ID,
		Kind:        v.Kind,
		Title:       v.Title,
		WordCount:   WordCount(body),
		Version:     v.CurrentVersion,
	}}, nil
}

// objectOrNil keeps raw only when it is a JSON object
func objectOrNil(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' || !json.Valid(raw) {
		return nil
	}
	return raw
}

func (o *Orchestrator) enhance(ctx context.Context, cfg *EnhancementConfig) (*executed, error) {
	result := &EnhancementResult{Mode: cfg.Mode}
	promptName := "enhance_" + string(cfg.Mode)

	if cfg.Mode == EnhanceResearchEnrich {
		findings, err := o.researchFor(ctx, research.Request{
			Topic:   cfg.Topic,
			Context: cfg.Content,
			Mode:    research.ModePostGeneration,
		})
		switch {
		case err != nil:
			result.Enrichment = research.Skipped(err)
			o.logger.Warnw("Research enrichment skipped", logger.FieldError, err.Error())
		case len(findings.Sources) == 0:
			result.Enrichment = research.Applied(findings)
		default:
			enhanced, err := o.research.EnhanceContent(ctx, cfg.Content, findings)
			if err != nil {
				return nil, err
			}
			result.Content = enhanced
			result.WordCount = WordCount(enhanced)
			result.Enrichment = research.Applied(findings)
			result.Sources = findings.Sources
			return &executed{value: result, enrichment: result.Enrichment}, nil
		}
		// Nothing to weave in: the content still gets a plain editorial pass.
		promptName = "enhance_expand"
	}

	prompt, err := o.prompts.Render(promptName, promptData{Source: cfg.Content})
	if err != nil {
		return nil, err
	}
	resp, err := o.models.Generate(ctx, o.request(prompt, cfg.Model, ""))
	if err != nil {
		return nil, err
	}
	result.Content = strings.TrimSpace(resp.Content)
	result.WordCount = WordCount(result.Content)
	result.Model = resp.Model
	return &executed{value: result, enrichment: result.Enrichment}, nil
}

func (o *Orchestrator) generateImage(ctx context.Context, t *task, cfg *ImageConfig) (*executed, error) {
	prompt := strings.TrimSpace(cfg.Prompt)
	entityID := ""
	if t.course != nil {
		entityID = t.course.ID
		if prompt == "" {
			prompt = fmt.Sprintf("Cover illustration for an online course titled %q about %s", t.course.Title, firstNonEmpty(t.course.Topic, t.course.Title))
		}
	}

	ref, err := o.models.GenerateImage(ctx, prompt, cfg.Style, entityID)
	if err != nil {
		return nil, err
	}
	if t.course != nil {
		if err := o.content.FinishCourseImage(ctx, t.course.ID, ref.URL); err != nil {
			return nil, err
		}
	}
	return &executed{value: &ImageResult{Image: ref, CourseID: entityID}}, nil
}

// factCheck verifies each extracted claim independently. Research is the
// whole point of this job, so any research failure fails it.
func (o *Orchestrator) factCheck(ctx context.Context, t *task, cfg *FactCheckConfig) (*executed, error) {
	text := cfg.Content
	if strings.TrimSpace(text) == "" && t.lesson != nil {
		text = t.lesson.Script
	}

	claims := ExtractClaims(text, cfg.Depth)
	checks := make([]research.FactCheck, len(claims))
	if len(claims) > 0 {
		if !o.researchEnabled() {
			return nil, researchDisabled()
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.factCheckLimit)
		for i, claim := range claims {
			g.Go(func() error {
				fc, err := o.research.VerifyClaim(gctx, claim)
				if err != nil {
					return errors.Wrapf(err, "failed to verify claim %d", i+1)
				}
				checks[i] = *fc
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return &executed{value: summarizeFactChecks(checks)}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
