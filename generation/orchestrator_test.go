package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/courseforge/ai/gateway"
	"github.com/teranos/courseforge/ai/gateway/gatewaytest"
	"github.com/teranos/courseforge/ai/openrouter"
	"github.com/teranos/courseforge/content"
	"github.com/teranos/courseforge/credits"
	"github.com/teranos/courseforge/errors"
	cftest "github.com/teranos/courseforge/internal/testing"
	"github.com/teranos/courseforge/notify"
	"github.com/teranos/courseforge/pulse/async"
	"github.com/teranos/courseforge/research"
)

// Orchestrator tests run a small course studio:
//   - ada authors "Tidal Energy 101" with the lesson "How tides form"
//   - scribe is a free-tier author with too few credits for an outline
//   - mallory is another tenant reaching for ada's entities
// The model is a scripted fake behind the real gateway; research is faked
// at the Researcher boundary.

const (
	outlineJSON = `{"modules":[` +
		`{"title":"Gravity","description":"Why tides happen","lectures":[{"title":"The moon","summary":"Pull","duration_minutes":8},{"title":"The sun","summary":"Spring tides","duration_minutes":6}]},` +
		`{"title":"Energy","description":"Harvesting tides","lectures":[{"title":"Barrages","summary":"Dams","duration_minutes":9}]}]}`
	planJSON = `Here is the plan: {"objectives":["Explain tidal forces"," ","Name two tide types"],` +
		`"introduction":"Tides rise and fall twice a day.",` +
		`"sections":[{"title":"Gravity","content":"The moon pulls the ocean.","key_points":["Moon","Sun"],"minutes":5}],` +
		`"activity":"Sketch the moon's orbit"}`
	variationJSON = "```json\n" + `{"title":"Why the sea breathes","body":"# Tides\n\nThe sea rises and falls.","metadata":{"tags":["tides"]}}` + "\n```"
)

var scriptText = strings.TrimSpace(strings.Repeat("tides rise ", 150)) // 300 words

func quizJSON(n int) string {
	qs := make([]string, n)
	for i := range qs {
		qs[i] = fmt.Sprintf(`{"type":"multiple-choice","prompt":"Question %d?","options":["a","b"],"answer":"a"}`, i+1)
	}
	qs = append(qs, `{"type":"essay","prompt":"Describe a barrage."}`, `{"type":"true-false","prompt":"  "}`)
	return `{"title":"Tide check","questions":[` + strings.Join(qs, ",") + `]}`
}

// studio answers every prompt in the catalog the way a well behaved model would
func studio(req openrouter.ChatRequest) (string, error) {
	sys := req.SystemPrompt
	switch {
	case strings.Contains(sys, "instructional designer"):
		return outlineJSON, nil
	case strings.Contains(sys, "lesson plan"):
		return planJSON, nil
	case strings.Contains(sys, "spoken lesson scripts"):
		return scriptText, nil
	case strings.Contains(sys, "assessment questions"):
		return quizJSON(7), nil
	case strings.Contains(sys, "YouTube"), strings.Contains(sys, "blog posts"), strings.Contains(sys, "ebook"):
		return variationJSON, nil
	case strings.Contains(sys, "You are an editor"):
		return "Edited: " + req.UserPrompt, nil
	}
	return "", errors.Newf("unexpected prompt: %s", sys)
}

type fakeResearch struct {
	mu       sync.Mutex
	disabled bool
	findings *research.Findings
	err      error
	verify   func(claim string) (*research.FactCheck, error)
	requests []research.Request
	verified []string
	enhanced int
}

func (f *fakeResearch) Enabled() bool { return !f.disabled }

func (f *fakeResearch) Research(_ context.Context, req research.Request) (*research.Findings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, errors.Mark(errors.Wrap(f.err, "research failed"), errors.ErrResearchFailure)
	}
	if f.findings == nil {
		return &research.Findings{}, nil
	}
	return f.findings, nil
}

func (f *fakeResearch) VerifyClaim(_ context.Context, claim string) (*research.FactCheck, error) {
	f.mu.Lock()
	f.verified = append(f.verified, claim)
	f.mu.Unlock()
	if f.verify != nil {
		return f.verify(claim)
	}
	return &research.FactCheck{Claim: claim, Verdict: research.VerdictVerified, Confidence: 0.9}, nil
}

func (f *fakeResearch) EnhanceContent(_ context.Context, content string, _ *research.Findings) (string, error) {
	f.mu.Lock()
	f.enhanced++
	f.mu.Unlock()
	return content + "\n\n## Sources\n- [NOAA](https://tidesandcurrents.noaa.gov)", nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	jobs    []notify.JobSummary
	batches []notify.BatchSummary
	err     error
}

func (r *recordingNotifier) NotifyJobComplete(_ context.Context, _ string, job notify.JobSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return r.err
}

func (r *recordingNotifier) NotifyBatchComplete(_ context.Context, _ string, b notify.BatchSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return r.err
}

func (r *recordingNotifier) Jobs() []notify.JobSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.JobSummary(nil), r.jobs...)
}

type studioHarness struct {
	orch     *Orchestrator
	jobs     *async.Queue
	ledger   *credits.Ledger
	content  *content.Store
	chat     *gatewaytest.FakeChat
	images   *gatewaytest.FakeImages
	research *fakeResearch
	notified *recordingNotifier
	course   *content.Course
	lesson   *content.Lesson
}

func newStudio(t *testing.T, grant int) *studioHarness {
	t.Helper()
	conn := cftest.CreateTestDB(t)
	h := &studioHarness{
		jobs:     async.NewQueue(conn),
		ledger:   credits.NewLedger(conn, grant),
		content:  content.NewStore(conn),
		chat:     &gatewaytest.FakeChat{Respond: studio},
		images:   &gatewaytest.FakeImages{URL: "https://img.example.com/tides.png"},
		research: &fakeResearch{},
		notified: &recordingNotifier{},
	}
	h.orch = New(Deps{
		Jobs:     h.jobs,
		Ledger:   h.ledger,
		Content:  h.content,
		Models:   gateway.New(gateway.Config{Chat: h.chat, Images: h.images}),
		Research: h.research,
		Notifier: h.notified,
	})

	ctx := context.Background()
	var err error
	h.course, err = h.content.CreateCourse(ctx, "ada", "Tidal Energy 101", "tidal energy", "high school")
	require.NoError(t, err)
	h.lesson, err = h.content.CreateLesson(ctx, "ada", h.course.ID, "How tides form", 12)
	require.NoError(t, err)
	return h
}

func (h *studioHarness) submit(t *testing.T, owner string, jt JobType, parent string, cfg string) (*Outcome, error) {
	t.Helper()
	var raw json.RawMessage
	if cfg != "" {
		raw = json.RawMessage(cfg)
	}
	out, err := h.orch.Submit(context.Background(), owner, Request{JobType: jt, ParentEntityID: parent, Config: raw})
	h.orch.Flush()
	return out, err
}

func (h *studioHarness) balance(t *testing.T, owner string) int {
	t.Helper()
	acc, err := h.ledger.Get(context.Background(), owner)
	require.NoError(t, err)
	return acc.CreditsRemaining
}

func (h *studioHarness) jobCount(t *testing.T, owner string) int {
	t.Helper()
	jobs, err := h.jobs.ListForOwner(context.Background(), owner, 100)
	require.NoError(t, err)
	return len(jobs)
}

func decodeResult[T any](t *testing.T, out *Outcome) *T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(out.Result, &v))
	return &v
}

func TestInsufficientCreditsCreatesNoJob(t *testing.T) {
	h := newStudio(t, 2)
	course, err := h.content.CreateCourse(context.Background(), "scribe", "Knots", "", "")
	require.NoError(t, err)

	out, err := h.submit(t, "scribe", JobOutline, course.ID, "")
	require.Error(t, err)
	assert.Nil(t, out)

	var insufficient *errors.InsufficientCreditsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 5, insufficient.Required)
	assert.Equal(t, 2, insufficient.Available)

	assert.Zero(t, h.jobCount(t, "scribe"), "admission failures leave no job row")
	assert.Zero(t, h.chat.Calls())
	assert.Equal(t, 2, h.balance(t, "scribe"))

	got, err := h.content.GetCourse(context.Background(), "scribe", course.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusDraft, got.Status, "course was never claimed")
}

func TestScriptJobCompletesAndDebits(t *testing.T) {
	h := newStudio(t, 10)
	ctx := context.Background()
	plan := &content.LessonPlan{Introduction: "Tides rise and fall.", Sections: []content.Section{{Title: "Gravity", Content: "The moon pulls."}}}
	require.NoError(t, h.content.FinishLessonPlan(ctx, h.lesson.ID, plan, []string{"Explain tides"}))

	out, err := h.submit(t, "ada", JobScript, h.lesson.ID, "")
	require.NoError(t, err)

	assert.Equal(t, async.JobStatusCompleted, out.Status)
	assert.Equal(t, 4, out.CreditsUsed)
	assert.Equal(t, 6, out.CreditsRemaining)
	assert.Equal(t, 6, h.balance(t, "ada"))

	res := decodeResult[ScriptResult](t, out)
	assert.Equal(t, 300, res.WordCount)
	assert.Equal(t, 2, res.EstimatedMinutes)
	assert.Equal(t, 1800, res.TargetWords, "12 minute lesson at 150 words per minute")

	reqs := h.chat.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].UserPrompt, "about 1800 words")
	assert.Contains(t, reqs[0].UserPrompt, "1. Gravity: The moon pulls.", "the lesson plan guides the script")

	lesson, err := h.content.GetLesson(ctx, "ada", h.lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, scriptText, lesson.Script)
	assert.Equal(t, content.StatusComplete, lesson.Status)

	job, err := h.jobs.Get(ctx, out.JobID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusCompleted, job.Status)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMessage)
	assert.JSONEq(t, string(out.Result), string(job.Result))

	debited, err := h.ledger.SumDebits(ctx, "ada", out.JobID, "")
	require.NoError(t, err)
	assert.Equal(t, 4, debited)

	notes := h.notified.Jobs()
	require.Len(t, notes, 1)
	assert.Equal(t, out.JobID, notes[0].JobID)
	assert.Equal(t, "completed", notes[0].Status)
	assert.Equal(t, 4, notes[0].CreditsUsed)
}

func TestContentVariationRequiresScript(t *testing.T) {
	h := newStudio(t, 10)

	_, err := h.submit(t, "ada", JobContentVariation, h.lesson.ID, `{"kind":"blog-post"}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPreconditionFailed))
	assert.Equal(t, errors.KindPreconditionFailed, errors.KindOf(err))

	assert.Zero(t, h.chat.Calls(), "no model call on a failed precondition")
	assert.Zero(t, h.jobCount(t, "ada"))
	assert.Equal(t, 10, h.balance(t, "ada"))
}

func TestContentVariationCreatesFirstVersion(t *testing.T) {
	h := newStudio(t, 10)
	ctx := context.Background()
	require.NoError(t, h.content.FinishScript(ctx, h.lesson.ID, "Welcome. Today we look at tides."))

	out, err := h.submit(t, "ada", JobContentVariation, h.lesson.ID, `{"kind":"blog-post"}`)
	require.NoError(t, err)
	assert.Equal(t, 4, out.CreditsUsed)

	res := decodeResult[ContentVariationResult](t, out)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, content.VariationBlogPost, res.Kind)

	v, err := h.content.GetVariation(ctx, "ada", res.VariationID)
	require.NoError(t, err)
	assert.Equal(t, "Why the sea breathes", v.Title)
	assert.Contains(t, v.Body, "The sea rises")
	assert.JSONEq(t, `{"tags":["tides"]}`, string(v.Metadata))

	versions, err := h.content.Versions(ctx, "ada", v.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	lesson, err := h.content.GetLesson(ctx, "ada", h.lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusDraft, lesson.Status, "variations never claim the lesson")
}

func TestFactCheckWithoutClaims(t *testing.T) {
	h := newStudio(t, 10)
	h.research.disabled = true

	out, err := h.submit(t, "ada", JobFactCheck, "", `{"content":"The ocean is wide. Waves move water. Tides come and go.","depth":"basic"}`)
	require.NoError(t, err)

	res := decodeResult[FactCheckResult](t, out)
	assert.Equal(t, 0, res.TotalClaims)
	assert.Equal(t, 100, res.OverallAccuracy)
	require.NotNil(t, res.Results)
	assert.Empty(t, res.Results)
	assert.JSONEq(t, `[]`, string(mustField(t, out.Result, "results")))
	assert.Equal(t, 1, out.CreditsUsed)
}

func mustField(t *testing.T, raw json.RawMessage, name string) json.RawMessage {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	return fields[name]
}

func TestFactCheckVerifiesEachClaim(t *testing.T) {
	h := newStudio(t, 10)
	h.research.verify = func(claim string) (*research.FactCheck, error) {
		verdict := research.VerdictVerified
		if strings.Contains(claim, "1850") {
			verdict = research.VerdictDisputed
		}
		return &research.FactCheck{Claim: claim, Verdict: verdict}, nil
	}

	text := "Tidal power supplies 2% of the grid. The first barrage opened in 1850. " +
		"Studies show tides are predictable. The turbines cost $40 million to build. Waves are pretty."
	out, err := h.submit(t, "ada", JobFactCheck, "", fmt.Sprintf(`{"content":%q,"depth":"thorough"}`, text))
	require.NoError(t, err)

	res := decodeResult[FactCheckResult](t, out)
	assert.Equal(t, 4, res.TotalClaims)
	assert.Equal(t, 3, res.Verified)
	assert.Equal(t, 1, res.Disputed)
	assert.Equal(t, 75, res.OverallAccuracy)
	assert.Equal(t, "Tidal power supplies 2% of the grid.", res.Results[0].Claim, "results keep claim order")
	assert.Equal(t, 2, out.CreditsUsed)
}

func TestFactCheckResearchFailureFailsJob(t *testing.T) {
	h := newStudio(t, 10)
	h.research.verify = func(string) (*research.FactCheck, error) {
		return nil, errors.Mark(errors.New("search quota exhausted"), errors.ErrResearchFailure)
	}

	out, err := h.submit(t, "ada", JobFactCheck, "", `{"content":"Tidal power supplies 2% of the grid."}`)
	require.Error(t, err)
	assert.Equal(t, errors.KindResearchFailure, errors.KindOf(err))
	require.NotNil(t, out)
	assert.Equal(t, async.JobStatusFailed, out.Status)
	assert.Contains(t, out.Error, "search quota exhausted")
	assert.Equal(t, 10, h.balance(t, "ada"))
}

func TestFactCheckUsesLessonScript(t *testing.T) {
	h := newStudio(t, 10)
	ctx := context.Background()

	_, err := h.submit(t, "ada", JobFactCheck, h.lesson.ID, "")
	assert.True(t, errors.Is(err, errors.ErrPreconditionFailed), "scriptless lesson has nothing to check")

	require.NoError(t, h.content.FinishScript(ctx, h.lesson.ID, "In 2019 the barrage produced 500 GWh."))
	out, err := h.submit(t, "ada", JobFactCheck, h.lesson.ID, "")
	require.NoError(t, err)
	res := decodeResult[FactCheckResult](t, out)
	assert.Equal(t, 1, res.TotalClaims)

	_, err = h.submit(t, "ada", JobFactCheck, "", "")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestProviderFailureFailsJobWithoutDebit(t *testing.T) {
	h := newStudio(t, 10)
	h.chat.Respond = func(openrouter.ChatRequest) (string, error) {
		return "", errors.New("upstream timeout")
	}

	out, err := h.submit(t, "ada", JobScript, h.lesson.ID, "")
	require.Error(t, err)
	assert.Equal(t, errors.KindProviderError, errors.KindOf(err))
	require.NotNil(t, out)
	assert.Equal(t, async.JobStatusFailed, out.Status)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, 10, out.CreditsRemaining)
	assert.Zero(t, out.CreditsUsed)

	assert.Equal(t, 10, h.balance(t, "ada"), "no credits consumed by a failed job")

	job, err := h.jobs.Get(context.Background(), out.JobID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "upstream timeout")
	assert.Empty(t, job.Result)

	lesson, err := h.content.GetLesson(context.Background(), "ada", h.lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusError, lesson.Status)
	assert.False(t, lesson.HasScript())

	notes := h.notified.Jobs()
	require.Len(t, notes, 1)
	assert.Equal(t, "failed", notes[0].Status)
}

func TestMalformedReplyFailsJob(t *testing.T) {
	h := newStudio(t, 10)
	h.chat.Respond = func(openrouter.ChatRequest) (string, error) { return "I'd rather not.", nil }

	out, err := h.submit(t, "ada", JobOutline, h.course.ID, "")
	require.Error(t, err)
	assert.Equal(t, errors.KindMalformedResponse, errors.KindOf(err))
	assert.Equal(t, async.JobStatusFailed, out.Status)

	course, err := h.content.GetCourse(context.Background(), "ada", h.course.ID)
	require.NoError(t, err)
	assert.Nil(t, course.Outline, "no partial domain write")
	assert.Equal(t, content.StatusError, course.Status)
}

func TestOutlineWithResearch(t *testing.T) {
	h := newStudio(t, 10)
	h.research.findings = &research.Findings{
		Summary:     "Tides are driven by the moon.",
		Sources:     []research.Source{{Title: "Tides", URL: "https://noaa.gov/tides", Domain: "noaa.gov"}},
		Suggestions: []string{"Cover: Spring and neap tides"},
	}

	out, err := h.submit(t, "ada", JobOutline, h.course.ID, `{"module_count":2,"research":true}`)
	require.NoError(t, err)
	require.NotNil(t, out.Enrichment)
	assert.Equal(t, research.EnrichmentApplied, out.Enrichment.Status)
	assert.Equal(t, 1, out.Enrichment.SourceCount)

	res := decodeResult[OutlineResult](t, out)
	assert.Equal(t, 2, res.ModuleCount)
	assert.Equal(t, 3, res.LectureCount)

	prompt := h.chat.Requests()[0].UserPrompt
	assert.Contains(t, prompt, "Tides are driven by the moon.")
	assert.Contains(t, prompt, "Audience: high school")

	course, err := h.content.GetCourse(context.Background(), "ada", h.course.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusComplete, course.Status)
	assert.Equal(t, 3, course.Outline.LectureCount())
}

func TestOutlineResearchFailureDegrades(t *testing.T) {
	h := newStudio(t, 10)
	h.research.err = errors.New("search provider down")

	out, err := h.submit(t, "ada", JobOutline, h.course.ID, `{"research":true}`)
	require.NoError(t, err, "enrichment failures never fail the job")
	require.NotNil(t, out.Enrichment)
	assert.Equal(t, research.EnrichmentSkipped, out.Enrichment.Status)
	assert.Contains(t, out.Enrichment.Reason, "search provider down")
	assert.Equal(t, 5, out.CreditsUsed)
}

func TestLessonPlanReplacesObjectives(t *testing.T) {
	h := newStudio(t, 10)
	ctx := context.Background()
	require.NoError(t, h.content.FinishLessonPlan(ctx, h.lesson.ID, &content.LessonPlan{}, []string{"Old objective"}))

	out, err := h.submit(t, "ada", JobLessonPlan, h.lesson.ID, "")
	require.NoError(t, err)
	res := decodeResult[LessonPlanResult](t, out)
	assert.Equal(t, []string{"Explain tidal forces", "Name two tide types"}, res.Objectives)

	assert.Contains(t, h.chat.Requests()[0].UserPrompt, `in the course "Tidal Energy 101"`)

	lesson, err := h.content.GetLesson(ctx, "ada", h.lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Explain tidal forces", "Name two tide types"}, lesson.Objectives)
	assert.Equal(t, "Sketch the moon's orbit", lesson.Plan.Activity)
}

func TestQuizAppendsActivity(t *testing.T) {
	h := newStudio(t, 10)
	ctx := context.Background()

	out, err := h.submit(t, "ada", JobQuiz, h.lesson.ID, `{"difficulty":"easy"}`)
	require.NoError(t, err)
	res := decodeResult[QuizResult](t, out)
	assert.Len(t, res.Questions, DefaultQuestionCount, "extra questions are dropped")
	assert.Equal(t, "Tide check", res.Title)

	_, err = h.submit(t, "ada", JobQuiz, h.lesson.ID, `{"question_count":9}`)
	require.NoError(t, err)

	lesson, err := h.content.GetLesson(ctx, "ada", h.lesson.ID)
	require.NoError(t, err)
	require.Len(t, lesson.Activities, 2)
	assert.Equal(t, "quiz", lesson.Activities[0].Kind)

	var second struct {
		Questions []Question `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(lesson.Activities[1].Payload, &second))
	require.Len(t, second.Questions, 8, "seven usable questions plus one with an unknown type")
	assert.Equal(t, QuestionShortAnswer, second.Questions[7].Type)
	assert.Equal(t, 4, h.balance(t, "ada"))
}

func TestEnhancementModes(t *testing.T) {
	h := newStudio(t, 20)

	out, err := h.submit(t, "ada", JobEnhancement, "", `{"mode":"simplify","content":"Gravitational interactions produce tides."}`)
	require.NoError(t, err)
	res := decodeResult[EnhancementResult](t, out)
	assert.Equal(t, "Edited: Gravitational interactions produce tides.", res.Content)
	assert.Nil(t, out.Enrichment)
	assert.Equal(t, 2, out.CreditsUsed)
	assert.Contains(t, h.chat.Requests()[0].SystemPrompt, "reader aged twelve")

	out, err = h.submit(t, "ada", JobEnhancement, "", `{"mode":"expand","content":"Tides."}`)
	require.NoError(t, err)
	assert.Equal(t, 3, out.CreditsUsed)
}

func TestResearchEnrich(t *testing.T) {
	h := newStudio(t, 20)
	h.research.findings = &research.Findings{Sources: []research.Source{{Title: "NOAA", URL: "https://tidesandcurrents.noaa.gov"}}}

	out, err := h.submit(t, "ada", JobEnhancement, "", `{"mode":"research-enrich","content":"Tides follow the moon. They repeat daily."}`)
	require.NoError(t, err)
	require.NotNil(t, out.Enrichment)
	assert.Equal(t, research.EnrichmentApplied, out.Enrichment.Status)

	res := decodeResult[EnhancementResult](t, out)
	assert.Contains(t, res.Content, "## Sources")
	assert.Len(t, res.Sources, 1)
	assert.Zero(t, h.chat.Calls(), "enrichment went through the research gateway")
	assert.Equal(t, "Tides follow the moon.", h.research.requests[0].Topic)
}

func TestResearchEnrichDegradesToPlainEnhance(t *testing.T) {
	h := newStudio(t, 20)
	h.research.err = errors.New("search provider down")

	out, err := h.submit(t, "ada", JobEnhancement, "", `{"mode":"research-enrich","content":"Tides follow the moon.","topic":"tides"}`)
	require.NoError(t, err)
	require.NotNil(t, out.Enrichment)
	assert.Equal(t, research.EnrichmentSkipped, out.Enrichment.Status)

	res := decodeResult[EnhancementResult](t, out)
	assert.Equal(t, "Edited: Tides follow the moon.", res.Content)
	assert.Equal(t, research.EnrichmentSkipped, res.Enrichment.Status)
	assert.Equal(t, 1, h.chat.Calls())
	assert.Zero(t, h.research.enhanced)
	assert.Equal(t, 3, out.CreditsUsed)
}

func TestImageJobStoresCourseCover(t *testing.T) {
	h := newStudio(t, 10)

	out, err := h.submit(t, "ada", JobImage, h.course.ID, "")
	require.NoError(t, err)
	res := decodeResult[ImageResult](t, out)
	assert.Equal(t, "https://img.example.com/tides.png", res.Image.URL)

	prompts := h.images.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], `"Tidal Energy 101"`)

	course, err := h.content.GetCourse(context.Background(), "ada", h.course.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/tides.png", course.ImageRef)

	_, err = h.submit(t, "ada", JobImage, "", "")
	assert.True(t, errors.IsInvalidRequestError(err), "free-standing images need a prompt")

	out, err = h.submit(t, "ada", JobImage, "", `{"prompt":"a lighthouse at dusk"}`)
	require.NoError(t, err)
	assert.Equal(t, 2, out.CreditsUsed)
}

func TestEntityAlreadyGeneratingIsRejected(t *testing.T) {
	h := newStudio(t, 10)
	require.NoError(t, h.content.BeginGeneration(context.Background(), content.KindLesson, h.lesson.ID, "ada"))

	_, err := h.submit(t, "ada", JobScript, h.lesson.ID, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.Zero(t, h.jobCount(t, "ada"))
	assert.Zero(t, h.chat.Calls())
}

// cronos finds a script run that died after claiming the lesson. Sweeping it
// must hand the lesson back so ada can generate again.
func TestSweptJobReleasesItsLesson(t *testing.T) {
	h := newStudio(t, 10)
	ctx := context.Background()

	require.NoError(t, h.content.BeginGeneration(ctx, content.KindLesson, h.lesson.ID, "ada"))
	job, err := h.jobs.Create(ctx, async.Spec{OwnerID: "ada", ParentEntityID: h.lesson.ID, JobType: string(JobScript)})
	require.NoError(t, err)
	_, err = h.jobs.Start(ctx, job.ID)
	require.NoError(t, err)

	sweeper := async.NewSweeper(h.jobs, -time.Minute, time.Minute, nil).OnFailed(h.orch.ReleaseAbandoned)
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lesson, err := h.content.GetLesson(ctx, "ada", h.lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusError, lesson.Status, "abandoned claim is released")

	out, err := h.submit(t, "ada", JobScript, h.lesson.ID, "")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 1, h.chat.Calls())
}

func TestForeignParentLooksMissing(t *testing.T) {
	h := newStudio(t, 10)

	_, err := h.submit(t, "mallory", JobScript, h.lesson.ID, "")
	assert.True(t, errors.IsNotFoundError(err))
	_, err = h.submit(t, "mallory", JobOutline, h.course.ID, "")
	assert.True(t, errors.IsNotFoundError(err))
	assert.Zero(t, h.jobCount(t, "mallory"))

	_, err = h.submit(t, "ada", JobScript, "", "")
	assert.True(t, errors.IsInvalidRequestError(err), "script jobs need a lesson")
	_, err = h.submit(t, "ada", "podcast", "", "")
	assert.True(t, errors.IsInvalidRequestError(err))
	_, err = h.submit(t, "", JobScript, h.lesson.ID, "")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestRetryRerunsFailedJob(t *testing.T) {
	h := newStudio(t, 10)
	ctx := context.Background()
	var fail sync.Once
	h.chat.Respond = func(req openrouter.ChatRequest) (string, error) {
		var err error
		fail.Do(func() { err = errors.New("upstream timeout") })
		if err != nil {
			return "", err
		}
		return studio(req)
	}

	first, err := h.submit(t, "ada", JobScript, h.lesson.ID, `{"tone":"playful"}`)
	require.Error(t, err)
	assert.Equal(t, async.JobStatusFailed, first.Status)

	_, err = h.orch.Retry(ctx, "mallory", first.JobID)
	assert.True(t, errors.IsNotFoundError(err))

	out, err := h.orch.Retry(ctx, "ada", first.JobID)
	require.NoError(t, err)
	h.orch.Flush()
	assert.Equal(t, first.JobID, out.JobID, "retry reuses the job")
	assert.Equal(t, async.JobStatusCompleted, out.Status)
	assert.Equal(t, 6, out.CreditsRemaining)

	reqs := h.chat.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].UserPrompt, "playful", "retry keeps the original config")

	job, err := h.jobs.Get(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
	assert.Empty(t, job.ErrorMessage)

	_, err = h.orch.Retry(ctx, "ada", first.JobID)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition), "completed jobs cannot be retried")
}

func TestRunFailsQueuedJobWithoutModelCall(t *testing.T) {
	h := newStudio(t, 10)
	ctx := context.Background()

	job, err := h.jobs.Create(ctx, async.Spec{
		OwnerID:        "ada",
		ParentEntityID: h.lesson.ID,
		BatchID:        "batch-1",
		JobType:        string(JobContentVariation),
		Config:         json.RawMessage(`{"kind":"ebook-chapter"}`),
	})
	require.NoError(t, err)

	out, err := h.orch.Run(ctx, job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPreconditionFailed))
	assert.Equal(t, async.JobStatusFailed, out.Status)
	assert.Zero(t, h.chat.Calls())

	stored, err := h.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusFailed, stored.Status)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, 10, h.balance(t, "ada"), "Run never debits")
}

func TestLifecycleIsMonotonic(t *testing.T) {
	h := newStudio(t, 20)
	updates := h.jobs.Subscribe()
	defer h.jobs.Unsubscribe(updates)

	ok, err := h.submit(t, "ada", JobOutline, h.course.ID, "")
	require.NoError(t, err)

	h.chat.Respond = func(openrouter.ChatRequest) (string, error) { return "", errors.New("boom") }
	failed, err := h.submit(t, "ada", JobScript, h.lesson.ID, "")
	require.Error(t, err)

	seen := map[string][]async.JobStatus{}
	for done := false; !done; {
		select {
		case job := <-updates:
			seen[job.ID] = append(seen[job.ID], job.Status)
		default:
			done = true
		}
	}
	assert.Equal(t, []async.JobStatus{async.JobStatusPending, async.JobStatusProcessing, async.JobStatusCompleted}, seen[ok.JobID])
	assert.Equal(t, []async.JobStatus{async.JobStatusPending, async.JobStatusProcessing, async.JobStatusFailed}, seen[failed.JobID])
}

func TestCreditsDebitedOnlyForCompletedJobs(t *testing.T) {
	h := newStudio(t, 100)
	ctx := context.Background()
	h.chat.Respond = func(req openrouter.ChatRequest) (string, error) {
		if strings.Contains(req.UserPrompt, "Doomed") {
			return "", errors.New("provider rejected the prompt")
		}
		return studio(req)
	}

	lessons := []string{"Spring tides", "Doomed lesson", "Neap tides", "Doomed again"}
	completed := 0
	for _, title := range lessons {
		lesson, err := h.content.CreateLesson(ctx, "ada", h.course.ID, title, 5)
		require.NoError(t, err)
		out, err := h.submit(t, "ada", JobScript, lesson.ID, "")
		if err == nil {
			completed++
			assert.Equal(t, CostScript, out.CreditsUsed)
		} else {
			assert.Zero(t, out.CreditsUsed)
		}
	}

	debited, err := h.ledger.SumDebits(ctx, "ada", "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, completed)
	assert.Equal(t, completed*CostScript, debited)
	assert.Equal(t, 100-completed*CostScript, h.balance(t, "ada"))
}

func TestNotificationFailureDoesNotAffectJob(t *testing.T) {
	h := newStudio(t, 10)
	h.notified.err = errors.New("smtp unreachable")

	out, err := h.submit(t, "ada", JobOutline, h.course.ID, "")
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusCompleted, out.Status)
	assert.Len(t, h.notified.Jobs(), 1)
	assert.Equal(t, 5, h.balance(t, "ada"))
}
