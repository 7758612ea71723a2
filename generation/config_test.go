package generation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/courseforge/content"
	"github.com/teranos/courseforge/errors"
)

func TestDecodeConfigDefaults(t *testing.T) {
	cfg, err := DecodeConfig(JobOutline, nil)
	require.NoError(t, err)
	outline := cfg.(*OutlineConfig)
	assert.Equal(t, DefaultModuleCount, outline.ModuleCount)
	assert.Equal(t, DefaultLecturesPerModule, outline.LecturesPerModule)
	assert.False(t, outline.Research)

	cfg, err = DecodeConfig(JobQuiz, json.RawMessage(`null`))
	require.NoError(t, err)
	quiz := cfg.(*QuizConfig)
	assert.Equal(t, DefaultQuestionCount, quiz.QuestionCount)
	assert.Equal(t, DefaultDifficulty, quiz.Difficulty)
	assert.Equal(t, QuestionTypes, quiz.QuestionTypes)

	cfg, err = DecodeConfig(JobScript, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultTone, cfg.(*ScriptConfig).Tone)

	cfg, err = DecodeConfig(JobFactCheck, nil)
	require.NoError(t, err)
	assert.Equal(t, DepthBasic, cfg.(*FactCheckConfig).Depth)
	assert.Equal(t, JobFactCheck, cfg.JobType())
}

func TestDecodeConfigRejects(t *testing.T) {
	tests := []struct {
		name    string
		jobType JobType
		raw     string
	}{
		{"not json", JobOutline, `{"module_count":`},
		{"wrong field type", JobOutline, `{"module_count":"five"}`},
		{"too many modules", JobOutline, `{"module_count":40}`},
		{"negative objectives", JobLessonPlan, `{"objective_count":-1}`},
		{"script too long", JobScript, `{"duration_minutes":600}`},
		{"unknown difficulty", JobQuiz, `{"difficulty":"brutal"}`},
		{"unknown question type", JobQuiz, `{"question_types":["essay"]}`},
		{"too many questions", JobQuiz, `{"question_count":500}`},
		{"missing variation kind", JobContentVariation, `{}`},
		{"unknown variation kind", JobContentVariation, `{"kind":"podcast"}`},
		{"unknown enhancement mode", JobEnhancement, `{"mode":"translate","content":"x"}`},
		{"empty enhancement content", JobEnhancement, `{"mode":"humanize","content":"  "}`},
		{"unknown depth", JobFactCheck, `{"depth":"forensic"}`},
		{"misspelled key", JobQuiz, `{"question_cout":9}`},
		{"key from another type", JobScript, `{"kind":"blog-post"}`},
		{"unknown image key", JobImage, `{"prompt":"a lighthouse","size":"4k"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeConfig(tt.jobType, json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequestError(err), "got %v", err)
		})
	}
}

func TestEnhancementTopicDefaultsToOpeningSentence(t *testing.T) {
	cfg, err := DecodeConfig(JobEnhancement, json.RawMessage(`{"mode":"research-enrich","content":"Tides follow the moon! They repeat daily."}`))
	require.NoError(t, err)
	assert.Equal(t, "Tides follow the moon!", cfg.(*EnhancementConfig).Topic)
}

func TestEncodeConfigRoundTripsThroughDecode(t *testing.T) {
	in := &ContentVariationConfig{Kind: content.VariationEbookChapter, Tone: "formal"}
	raw, err := EncodeConfig(in)
	require.NoError(t, err)

	out, err := DecodeConfig(JobContentVariation, raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseJobType(t *testing.T) {
	for _, jt := range JobTypes {
		got, err := ParseJobType(string(jt))
		require.NoError(t, err)
		assert.Equal(t, jt, got)
	}

	_, err := ParseJobType("podcast")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestCost(t *testing.T) {
	tests := []struct {
		cfg  Config
		want int
	}{
		{&OutlineConfig{}, 5},
		{&LessonPlanConfig{}, 3},
		{&ScriptConfig{}, 4},
		{&QuizConfig{}, 3},
		{&ContentVariationConfig{}, 4},
		{&EnhancementConfig{Mode: EnhanceHumanize}, 2},
		{&EnhancementConfig{Mode: EnhanceSimplify}, 2},
		{&EnhancementConfig{Mode: EnhanceExpand}, 3},
		{&EnhancementConfig{Mode: EnhanceResearchEnrich}, 3},
		{&ImageConfig{}, 2},
		{&FactCheckConfig{Depth: DepthBasic}, 1},
		{&FactCheckConfig{Depth: DepthThorough}, 2},
		{&FactCheckConfig{Depth: DepthComprehensive}, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.cfg.JobType()), func(t *testing.T) {
			assert.Equal(t, tt.want, Cost(tt.cfg))
		})
	}
}

func TestSpeakingMinutes(t *testing.T) {
	assert.Equal(t, 0, SpeakingMinutes(0))
	assert.Equal(t, 2, SpeakingMinutes(300))
	assert.Equal(t, 10, SpeakingMinutes(1500))
	assert.Equal(t, 3, SpeakingMinutes(400), "rounds to the nearest minute")
	assert.Equal(t, 4, WordCount("  tides\n rise and\tfall "))
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 100, Accuracy(0, 0))
	assert.Equal(t, 67, Accuracy(2, 3))
	assert.Equal(t, 0, Accuracy(0, 4))
}
