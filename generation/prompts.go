package generation

import (
	_ "embed"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/teranos/courseforge/content"
	"github.com/teranos/courseforge/errors"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// promptEntry is one catalog entry as written in YAML
type promptEntry struct {
	System      string   `yaml:"system"`
	User        string   `yaml:"user"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
}

type compiledPrompt struct {
	system      *template.Template
	user        *template.Template
	temperature *float64
	maxTokens   *int
}

// Prompts is a parsed prompt catalog. Safe for concurrent use.
type Prompts struct {
	entries map[string]*compiledPrompt
}

// RenderedPrompt is a prompt ready for the model gateway
type RenderedPrompt struct {
	System      string
	User        string
	Temperature *float64
	MaxTokens   *int
}

// promptData is the single value every template renders against
type promptData struct {
	Title             string
	Topic             string
	Audience          string
	Course            *content.Course
	ModuleCount       int
	LecturesPerModule int
	ObjectiveCount    int
	DurationMinutes   int
	TargetWords       int
	Tone              string
	Plan              string
	QuestionCount     int
	QuestionTypes     string
	Difficulty        string
	Kind              string
	Source            string
	Research          string
}

// ParsePrompts parses a YAML catalog and compiles every template
func ParsePrompts(data []byte) (*Prompts, error) {
	var raw map[string]promptEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse prompt catalog YAML")
	}

	p := &Prompts{entries: make(map[string]*compiledPrompt, len(raw))}
	for name, entry := range raw {
		if strings.TrimSpace(entry.User) == "" {
			return nil, errors.Newf("prompt %q has no user template", name)
		}
		if entry.Temperature != nil && (*entry.Temperature < 0 || *entry.Temperature > 2) {
			return nil, errors.Newf("prompt %q: temperature must be between 0.0 and 2.0, got %f", name, *entry.Temperature)
		}
		if entry.MaxTokens != nil && *entry.MaxTokens < 1 {
			return nil, errors.Newf("prompt %q: max_tokens must be positive, got %d", name, *entry.MaxTokens)
		}

		system, err := template.New(name + ".system").Parse(entry.System)
		if err != nil {
			return nil, errors.Wrapf(err, "prompt %q: invalid system template", name)
		}
		user, err := template.New(name + ".user").Parse(entry.User)
		if err != nil {
			return nil, errors.Wrapf(err, "prompt %q: invalid user template", name)
		}
		p.entries[name] = &compiledPrompt{
			system:      system,
			user:        user,
			temperature: entry.Temperature,
			maxTokens:   entry.MaxTokens,
		}
	}
	return p, nil
}

var (
	defaultPromptsOnce sync.Once
	defaultPrompts     *Prompts
)

// DefaultPrompts is the embedded catalog. It panics if the embedded file is broken,
// which the package tests catch.
func DefaultPrompts() *Prompts {
	defaultPromptsOnce.Do(func() {
		p, err := ParsePrompts(defaultPromptsYAML)
		if err != nil {
			panic(err)
		}
		defaultPrompts = p
	})
	return defaultPrompts
}

// Has reports whether the catalog defines name
func (p *Prompts) Has(name string) bool {
	_, ok := p.entries[name]
	return ok
}

// Render executes the named prompt against data
func (p *Prompts) Render(name string, data promptData) (*RenderedPrompt, error) {
	entry, ok := p.entries[name]
	if !ok {
		return nil, errors.AssertionFailedf("no prompt named %q", name)
	}

	var system, user strings.Builder
	if err := entry.system.Execute(&system, data); err != nil {
		return nil, errors.Wrapf(err, "failed to render %s system prompt", name)
	}
	if err := entry.user.Execute(&user, data); err != nil {
		return nil, errors.Wrapf(err, "failed to render %s user prompt", name)
	}
	return &RenderedPrompt{
		System:      strings.TrimSpace(system.String()),
		User:        strings.TrimSpace(user.String()),
		Temperature: entry.temperature,
		MaxTokens:   entry.maxTokens,
	}, nil
}
