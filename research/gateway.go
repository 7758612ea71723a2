package research

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/courseforge/ai/gateway"
	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/logger"
)

// DefaultMaxSources caps results when neither request nor config says otherwise
const DefaultMaxSources = 8

// Generator is the slice of the model gateway used to weave findings into content
type Generator interface {
	Generate(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Config wires a Gateway. A nil Searcher disables research.
type Config struct {
	Searcher   Searcher
	Models     Generator
	MaxSources int
	Logger     *zap.SugaredLogger
}

// Gateway is the research entry point used by the orchestrator
type Gateway struct {
	searcher   Searcher
	models     Generator
	maxSources int
	logger     *zap.SugaredLogger
}

// New creates a research gateway
func New(cfg Config) *Gateway {
	limit := cfg.MaxSources
	if limit <= 0 {
		limit = DefaultMaxSources
	}
	return &Gateway{
		searcher:   cfg.Searcher,
		models:     cfg.Models,
		maxSources: limit,
		logger:     logger.OrGlobal(cfg.Logger, "research"),
	}
}

// Enabled reports whether a search provider is configured
func (g *Gateway) Enabled() bool {
	return g != nil && g.searcher != nil
}

// Search returns up to maxResults sources, most credible first
func (g *Gateway) Search(ctx context.Context, query string, maxResults int) ([]Source, error) {
	if !g.Enabled() {
		return nil, failure(errors.Wrap(errors.ErrServiceUnavailable, "research provider not configured"))
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.NewInvalidRequestError("research query cannot be empty")
	}
	if maxResults <= 0 || maxResults > g.maxSources {
		maxResults = g.maxSources
	}

	sources, err := g.searcher.Search(ctx, query, maxResults)
	if err != nil {
		g.logger.Warnw("Research search failed", logger.FieldError, err)
		return nil, failure(err)
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Credibility > sources[j].Credibility
	})
	if len(sources) > maxResults {
		sources = sources[:maxResults]
	}
	return sources, nil
}

// Research gathers sources for a topic and derives mode-specific extras
func (g *Gateway) Research(ctx context.Context, req Request) (*Findings, error) {
	if !req.Mode.Valid() {
		return nil, errors.NewInvalidRequestError("unknown research mode %q", req.Mode)
	}

	sources, err := g.Search(ctx, queryFor(req), req.MaxSources)
	if err != nil {
		return nil, err
	}

	findings := &Findings{
		Summary: summarize(sources),
		Sources: sources,
	}

	switch req.Mode {
	case ModeFactCheck:
		claim := strings.TrimSpace(req.Context)
		if claim == "" {
			claim = req.Topic
		}
		findings.FactChecks = []FactCheck{Decide(claim, sources)}
	case ModePostGeneration:
		for _, src := range sources {
			if src.Credibility >= CredibilityMedium && !strings.Contains(req.Context, src.URL) {
				findings.Suggestions = append(findings.Suggestions,
					fmt.Sprintf("Consider citing %q (%s)", src.Title, src.Domain))
			}
		}
	case ModePreGeneration:
		for _, src := range sources {
			if src.Credibility >= CredibilityMedium && src.Title != "" {
				findings.Suggestions = append(findings.Suggestions, "Cover: "+src.Title)
			}
		}
	}

	g.logger.Debugw("Research complete",
		"mode", req.Mode,
		logger.FieldCount, len(sources))
	return findings, nil
}

// VerifyClaim searches for claim and verdicts it on the returned evidence
func (g *Gateway) VerifyClaim(ctx context.Context, claim string) (*FactCheck, error) {
	sources, err := g.Search(ctx, claim, g.maxSources)
	if err != nil {
		return nil, err
	}
	fc := Decide(claim, sources)
	return &fc, nil
}

const enhanceSystemPrompt = `You are an editor improving educational material.
Weave the research notes into the content where they strengthen it.
Keep the author's structure and voice. Do not invent facts that are not in the notes.
Return only the revised content.`

// EnhanceContent rewrites content using findings and appends a Sources list.
// With no sources the content is returned unchanged.
func (g *Gateway) EnhanceContent(ctx context.Context, content string, f *Findings) (string, error) {
	if f == nil || len(f.Sources) == 0 {
		return content, nil
	}
	if g.models == nil {
		return "", errors.Wrap(errors.ErrServiceUnavailable, "no model configured for enhancement")
	}

	var notes strings.Builder
	for i, src := range f.Sources {
		fmt.Fprintf(&notes, "[%d] %s (%s, credibility %.1f): %s\n", i+1, src.Title, src.Domain, src.Credibility, src.Snippet)
	}

	resp, err := g.models.Generate(ctx, gateway.Request{
		SystemPrompt: enhanceSystemPrompt,
		UserPrompt:   fmt.Sprintf("CONTENT:\n%s\n\nRESEARCH NOTES:\n%s", content, notes.String()),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to enhance content with research")
	}

	var out strings.Builder
	out.WriteString(strings.TrimSpace(resp.Content))
	out.WriteString("\n\n## Sources\n")
	for _, src := range f.Sources {
		title := src.Title
		if title == "" {
			title = src.Domain
		}
		fmt.Fprintf(&out, "- [%s](%s)\n", title, src.URL)
	}
	return out.String(), nil
}

func queryFor(req Request) string {
	switch req.Mode {
	case ModeFactCheck:
		if c := strings.TrimSpace(req.Context); c != "" {
			return c
		}
	case ModePostGeneration:
		if c := strings.TrimSpace(req.Context); c != "" {
			return req.Topic + " " + firstWords(c, 30)
		}
	}
	return req.Topic
}

// summarize joins the first sentence of the most credible snippets
func summarize(sources []Source) string {
	var parts []string
	for _, src := range sources {
		if len(parts) == 3 {
			break
		}
		s := strings.TrimSpace(src.Snippet)
		if s == "" {
			continue
		}
		if i := strings.IndexAny(s, ".!?"); i > 0 {
			s = s[:i+1]
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

// failure marks err as a research failure
func failure(err error) error {
	return errors.Mark(errors.Wrap(err, "research failed"), errors.ErrResearchFailure)
}
