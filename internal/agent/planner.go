// Package agent runs the iterative enrichment loop: plan a query for the
// highest-priority missing field, search, extract, merge, repeat.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/enrichment-service/internal/model"
	"github.com/sells-group/enrichment-service/pkg/anthropic"
)

// Planner produces the next search query given the company and the fields
// still missing. The first entry of missing is always the highest-priority
// field.
type Planner interface {
	PlanQuery(ctx context.Context, companyName string, missing []model.FieldName) string
}

// queryTemplates maps each field to its deterministic query shape.
var queryTemplates = map[model.FieldName]string{
	model.FieldCompanyValueProp: "%s company value proposition",
	model.FieldProductNames:     "%s products services offerings",
	model.FieldPricingModel:     "%s pricing model plans cost",
	model.FieldKeyCompetitors:   "%s competitors alternatives comparison",
	model.FieldRecentNews:       "%s recent news 2025",
}

// TemplatePlanner fills a fixed template per field. It is the fallback for
// the LLM planner and the default when no model is configured.
type TemplatePlanner struct{}

func (TemplatePlanner) PlanQuery(_ context.Context, companyName string, missing []model.FieldName) string {
	if len(missing) == 0 {
		return companyName
	}
	tmpl, ok := queryTemplates[missing[0]]
	if !ok {
		return companyName
	}
	return fmt.Sprintf(tmpl, companyName)
}

// LLMPlanner asks a language model for a sharper query, falling back to the
// template when the model fails or returns something unusable.
type LLMPlanner struct {
	llm      anthropic.Client
	model    string
	fallback TemplatePlanner
}

// NewLLMPlanner creates a planner backed by the given model name.
func NewLLMPlanner(llm anthropic.Client, modelName string) *LLMPlanner {
	return &LLMPlanner{llm: llm, model: modelName}
}

const plannerSystem = `You generate one web search query for company research.
Respond with the query text only: no quotes, no explanation, no markdown.`

func (p *LLMPlanner) PlanQuery(ctx context.Context, companyName string, missing []model.FieldName) string {
	if len(missing) == 0 {
		return p.fallback.PlanQuery(ctx, companyName, missing)
	}

	prompt := fmt.Sprintf(
		"Company: %s\nTarget field: %s\nOther missing fields: %s\nWrite the single best search query for the target field.",
		companyName, missing[0], strings.Join(model.FieldNamesToStrings(missing[1:]), ", "))

	resp, err := p.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: 100,
		System:    plannerSystem,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		zap.L().Warn("query planning failed, using template",
			zap.String("company", companyName),
			zap.String("field", string(missing[0])),
			zap.Error(err))
		return p.fallback.PlanQuery(ctx, companyName, missing)
	}
	resp.Usage.LogCost(p.model, "plan_query")

	query := sanitizeQuery(resp.Text())
	if query == "" {
		return p.fallback.PlanQuery(ctx, companyName, missing)
	}
	return query
}

// sanitizeQuery strips quoting and newlines a model sometimes wraps around
// the query text.
func sanitizeQuery(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '`', '\n', '\r':
			return -1
		}
		return r
	}, raw)
	return strings.TrimSpace(cleaned)
}
