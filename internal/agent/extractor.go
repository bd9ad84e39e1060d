package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-service/internal/model"
	"github.com/sells-group/enrichment-service/pkg/anthropic"
)

// Extractor pulls structured facts out of raw search results. A nil result
// with nil error means the results held nothing usable.
type Extractor interface {
	Extract(ctx context.Context, companyName string, results []model.SearchResult) (*model.EnrichmentResult, error)
}

// maxExtractionInput bounds the search content handed to the model.
const maxExtractionInput = 12000

const extractorSystem = `You extract company facts from web search results.
Respond with a single JSON object and nothing else. Use only these keys, and
omit any key the results do not support:
  companyValueProp (string), productNames (array of strings),
  pricingModel (string), keyCompetitors (array of strings),
  recentNews (array of strings).
Never invent facts. An empty object {} is a valid answer.`

// resultSchema rejects model output that drifts from the expected shape.
const resultSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "companyValueProp": {"type": "string", "minLength": 1},
    "productNames": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "pricingModel": {"type": "string", "minLength": 1},
    "keyCompetitors": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "recentNews": {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`

// LLMExtractor is the model-backed Extractor.
type LLMExtractor struct {
	llm    anthropic.Client
	model  string
	schema *gojsonschema.Schema
}

// NewLLMExtractor compiles the output schema once up front.
func NewLLMExtractor(llm anthropic.Client, modelName string) (*LLMExtractor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(resultSchema))
	if err != nil {
		return nil, err
	}
	return &LLMExtractor{llm: llm, model: modelName, schema: schema}, nil
}

func (e *LLMExtractor) Extract(ctx context.Context, companyName string, results []model.SearchResult) (*model.EnrichmentResult, error) {
	if len(results) == 0 {
		return nil, nil
	}

	resp, err := e.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 1024,
		System:    extractorSystem,
		Messages: []anthropic.Message{{
			Role: "user",
			Content: fmt.Sprintf("Company: %s\n\nSearch results:\n%s",
				companyName, renderResults(results)),
		}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(e.model, "extract")

	raw := extractJSONObject(resp.Text())
	if raw == "" {
		zap.L().Debug("extraction returned no JSON object",
			zap.String("company", companyName))
		return nil, nil
	}

	validation, err := e.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil || !validation.Valid() {
		zap.L().Warn("extraction output failed schema validation",
			zap.String("company", companyName))
		return nil, nil
	}

	var result model.EnrichmentResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, nil
	}
	if len(result.FoundFields()) == 0 {
		return nil, nil
	}
	return &result, nil
}

// renderResults flattens search results into the model input, truncated to
// maxExtractionInput characters.
func renderResults(results []model.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\nURL: %s\n%s\n", i+1, r.Title, r.URL, r.Snippet)
		if r.Content != "" {
			b.WriteString(r.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		if b.Len() > maxExtractionInput {
			break
		}
	}
	out := b.String()
	if len(out) > maxExtractionInput {
		// Back up to a rune boundary so the cut never splits a multi-byte
		// character.
		cut := maxExtractionInput
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}

// extractJSONObject pulls the outermost {...} from text, tolerating prose or
// code fences around it.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
