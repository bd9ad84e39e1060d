package model

// SnippetType tags the shape of a context snippet's payload.
type SnippetType string

const (
	SnippetCompanyValueProp SnippetType = "COMPANY_VALUE_PROP"
	SnippetProductNames     SnippetType = "PRODUCT_NAMES"
	SnippetPricingModel     SnippetType = "PRICING_MODEL"
	SnippetKeyCompetitors   SnippetType = "KEY_COMPETITORS"
	SnippetRecentNews       SnippetType = "RECENT_NEWS"
)

// SnippetPayload is implemented by exactly one payload type per SnippetType,
// so a snippet's payload shape can never drift from its declared type.
type SnippetPayload interface {
	SnippetType() SnippetType
}

// ValuePropPayload carries a COMPANY_VALUE_PROP snippet.
type ValuePropPayload struct {
	Value string `json:"value"`
}

func (ValuePropPayload) SnippetType() SnippetType { return SnippetCompanyValueProp }

// ProductNamesPayload carries a PRODUCT_NAMES snippet.
type ProductNamesPayload struct {
	Products []string `json:"products"`
}

func (ProductNamesPayload) SnippetType() SnippetType { return SnippetProductNames }

// PricingModelPayload carries a PRICING_MODEL snippet.
type PricingModelPayload struct {
	Model string `json:"model"`
}

func (PricingModelPayload) SnippetType() SnippetType { return SnippetPricingModel }

// CompetitorsPayload carries a KEY_COMPETITORS snippet.
type CompetitorsPayload struct {
	Competitors []string `json:"competitors"`
}

func (CompetitorsPayload) SnippetType() SnippetType { return SnippetKeyCompetitors }

// RecentNewsPayload carries a RECENT_NEWS snippet.
type RecentNewsPayload struct {
	News []string `json:"news"`
}

func (RecentNewsPayload) SnippetType() SnippetType { return SnippetRecentNews }

// ContextSnippet is one persisted research finding about an entity.
type ContextSnippet struct {
	EntityType      string         `json:"entityType"`
	EntityID        string         `json:"entityId"`
	SnippetType     SnippetType    `json:"snippetType"`
	Payload         SnippetPayload `json:"payload"`
	SourceURLs      []string       `json:"sourceUrls"`
	ConfidenceScore float64        `json:"confidenceScore"`
	CacheHitRatio   float64        `json:"cacheHitRatio"`
}

// BuildSnippets converts an enrichment result into typed context snippets for
// the company entity. Fields that were never found produce no snippet.
func BuildSnippets(companyID string, data *EnrichmentResult, cacheHitRatio float64) []ContextSnippet {
	confidence := data.ConfidenceScore()

	add := func(snippets []ContextSnippet, payload SnippetPayload) []ContextSnippet {
		return append(snippets, ContextSnippet{
			EntityType:      "COMPANY",
			EntityID:        companyID,
			SnippetType:     payload.SnippetType(),
			Payload:         payload,
			SourceURLs:      []string{},
			ConfidenceScore: confidence,
			CacheHitRatio:   cacheHitRatio,
		})
	}

	var snippets []ContextSnippet
	if data.Has(FieldCompanyValueProp) {
		snippets = add(snippets, ValuePropPayload{Value: *data.CompanyValueProp})
	}
	if data.Has(FieldProductNames) {
		snippets = add(snippets, ProductNamesPayload{Products: data.ProductNames})
	}
	if data.Has(FieldPricingModel) {
		snippets = add(snippets, PricingModelPayload{Model: *data.PricingModel})
	}
	if data.Has(FieldKeyCompetitors) {
		snippets = add(snippets, CompetitorsPayload{Competitors: data.KeyCompetitors})
	}
	if data.Has(FieldRecentNews) {
		snippets = add(snippets, RecentNewsPayload{News: data.RecentNews})
	}
	return snippets
}
