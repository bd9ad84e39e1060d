// Package model defines the domain types shared across the enrichment service.
package model

// FieldName identifies one of the five business facts the agent researches.
type FieldName string

const (
	FieldCompanyValueProp FieldName = "companyValueProp"
	FieldProductNames     FieldName = "productNames"
	FieldPricingModel     FieldName = "pricingModel"
	FieldKeyCompetitors   FieldName = "keyCompetitors"
	FieldRecentNews       FieldName = "recentNews"
)

// RequiredFields lists every field the agent must fill, in priority order.
// The planner always targets the first missing entry of this list.
var RequiredFields = []FieldName{
	FieldCompanyValueProp,
	FieldProductNames,
	FieldPricingModel,
	FieldKeyCompetitors,
	FieldRecentNews,
}

// EnrichmentResult accumulates the facts discovered about a company. Every
// field is optional; a nil pointer or empty slice means "not found yet".
type EnrichmentResult struct {
	CompanyValueProp *string  `json:"companyValueProp,omitempty"`
	ProductNames     []string `json:"productNames,omitempty"`
	PricingModel     *string  `json:"pricingModel,omitempty"`
	KeyCompetitors   []string `json:"keyCompetitors,omitempty"`
	RecentNews       []string `json:"recentNews,omitempty"`
}

// Has reports whether the named field has been found. List fields count as
// found only when non-empty.
func (r *EnrichmentResult) Has(field FieldName) bool {
	switch field {
	case FieldCompanyValueProp:
		return r.CompanyValueProp != nil && *r.CompanyValueProp != ""
	case FieldProductNames:
		return len(r.ProductNames) > 0
	case FieldPricingModel:
		return r.PricingModel != nil && *r.PricingModel != ""
	case FieldKeyCompetitors:
		return len(r.KeyCompetitors) > 0
	case FieldRecentNews:
		return len(r.RecentNews) > 0
	default:
		return false
	}
}

// MissingFields returns the subset of RequiredFields not yet found, in
// priority order. Pure function of the receiver's five fields.
func (r *EnrichmentResult) MissingFields() []FieldName {
	missing := make([]FieldName, 0, len(RequiredFields))
	for _, f := range RequiredFields {
		if !r.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// FoundFields returns the fields already filled, in priority order.
func (r *EnrichmentResult) FoundFields() []FieldName {
	found := make([]FieldName, 0, len(RequiredFields))
	for _, f := range RequiredFields {
		if r.Has(f) {
			found = append(found, f)
		}
	}
	return found
}

// Merge copies fields from partial into the receiver using first-writer-wins
// semantics: a field already found is never overwritten. Merging the same
// partial twice is a no-op the second time.
func (r *EnrichmentResult) Merge(partial *EnrichmentResult) {
	if partial == nil {
		return
	}
	if !r.Has(FieldCompanyValueProp) && partial.Has(FieldCompanyValueProp) {
		r.CompanyValueProp = partial.CompanyValueProp
	}
	if !r.Has(FieldProductNames) && partial.Has(FieldProductNames) {
		r.ProductNames = partial.ProductNames
	}
	if !r.Has(FieldPricingModel) && partial.Has(FieldPricingModel) {
		r.PricingModel = partial.PricingModel
	}
	if !r.Has(FieldKeyCompetitors) && partial.Has(FieldKeyCompetitors) {
		r.KeyCompetitors = partial.KeyCompetitors
	}
	if !r.Has(FieldRecentNews) && partial.Has(FieldRecentNews) {
		r.RecentNews = partial.RecentNews
	}
}

// ConfidenceScore is the percentage of required fields found.
func (r *EnrichmentResult) ConfidenceScore() float64 {
	return float64(len(r.FoundFields())) / float64(len(RequiredFields)) * 100
}

// FieldNamesToStrings converts a field list to plain strings for wire payloads.
func FieldNamesToStrings(fields []FieldName) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
