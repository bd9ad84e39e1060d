package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSnippets_OnlyFoundFields(t *testing.T) {
	data := &EnrichmentResult{
		CompanyValueProp: strPtr("platform for rockets"),
		KeyCompetitors:   []string{"Acme"},
	}

	snippets := BuildSnippets("company-1", data, 0.5)
	require.Len(t, snippets, 2)

	assert.Equal(t, SnippetCompanyValueProp, snippets[0].SnippetType)
	assert.Equal(t, SnippetKeyCompetitors, snippets[1].SnippetType)
	for _, s := range snippets {
		assert.Equal(t, "COMPANY", s.EntityType)
		assert.Equal(t, "company-1", s.EntityID)
		assert.Equal(t, 40.0, s.ConfidenceScore)
		assert.Equal(t, 0.5, s.CacheHitRatio)
		assert.Equal(t, s.SnippetType, s.Payload.SnippetType(), "payload shape must match declared type")
	}
}

func TestBuildSnippets_PayloadWireShapes(t *testing.T) {
	data := &EnrichmentResult{
		PricingModel: strPtr("Freemium"),
		RecentNews:   []string{"raised series B"},
	}

	snippets := BuildSnippets("c", data, 0)
	require.Len(t, snippets, 2)

	pricing, err := json.Marshal(snippets[0].Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"Freemium"}`, string(pricing))

	news, err := json.Marshal(snippets[1].Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"news":["raised series B"]}`, string(news))
}

func TestBuildSnippets_NothingFound(t *testing.T) {
	assert.Empty(t, BuildSnippets("c", &EnrichmentResult{}, 0))
}
