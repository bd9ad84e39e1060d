package model

import "time"

// SearchResult is one normalized hit from the external search provider.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
}

// SearchResponse is what the search client returns to the agent.
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	CacheHit     bool           `json:"cacheHit"`
	ResponseTime time.Duration  `json:"responseTime"`
}

// SearchLog records one agent iteration for the telemetry sink.
type SearchLog struct {
	PersonID            string         `json:"personId"`
	Iteration           int            `json:"iteration"`
	Query               string         `json:"query"`
	TopResults          []SearchResult `json:"topResults"`
	CacheHit            bool           `json:"cacheHit"`
	CircuitBreakerState string         `json:"circuitBreakerState"`
	ResponseTimeMs      int64          `json:"responseTimeMs"`
}

// CircuitBreakerEvent records one breaker outcome or transition for the
// telemetry sink.
type CircuitBreakerEvent struct {
	ServiceName  string `json:"serviceName"`
	EventType    string `json:"eventType"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}
