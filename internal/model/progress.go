package model

// AgentProgress is the snapshot published after every agent iteration and on
// termination. It is a transient notification: consumers that are not
// subscribed when it is published never see it.
type AgentProgress struct {
	JobID               string            `json:"jobId"`
	Iteration           int               `json:"iteration"`
	TotalIterations     int               `json:"totalIterations"`
	CurrentQuery        string            `json:"currentQuery"`
	FieldsFound         []string          `json:"fieldsFound"`
	FieldsRemaining     []string          `json:"fieldsRemaining"`
	CacheHit            bool              `json:"cacheHit"`
	CircuitBreakerState string            `json:"circuitBreakerState"`
	Complete            bool              `json:"complete,omitempty"`
	Data                *EnrichmentResult `json:"data,omitempty"`
	Error               string            `json:"error,omitempty"`
}

// ProgressTopic returns the pub/sub topic carrying progress for a job.
func ProgressTopic(jobID string) string {
	return "enrichment:progress:" + jobID
}

// ProgressTopicPattern matches every job's progress topic.
const ProgressTopicPattern = "enrichment:progress:*"
