package model

// Person is the subject of an enrichment, as returned by the campaign
// service. Only the fields the agent needs are modeled here.
type Person struct {
	ID         string  `json:"id"`
	CompanyID  string  `json:"companyId"`
	Company    Company `json:"company"`
	RetryCount int     `json:"retryCount"`
}

// Company is the person's employer, the actual research target.
type Company struct {
	Name string `json:"name"`
}

// EnrichmentStatus tracks a person's position in the enrichment lifecycle.
type EnrichmentStatus string

const (
	StatusPending    EnrichmentStatus = "PENDING"
	StatusInProgress EnrichmentStatus = "IN_PROGRESS"
	StatusComplete   EnrichmentStatus = "COMPLETE"
	StatusFailed     EnrichmentStatus = "FAILED"
)
