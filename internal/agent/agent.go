package agent

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrichment-service/internal/model"
	"github.com/sells-group/enrichment-service/internal/pubsub"
	"github.com/sells-group/enrichment-service/internal/resilience"
	"github.com/sells-group/enrichment-service/pkg/campaign"
)

// Searcher is the slice of the search client the agent needs.
type Searcher interface {
	Search(ctx context.Context, query string) (*model.SearchResponse, error)
	BreakerStatus(ctx context.Context) resilience.BreakerStatus
}

// Config controls the enrichment loop.
type Config struct {
	// MaxIterations bounds the loop. Default: 5.
	MaxIterations int

	// Pace is the minimum interval between search iterations. Default: 500ms.
	Pace time.Duration

	// TopResultsLogged caps the results recorded per iteration. Default: 3.
	TopResultsLogged int
}

// DefaultConfig returns the standard loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:    5,
		Pace:             500 * time.Millisecond,
		TopResultsLogged: 3,
	}
}

// Outcome is the terminal result of one enrichment run.
type Outcome struct {
	Data       *model.EnrichmentResult
	Iterations int
	CacheHits  int
	Confidence float64
}

// Agent orchestrates one enrichment run per call. It is safe for concurrent
// use; all run state lives on the stack.
type Agent struct {
	cfg       Config
	campaign  campaign.Client
	searcher  Searcher
	planner   Planner
	extractor Extractor
	publisher pubsub.Publisher
	limiter   *rate.Limiter
}

// New assembles an agent. publisher may be nil to disable progress events.
func New(cfg Config, cc campaign.Client, searcher Searcher, planner Planner, extractor Extractor, publisher pubsub.Publisher) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	if cfg.Pace <= 0 {
		cfg.Pace = 500 * time.Millisecond
	}
	if cfg.TopResultsLogged <= 0 {
		cfg.TopResultsLogged = 3
	}
	return &Agent{
		cfg:       cfg,
		campaign:  cc,
		searcher:  searcher,
		planner:   planner,
		extractor: extractor,
		publisher: publisher,
		limiter:   rate.NewLimiter(rate.Every(cfg.Pace), 1),
	}
}

// Enrich runs the full loop for one person. On failure the person is marked
// failed (best-effort) and a terminal error event is published before the
// error is returned.
func (a *Agent) Enrich(ctx context.Context, personID, jobID, userID string) (*Outcome, error) {
	person, err := a.campaign.GetPerson(ctx, personID, userID)
	if err != nil {
		// No status transition: a person we cannot load was never started.
		a.publishTerminalError(ctx, jobID, err)
		return nil, eris.Wrapf(err, "enrich person %s", personID)
	}

	if err := a.markInProgress(ctx, personID, jobID); err != nil {
		a.publishTerminalError(ctx, jobID, err)
		return nil, eris.Wrapf(err, "enrich person %s", personID)
	}

	outcome, err := a.runLoop(ctx, person, jobID)
	if err != nil {
		a.markFailed(ctx, personID)
		a.publishTerminalError(ctx, jobID, err)
		return nil, eris.Wrapf(err, "enrich person %s", personID)
	}

	if err := a.finalize(ctx, person, outcome); err != nil {
		a.markFailed(ctx, personID)
		a.publishTerminalError(ctx, jobID, err)
		return nil, eris.Wrapf(err, "enrich person %s", personID)
	}

	if a.publisher != nil {
		a.publisher.PublishProgress(ctx, model.AgentProgress{
			JobID:           jobID,
			Iteration:       outcome.Iterations,
			TotalIterations: a.cfg.MaxIterations,
			FieldsFound:     model.FieldNamesToStrings(outcome.Data.FoundFields()),
			FieldsRemaining: model.FieldNamesToStrings(outcome.Data.MissingFields()),
			Complete:        true,
			Data:            outcome.Data,
		})
	}

	zap.L().Info("enrichment complete",
		zap.String("person_id", personID),
		zap.String("job_id", jobID),
		zap.Int("iterations", outcome.Iterations),
		zap.Float64("confidence", outcome.Confidence))
	return outcome, nil
}

func (a *Agent) runLoop(ctx context.Context, person *model.Person, jobID string) (*Outcome, error) {
	result := &model.EnrichmentResult{}
	iterations := 0
	cacheHits := 0

	for i := 1; i <= a.cfg.MaxIterations; i++ {
		missing := result.MissingFields()
		if len(missing) == 0 {
			break
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "iteration pacing")
		}
		iterations = i

		query := a.planner.PlanQuery(ctx, person.Company.Name, missing)

		searchResp, err := a.searcher.Search(ctx, query)
		if err != nil {
			// The search layer already degrades provider failures; an error
			// here is a hard fault worth aborting on.
			return nil, eris.Wrapf(err, "iteration %d", i)
		}
		if searchResp.CacheHit {
			cacheHits++
		}

		extracted := resilience.AttemptNullable(ctx, 2,
			func(ctx context.Context) (*model.EnrichmentResult, error) {
				return a.extractor.Extract(ctx, person.Company.Name, searchResp.Results)
			})
		if extracted != nil {
			result.Merge(extracted)
		}

		breakerState := a.searcher.BreakerStatus(ctx).State
		a.logIteration(ctx, person.ID, i, query, searchResp, breakerState)

		if a.publisher != nil {
			a.publisher.PublishProgress(ctx, model.AgentProgress{
				JobID:               jobID,
				Iteration:           i,
				TotalIterations:     a.cfg.MaxIterations,
				CurrentQuery:        query,
				FieldsFound:         model.FieldNamesToStrings(result.FoundFields()),
				FieldsRemaining:     model.FieldNamesToStrings(result.MissingFields()),
				CacheHit:            searchResp.CacheHit,
				CircuitBreakerState: string(breakerState),
			})
		}

		zap.L().Info("enrichment iteration",
			zap.String("person_id", person.ID),
			zap.Int("iteration", i),
			zap.String("query", query),
			zap.Bool("cache_hit", searchResp.CacheHit),
			zap.Int("fields_found", len(result.FoundFields())))
	}

	return &Outcome{
		Data:       result,
		Iterations: iterations,
		CacheHits:  cacheHits,
		Confidence: result.ConfidenceScore(),
	}, nil
}

func (a *Agent) finalize(ctx context.Context, person *model.Person, outcome *Outcome) error {
	cacheHitRatio := 0.0
	if outcome.Iterations > 0 {
		cacheHitRatio = float64(outcome.CacheHits) / float64(outcome.Iterations)
	}

	snippets := model.BuildSnippets(person.CompanyID, outcome.Data, cacheHitRatio)
	if len(snippets) > 0 {
		cfg := resilience.DefaultRetryConfig()
		cfg.OnRetry = resilience.RetryLogger("campaign", "save_snippets")
		if err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
			return a.campaign.SaveContextSnippets(ctx, snippets)
		}); err != nil {
			return eris.Wrap(err, "persist snippets")
		}
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("campaign", "mark_complete")
	if err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return a.campaign.MarkComplete(ctx, person.ID)
	}); err != nil {
		return eris.Wrap(err, "mark complete")
	}
	return nil
}

func (a *Agent) markInProgress(ctx context.Context, personID, jobID string) error {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("campaign", "mark_in_progress")
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return a.campaign.MarkInProgress(ctx, personID, jobID)
	})
}

// markFailed never escalates: the original failure is the one to report.
func (a *Agent) markFailed(ctx context.Context, personID string) {
	if err := a.campaign.MarkFailed(ctx, personID); err != nil {
		zap.L().Warn("mark failed did not stick",
			zap.String("person_id", personID), zap.Error(err))
	}
}

func (a *Agent) logIteration(ctx context.Context, personID string, iteration int, query string, resp *model.SearchResponse, breakerState resilience.State) {
	top := resp.Results
	if len(top) > a.cfg.TopResultsLogged {
		top = top[:a.cfg.TopResultsLogged]
	}
	entry := model.SearchLog{
		PersonID:            personID,
		Iteration:           iteration,
		Query:               query,
		TopResults:          top,
		CacheHit:            resp.CacheHit,
		CircuitBreakerState: string(breakerState),
		ResponseTimeMs:      resp.ResponseTime.Milliseconds(),
	}
	if err := a.campaign.LogSearchIteration(ctx, entry); err != nil {
		zap.L().Warn("search log write failed",
			zap.String("person_id", personID),
			zap.Int("iteration", iteration),
			zap.Error(err))
	}
}

func (a *Agent) publishTerminalError(ctx context.Context, jobID string, cause error) {
	if a.publisher == nil {
		return
	}
	a.publisher.PublishProgress(ctx, model.AgentProgress{
		JobID:           jobID,
		TotalIterations: a.cfg.MaxIterations,
		Complete:        true,
		Error:           eris.Cause(cause).Error(),
	})
}
