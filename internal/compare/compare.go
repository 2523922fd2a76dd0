// Package compare runs one prompt across several free models and ranks the
// answers on speed, quality and efficiency.
package compare

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/multiai/gateway/internal/gateway"
	"github.com/multiai/gateway/internal/registry"
	"github.com/multiai/gateway/internal/spending"
)

// DefaultMaxModels bounds a comparison when the caller does not.
const DefaultMaxModels = 5

// perModelTimeout bounds each model's completion inside a comparison.
const perModelTimeout = 30 * time.Second

var (
	ErrNoFreeModels = errors.New("no free models available")
	ErrNoMatch      = errors.New("no matching models found")
	ErrAllFailed    = errors.New("all model requests failed")
)

// Invoker runs completions against the free-model fleet. The gateway
// handler satisfies it.
type Invoker interface {
	Complete(ctx context.Context, model, prompt string) (*gateway.CompletionResult, error)
	FreeModels(ctx context.Context) ([]registry.FreeModel, error)
}

// Judge scores an answer's quality. The returned verdicts feed the quorum
// rule; fewer than the quorum falls back to the placeholder score.
type Judge interface {
	Evaluate(ctx context.Context, prompt, answer string) (score float64, verdicts []JudgeScore, err error)
}

// Params selects what to compare.
type Params struct {
	Prompt         string
	Models         []string
	MaxModels      int
	IncludeRanking bool
}

// ModelResult is one model's run with its scores.
type ModelResult struct {
	Model            string   `json:"model"`
	Provider         string   `json:"provider"`
	Response         string   `json:"response"`
	TTFTMs           float64  `json:"ttft_ms"`
	TotalMs          float64  `json:"total_ms"`
	CompletionTokens int      `json:"completion_tokens"`
	TokensPerSecond  *float64 `json:"tokens_per_second,omitempty"`
	Scores           Scores   `json:"scores"`
}

// Report is a finished comparison, results sorted best first. Ranking lists
// the model ids in that order.
type Report struct {
	Prompt     string        `json:"prompt"`
	Results    []ModelResult `json:"results"`
	Ranking    []string      `json:"ranking"`
	Winner     string        `json:"winner,omitempty"`
	Failures   []string      `json:"failures,omitempty"`
	CapWarning bool          `json:"cap_warning,omitempty"`
	Summary    string        `json:"summary"`
}

// Comparator fans a prompt out and scores the answers.
type Comparator struct {
	invoker Invoker
	judge   Judge
	tracker *spending.Tracker
	logger  *slog.Logger
}

// New builds a Comparator. judge and tracker may be nil; quality then stays
// at the placeholder and no spend is tracked.
func New(invoker Invoker, judge Judge, tracker *spending.Tracker, logger *slog.Logger) *Comparator {
	return &Comparator{invoker: invoker, judge: judge, tracker: tracker, logger: logger}
}

// Run executes a comparison.
func (c *Comparator) Run(ctx context.Context, params Params) (*Report, error) {
	available, err := c.invoker.FreeModels(ctx)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, ErrNoFreeModels
	}

	selected := selectModels(available, params.Models)
	if len(selected) == 0 {
		return nil, ErrNoMatch
	}
	maxModels := params.MaxModels
	if maxModels <= 0 {
		maxModels = DefaultMaxModels
	}
	if len(selected) > maxModels {
		selected = selected[:maxModels]
	}

	results, failures := c.runAll(ctx, selected, params.Prompt)
	if len(results) == 0 {
		return nil, ErrAllFailed
	}

	// include_ranking gates only the paid judge pass; results are always
	// sorted and ranked.
	if params.IncludeRanking {
		c.scoreQuality(ctx, params.Prompt, results)
	} else {
		for i := range results {
			results[i].Scores = scoreResult(results[i], PlaceholderQuality)
		}
	}
	rankResults(results)

	ranking := make([]string, len(results))
	for i, r := range results {
		ranking[i] = r.Model
	}
	report := &Report{
		Prompt:   params.Prompt,
		Results:  results,
		Ranking:  ranking,
		Winner:   results[0].Model,
		Failures: failures,
	}
	if c.tracker != nil {
		if warn, err := c.tracker.AtWarning(ctx); err == nil && warn {
			report.CapWarning = true
		}
	}
	report.Summary = renderSummary(report)
	return report, nil
}

// runAll fans the prompt out concurrently, each call under its own timeout.
// Failures are collected by name rather than aborting the comparison.
func (c *Comparator) runAll(ctx context.Context, models []registry.FreeModel, prompt string) ([]ModelResult, []string) {
	type outcome struct {
		result *ModelResult
		model  string
		err    error
	}
	outcomes := make(chan outcome, len(models))
	var wg sync.WaitGroup
	for _, m := range models {
		wg.Add(1)
		go func(m registry.FreeModel) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, perModelTimeout)
			defer cancel()
			res, err := c.invoker.Complete(callCtx, m.ID, prompt)
			if err != nil {
				outcomes <- outcome{model: m.ID, err: err}
				return
			}
			outcomes <- outcome{result: &ModelResult{
				Model:            res.Model,
				Provider:         res.Provider,
				Response:         res.Content,
				TTFTMs:           res.TTFTMs,
				TotalMs:          res.TotalMs,
				CompletionTokens: res.CompletionTokens,
				TokensPerSecond:  res.TokensPerSecond,
			}}
		}(m)
	}
	wg.Wait()
	close(outcomes)

	var results []ModelResult
	var failures []string
	for o := range outcomes {
		if o.err != nil {
			c.logger.Warn("model failed during comparison",
				slog.String("model", o.model),
				slog.String("error", o.err.Error()))
			failures = append(failures, o.model)
			continue
		}
		results = append(results, *o.result)
	}
	return results, failures
}

// scoreQuality runs the judge panel over each answer, spending permitting.
// Anything short of a quorum-met evaluation falls back to the placeholder
// quality, and only quorum-met evaluations record spend.
func (c *Comparator) scoreQuality(ctx context.Context, prompt string, results []ModelResult) {
	for i := range results {
		quality := PlaceholderQuality
		if c.judge != nil && c.allowedToSpend(ctx) {
			score, verdicts, err := c.judge.Evaluate(ctx, prompt, results[i].Response)
			switch {
			case err != nil:
				c.logger.Warn("judge evaluation failed", slog.String("error", err.Error()))
			case len(verdicts) < JudgeQuorum:
				c.logger.Warn("judge quorum not met",
					slog.Int("responders", len(verdicts)),
					slog.Int("quorum", JudgeQuorum))
			default:
				quality = score
				c.recordJudgeSpend(ctx, len(verdicts))
			}
		}
		results[i].Scores = scoreResult(results[i], quality)
	}
}

func (c *Comparator) allowedToSpend(ctx context.Context) bool {
	if c.tracker == nil {
		return true
	}
	if err := c.tracker.CheckCap(ctx, EstimatedEvalCost); err != nil {
		c.logger.Warn("judge skipped by spending cap", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (c *Comparator) recordJudgeSpend(ctx context.Context, responders int) {
	if c.tracker == nil || responders <= 0 {
		return
	}
	cost := float64(responders) * CostPerJudgeCall
	if err := c.tracker.RecordCost(ctx, cost); err != nil {
		c.logger.Warn("recording judge spend failed", slog.String("error", err.Error()))
	}
}

// selectModels filters the snapshot by the requested names. Matching is
// loose in both directions so "grok" selects "opencode/grok-code-fast-1"
// and a full id selects itself. No filter means everything.
func selectModels(available []registry.FreeModel, requested []string) []registry.FreeModel {
	if len(requested) == 0 {
		return available
	}
	var selected []registry.FreeModel
	for _, m := range available {
		for _, want := range requested {
			a, b := strings.ToLower(m.ID), strings.ToLower(want)
			if strings.Contains(a, b) || strings.Contains(b, a) {
				selected = append(selected, m)
				break
			}
		}
	}
	return selected
}
