package compare

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/multiai/gateway/internal/gateway"
	"github.com/multiai/gateway/internal/registry"
	"github.com/multiai/gateway/internal/spending"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeInvoker struct {
	models  []registry.FreeModel
	fail    map[string]bool
	results map[string]*gateway.CompletionResult
}

func (f *fakeInvoker) FreeModels(context.Context) ([]registry.FreeModel, error) {
	return f.models, nil
}

func (f *fakeInvoker) Complete(_ context.Context, model, _ string) (*gateway.CompletionResult, error) {
	if f.fail[model] {
		return nil, errors.New("upstream exploded")
	}
	if res, ok := f.results[model]; ok {
		return res, nil
	}
	return &gateway.CompletionResult{
		Model:            model,
		Provider:         "test",
		Content:          "an answer",
		TTFTMs:           200,
		TotalMs:          1200,
		CompletionTokens: 100,
	}, nil
}

type fakeJudge struct {
	score      float64
	responders int
	err        error
}

func (f *fakeJudge) Evaluate(context.Context, string, string) (float64, []JudgeScore, error) {
	verdicts := make([]JudgeScore, f.responders)
	for i := range verdicts {
		verdicts[i] = JudgeScore{Judge: "judge", Score: f.score, Reason: "fine"}
	}
	return f.score, verdicts, f.err
}

func freeModels(ids ...string) []registry.FreeModel {
	models := make([]registry.FreeModel, 0, len(ids))
	for _, id := range ids {
		models = append(models, registry.FreeModel{ID: id, Provider: "test", Source: registry.SourceOpenRouter})
	}
	return models
}

func TestRunRanksByOverall(t *testing.T) {
	invoker := &fakeInvoker{
		models: freeModels("fast-model", "slow-model"),
		results: map[string]*gateway.CompletionResult{
			"fast-model": {Model: "fast-model", Content: "a", TTFTMs: 100, TotalMs: 900, CompletionTokens: 200},
			"slow-model": {Model: "slow-model", Content: "b", TTFTMs: 900, TotalMs: 5000, CompletionTokens: 200},
		},
	}
	c := New(invoker, &fakeJudge{score: 8, responders: 7}, nil, testLogger())

	report, err := c.Run(context.Background(), Params{Prompt: "q", IncludeRanking: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("got %d results", len(report.Results))
	}
	if report.Results[0].Model != "fast-model" {
		t.Errorf("ranking put %s first", report.Results[0].Model)
	}
	if report.Winner != "fast-model" {
		t.Errorf("winner = %q", report.Winner)
	}
	if report.Results[0].Scores.Quality != 8 {
		t.Errorf("quality = %.1f, want judge verdict 8", report.Results[0].Scores.Quality)
	}
}

func TestRunKeepsSuccessesWhenSomeFail(t *testing.T) {
	invoker := &fakeInvoker{
		models: freeModels("good", "bad"),
		fail:   map[string]bool{"bad": true},
	}
	c := New(invoker, nil, nil, testLogger())

	report, err := c.Run(context.Background(), Params{Prompt: "q"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].Model != "good" {
		t.Fatalf("results = %+v", report.Results)
	}
	if len(report.Failures) != 1 || report.Failures[0] != "bad" {
		t.Errorf("failures = %v", report.Failures)
	}
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	c := New(&fakeInvoker{}, nil, nil, testLogger())
	if _, err := c.Run(ctx, Params{Prompt: "q"}); !errors.Is(err, ErrNoFreeModels) {
		t.Errorf("empty fleet err = %v", err)
	}

	c = New(&fakeInvoker{models: freeModels("some-model")}, nil, nil, testLogger())
	if _, err := c.Run(ctx, Params{Prompt: "q", Models: []string{"other"}}); !errors.Is(err, ErrNoMatch) {
		t.Errorf("no match err = %v", err)
	}

	c = New(&fakeInvoker{
		models: freeModels("a", "b"),
		fail:   map[string]bool{"a": true, "b": true},
	}, nil, nil, testLogger())
	if _, err := c.Run(ctx, Params{Prompt: "q"}); !errors.Is(err, ErrAllFailed) {
		t.Errorf("all failed err = %v", err)
	}
}

func TestRunCapsModelCount(t *testing.T) {
	invoker := &fakeInvoker{models: freeModels("m1", "m2", "m3", "m4", "m5", "m6", "m7")}
	c := New(invoker, nil, nil, testLogger())

	report, err := c.Run(context.Background(), Params{Prompt: "q"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Results) != DefaultMaxModels {
		t.Errorf("got %d results, want %d", len(report.Results), DefaultMaxModels)
	}

	report, err = c.Run(context.Background(), Params{Prompt: "q", MaxModels: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Results) != 2 {
		t.Errorf("got %d results, want 2", len(report.Results))
	}
}

func TestRunQuorumFallsBackToPlaceholder(t *testing.T) {
	invoker := &fakeInvoker{models: freeModels("m")}
	c := New(invoker, &fakeJudge{score: 2, responders: 2}, nil, testLogger())

	report, err := c.Run(context.Background(), Params{Prompt: "q", IncludeRanking: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := report.Results[0].Scores.Quality; got != PlaceholderQuality {
		t.Errorf("quality = %.1f, want placeholder %.1f below quorum", got, PlaceholderQuality)
	}
}

func TestRunSpendingCapSkipsJudge(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	tracker := spending.NewTracker(spending.NewMemoryStore(),
		spending.Caps{Daily: 5, Monthly: 50}, testLogger(),
		spending.WithClock(func() time.Time { return now }))
	if err := tracker.RecordCost(context.Background(), 5); err != nil {
		t.Fatalf("seed spend: %v", err)
	}

	invoker := &fakeInvoker{models: freeModels("m")}
	judge := &fakeJudge{score: 9, responders: 7}
	c := New(invoker, judge, tracker, testLogger())

	report, err := c.Run(context.Background(), Params{Prompt: "q", IncludeRanking: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := report.Results[0].Scores.Quality; got != PlaceholderQuality {
		t.Errorf("quality = %.1f, judge ran past the cap", got)
	}
}

func TestRunRecordsJudgeSpend(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	tracker := spending.NewTracker(spending.NewMemoryStore(),
		spending.Caps{Daily: 5, Monthly: 50}, testLogger(),
		spending.WithClock(func() time.Time { return now }))

	invoker := &fakeInvoker{models: freeModels("m")}
	c := New(invoker, &fakeJudge{score: 8, responders: 5}, tracker, testLogger())

	if _, err := c.Run(context.Background(), Params{Prompt: "q", IncludeRanking: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	status, err := tracker.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	want := 5 * CostPerJudgeCall
	if diff := status.Daily.Used - want; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("recorded spend = %.4f, want %.4f", status.Daily.Used, want)
	}
}

func TestRunRanksWithoutJudging(t *testing.T) {
	invoker := &fakeInvoker{
		models: freeModels("fast-model", "slow-model"),
		results: map[string]*gateway.CompletionResult{
			"fast-model": {Model: "fast-model", Content: "a", TTFTMs: 100, TotalMs: 900, CompletionTokens: 200},
			"slow-model": {Model: "slow-model", Content: "b", TTFTMs: 900, TotalMs: 5000, CompletionTokens: 200},
		},
	}
	c := New(invoker, nil, nil, testLogger())

	report, err := c.Run(context.Background(), Params{Prompt: "q", IncludeRanking: false})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Ranking) != 2 || report.Ranking[0] != "fast-model" || report.Ranking[1] != "slow-model" {
		t.Errorf("ranking = %v, want fast-model first", report.Ranking)
	}
	if report.Results[0].Model != "fast-model" {
		t.Errorf("results not sorted: %s first", report.Results[0].Model)
	}
	if report.Winner != "fast-model" {
		t.Errorf("winner = %q", report.Winner)
	}
}

func TestRunSkipsSpendBelowQuorum(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	tracker := spending.NewTracker(spending.NewMemoryStore(),
		spending.Caps{Daily: 5, Monthly: 50}, testLogger(),
		spending.WithClock(func() time.Time { return now }))

	invoker := &fakeInvoker{models: freeModels("m")}
	c := New(invoker, &fakeJudge{score: 8, responders: 2}, tracker, testLogger())

	if _, err := c.Run(context.Background(), Params{Prompt: "q", IncludeRanking: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	status, err := tracker.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Daily.Used != 0 {
		t.Errorf("spend recorded for a missed quorum: %.4f", status.Daily.Used)
	}
}

func TestRunFlagsCapWarning(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	tracker := spending.NewTracker(spending.NewMemoryStore(),
		spending.Caps{Daily: 5, Monthly: 50, WarnAtPercent: 80}, testLogger(),
		spending.WithClock(func() time.Time { return now }))
	if err := tracker.RecordCost(context.Background(), 4.5); err != nil {
		t.Fatalf("record: %v", err)
	}

	invoker := &fakeInvoker{models: freeModels("m")}
	c := New(invoker, nil, tracker, testLogger())

	report, err := c.Run(context.Background(), Params{Prompt: "q"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.CapWarning {
		t.Error("cap warning not flagged at 90% of daily cap")
	}
	if !strings.Contains(report.Summary, "approaching its cap") {
		t.Errorf("summary missing cap note: %q", report.Summary)
	}
}

func TestSelectModels(t *testing.T) {
	available := freeModels("opencode/grok-code-fast-1", "meta-llama/llama-3-8b:free")

	if got := selectModels(available, nil); len(got) != 2 {
		t.Errorf("no filter selected %d", len(got))
	}
	if got := selectModels(available, []string{"grok"}); len(got) != 1 || got[0].ID != "opencode/grok-code-fast-1" {
		t.Errorf("substring filter = %v", got)
	}
	// Requested longer than the id also matches.
	if got := selectModels(available, []string{"meta-llama/llama-3-8b:free-variant"}); len(got) != 1 {
		t.Errorf("reverse substring filter = %v", got)
	}
	if got := selectModels(available, []string{"claude"}); len(got) != 0 {
		t.Errorf("unmatched filter = %v", got)
	}
}

func TestSpeedScore(t *testing.T) {
	if got := speedScore(0, nil); got != 10 {
		t.Errorf("instant ttft = %.1f", got)
	}
	if got := speedScore(500, nil); got != 5 {
		t.Errorf("500ms ttft = %.1f", got)
	}
	if got := speedScore(2000, nil); got != 0 {
		t.Errorf("2s ttft = %.1f", got)
	}
	tps := 150.0
	if got := speedScore(500, &tps); got != 7 {
		t.Errorf("500ms with 150 tps = %.1f, want 5 + 2 bonus", got)
	}
	slow := 50.0
	if got := speedScore(500, &slow); got != 5 {
		t.Errorf("50 tps must earn no bonus, got %.1f", got)
	}
	fast := 1000.0
	if got := speedScore(100, &fast); got != 10 {
		t.Errorf("bonus must clamp at 10, got %.1f", got)
	}
}

func TestEfficiencyScore(t *testing.T) {
	if got := efficiencyScore(0); got != 1 {
		t.Errorf("empty answer = %.1f, want floor 1", got)
	}
	if got := efficiencyScore(250); got != 5 {
		t.Errorf("250 tokens = %.1f", got)
	}
	if got := efficiencyScore(5000); got != 10 {
		t.Errorf("huge answer = %.1f, want ceiling 10", got)
	}
}

func TestOverallWeights(t *testing.T) {
	r := ModelResult{TTFTMs: 0, CompletionTokens: 500}
	s := scoreResult(r, 8)
	// speed 10, quality 8, efficiency 10
	want := 0.25*10 + 0.5*8 + 0.25*10
	if s.Overall != want {
		t.Errorf("overall = %.2f, want %.2f", s.Overall, want)
	}
}

func TestMedian(t *testing.T) {
	if got := median([]float64{9, 1, 5}); got != 5 {
		t.Errorf("odd median = %.1f", got)
	}
	if got := median([]float64{2, 8}); got != 5 {
		t.Errorf("even median = %.1f", got)
	}
	if got := median([]float64{7}); got != 7 {
		t.Errorf("single median = %.1f", got)
	}
}

func TestExtractScore(t *testing.T) {
	tests := []struct {
		content string
		want    float64
		ok      bool
	}{
		{`{"score": 8}`, 8, true},
		{`{"score": 7.5}`, 7.5, true},
		{"Score: 9", 9, true},
		{"I give this 6/10", 6, true},
		{"rating: 8.5", 8.5, true},
		{"This answer is 7 out of 10", 7, true},
		{`{"score": 42}`, 10, true},
		{"a thoughtful response", 0, false},
	}
	for _, tt := range tests {
		got, ok := ExtractScore(tt.content)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ExtractScore(%q) = %.1f, %v; want %.1f, %v", tt.content, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRenderSummary(t *testing.T) {
	tps := 80.0
	report := &Report{
		Winner: "opencode/glm-4-7-free",
		Results: []ModelResult{{
			Model:           "opencode/glm-4-7-free",
			TTFTMs:          320,
			TotalMs:         2100,
			TokensPerSecond: &tps,
			Scores:          Scores{Quality: 8, Overall: 7.9},
		}},
	}
	summary := renderSummary(report)
	for _, want := range []string{"| GLM 4.7 |", "320ms", "2.1s", "**7.9**", "**Winner:** GLM 4.7"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}
