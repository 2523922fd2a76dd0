package compare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/multiai/gateway/internal/httpx"
)

// JudgeQuorum is the minimum number of panel verdicts a quality score needs.
const JudgeQuorum = 3

// CostPerJudgeCall is the flat bookkeeping rate per responding judge, in
// USD. Real per-token billing varies per judge model; a flat rate keeps the
// cap math predictable.
const CostPerJudgeCall = 0.01

// EstimatedEvalCost is the projected spend of one full-panel evaluation,
// used for the pre-flight cap check.
const EstimatedEvalCost = float64(len(panelModels)) * CostPerJudgeCall

// judgeModel pairs an OpenRouter model id with the display name verdicts
// are attributed to.
type judgeModel struct {
	id   string
	name string
}

// panelModels is the fixed judge panel, premium models reached through
// OpenRouter. The mix spans US and EU providers so one vendor's taste does
// not dominate the verdict.
var panelModels = [...]judgeModel{
	{"anthropic/claude-sonnet-4", "Claude Sonnet 4"},
	{"openai/gpt-4o", "GPT-4o"},
	{"openai/o4-mini", "o4-mini"},
	{"google/gemini-2.5-pro", "Gemini 2.5 Pro"},
	{"x-ai/grok-3", "Grok 3"},
	{"mistralai/mistral-large-2411", "Mistral Large"},
	{"mistralai/mistral-medium-3", "Mistral Medium 3"},
}

const judgeInstruction = `You are scoring an AI assistant's answer. Rate its quality from 1 to 10 considering correctness, completeness and clarity. Reply with ONLY a JSON object: {"score": <number>, "reason": "brief explanation"}`

// JudgeScore is a single judge's verdict.
type JudgeScore struct {
	Judge  string  `json:"judge"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Panel queries a fixed set of premium models to score answer quality and
// takes the median of their verdicts.
type Panel struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewPanel builds a judge panel against an OpenRouter-compatible API root.
func NewPanel(endpoint, apiKey string, logger *slog.Logger) *Panel {
	return &Panel{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		client:   httpx.NewClientWithTimeout(httpx.LongTimeout),
		logger:   logger,
	}
}

// Evaluate asks every panel model for a verdict and returns the median of
// the clamped scores plus every individual verdict. The caller applies the
// quorum rule; Evaluate only fails when no judge call could be made at all.
func (p *Panel) Evaluate(ctx context.Context, prompt, answer string) (float64, []JudgeScore, error) {
	if p.apiKey == "" {
		return 0, nil, fmt.Errorf("judge panel has no api key")
	}

	scores := make(chan JudgeScore, len(panelModels))
	var wg sync.WaitGroup
	for _, judge := range panelModels {
		wg.Add(1)
		go func(judge judgeModel) {
			defer wg.Done()
			verdict, err := p.askJudge(ctx, judge, prompt, answer)
			if err != nil {
				p.logger.Warn("judge did not answer",
					slog.String("judge", judge.id),
					slog.String("error", err.Error()))
				return
			}
			scores <- verdict
		}(judge)
	}
	wg.Wait()
	close(scores)

	var verdicts []JudgeScore
	for s := range scores {
		verdicts = append(verdicts, s)
	}
	if len(verdicts) == 0 {
		return 0, nil, fmt.Errorf("no judge responded")
	}
	values := make([]float64, len(verdicts))
	for i, v := range verdicts {
		values[i] = v.Score
	}
	return median(values), verdicts, nil
}

func (p *Panel) askJudge(ctx context.Context, judge judgeModel, prompt, answer string) (JudgeScore, error) {
	payload, err := json.Marshal(map[string]any{
		"model": judge.id,
		"messages": []map[string]string{
			{"role": "system", "content": judgeInstruction},
			{"role": "user", "content": fmt.Sprintf("Question:\n%s\n\nAnswer:\n%s", prompt, answer)},
		},
		"stream": false,
	})
	if err != nil {
		return JudgeScore{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return JudgeScore{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return JudgeScore{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return JudgeScore{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return JudgeScore{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	content := gjson.GetBytes(body, "choices.0.message.content").String()
	score, ok := ExtractScore(content)
	if !ok {
		return JudgeScore{}, fmt.Errorf("no score in verdict %q", content)
	}
	return JudgeScore{
		Judge:  judge.name,
		Score:  score,
		Reason: gjson.Get(content, "reason").String(),
	}, nil
}

var scorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)score["':\s]*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*10`),
	regexp.MustCompile(`(?i)rating["':\s]*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(\d+(?:\.\d+)?)\s+out\s+of\s+10`),
}

// ExtractScore pulls a numeric verdict out of a judge reply. Well-behaved
// judges return the requested JSON; the regex fallbacks cover the ones that
// answer in prose. Scores are clamped to [1, 10].
func ExtractScore(content string) (float64, bool) {
	if v := gjson.Get(content, "score"); v.Exists() && v.Type == gjson.Number {
		return clamp(v.Float(), 1, 10), true
	}
	for _, pattern := range scorePatterns {
		m := pattern.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		score, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return clamp(score, 1, 10), true
	}
	return 0, false
}
