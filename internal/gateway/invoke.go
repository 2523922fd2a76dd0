package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/multiai/gateway/internal/httputil"
	"github.com/multiai/gateway/internal/inspector"
	"github.com/multiai/gateway/internal/registry"
)

// CompletionResult is a finished single-prompt completion with the timing
// and token counts the comparator scores on.
type CompletionResult struct {
	Model            string   `json:"model"`
	Provider         string   `json:"provider"`
	Content          string   `json:"content"`
	TTFTMs           float64  `json:"ttft_ms"`
	TotalMs          float64  `json:"total_ms"`
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TokensPerSecond  *float64 `json:"tokens_per_second,omitempty"`
}

// Complete runs one non-streaming chat completion against the provider that
// hosts modelID. It goes through the same capture path as proxied traffic,
// so comparisons show up in the inspector alongside client requests.
func (h *Handler) Complete(ctx context.Context, modelID, prompt string) (*CompletionResult, error) {
	model, apiErr := h.resolveModel(ctx, modelID)
	if apiErr != nil {
		return nil, apiErr
	}

	payload, err := json.Marshal(map[string]any{
		"model": model.ID,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": false,
	})
	if err != nil {
		return nil, httputil.Internal(err)
	}

	url := upstreamURL(model)
	rec := h.inspector.Start(model.ID, model.Provider, false, inspector.RequestRecord{
		Method:  http.MethodPost,
		URL:     url,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    string(payload),
	})

	key, apiErr := h.apiKey(model)
	if apiErr != nil {
		h.completeWithError(rec, apiErr)
		return nil, apiErr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		wrapped := httputil.Internal(err)
		h.completeWithError(rec, wrapped)
		return nil, wrapped
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		wrapped := httputil.UpstreamError(model.Provider, err)
		h.completeWithError(rec, wrapped)
		return nil, wrapped
	}
	defer resp.Body.Close()
	ttft := float64(time.Since(start)) / float64(time.Millisecond)
	rec.MarkTTFB()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBody))
	if err != nil {
		wrapped := httputil.UpstreamError(model.Provider, err)
		h.completeWithError(rec, wrapped)
		return nil, wrapped
	}
	total := float64(time.Since(start)) / float64(time.Millisecond)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := httputil.UpstreamStatus(model.Provider, resp.StatusCode, body)
		rec.SetError(apiErr.Message)
		rec.Complete(inspector.ResponseRecord{Status: resp.StatusCode, Body: string(body)})
		return nil, apiErr
	}
	if !gjson.ValidBytes(body) {
		wrapped := httputil.ParseError(model.Provider, body)
		h.completeWithError(rec, wrapped)
		return nil, wrapped
	}

	content := gjson.GetBytes(body, "choices.0.message.content").String()
	if content == "" {
		wrapped := httputil.ParseError(model.Provider, body)
		h.completeWithError(rec, wrapped)
		return nil, wrapped
	}
	promptTokens := int(gjson.GetBytes(body, "usage.prompt_tokens").Int())
	completionTokens := int(gjson.GetBytes(body, "usage.completion_tokens").Int())

	rec.SetTokens(promptTokens, completionTokens)
	rec.Complete(inspector.ResponseRecord{Status: resp.StatusCode, Body: string(body)})

	result := &CompletionResult{
		Model:            model.ID,
		Provider:         model.Provider,
		Content:          content,
		TTFTMs:           ttft,
		TotalMs:          total,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}
	if seconds := total / 1000; seconds > 0 && completionTokens > 0 {
		tps := float64(completionTokens) / seconds
		result.TokensPerSecond = &tps
	}
	return result, nil
}

// FreeModels exposes the current snapshot ids for the comparator's
// model-selection step.
func (h *Handler) FreeModels(ctx context.Context) ([]registry.FreeModel, error) {
	snap, err := h.registry.Snapshot(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("load model snapshot: %w", err)
	}
	return snap.Models, nil
}

func (h *Handler) completeWithError(rec *inspector.Record, apiErr *httputil.APIError) {
	rec.SetError(apiErr.Message)
	body, _ := json.Marshal(map[string]*httputil.APIError{"error": apiErr})
	rec.Complete(inspector.ResponseRecord{Status: apiErr.Status, Body: string(body)})
}
