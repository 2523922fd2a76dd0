package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/multiai/gateway/internal/httputil"
	"github.com/multiai/gateway/internal/inspector"
	"github.com/multiai/gateway/internal/registry"
	"github.com/multiai/gateway/internal/telemetry"
)

// maxRequestBody bounds inbound chat completion payloads.
const maxRequestBody = 10 << 20

// streamingPlaceholder stands in for relayed bytes in captured streaming
// transactions. The stream itself is passed through untouched, so there is
// no assembled body to record.
const streamingPlaceholder = `{"streaming":true}`

// autoModel asks the gateway to pick: the first entry of the snapshot, which
// ordering makes the highest-priority free model.
const autoModel = "auto"

// ChatCompletions proxies an OpenAI-shape chat completion to whichever free
// provider hosts the requested model. Every outcome, success or failure,
// lands in the inspector.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		httputil.WriteError(w, httputil.BadRequest("could not read request body"))
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		httputil.WriteError(w, httputil.BadRequest("request body is not valid JSON"))
		return
	}
	requested, _ := payload["model"].(string)
	stream, _ := payload["stream"].(bool)

	model, apiErr := h.resolveModel(r.Context(), requested)
	if apiErr != nil {
		// No upstream was chosen yet, but the attempt is still traffic
		// worth inspecting.
		rec := h.inspector.Start(requested, "", stream, inspector.RequestRecord{
			Method:  http.MethodPost,
			URL:     r.URL.Path,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    string(body),
		})
		h.failCapture(w, rec, apiErr)
		return
	}

	payload["model"] = model.ID
	outbound, err := json.Marshal(payload)
	if err != nil {
		httputil.WriteError(w, httputil.Internal(err))
		return
	}

	url := upstreamURL(model)
	rec := h.inspector.Start(model.ID, model.Provider, stream, inspector.RequestRecord{
		Method:  http.MethodPost,
		URL:     url,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    string(body),
	})

	key, apiErr := h.apiKey(model)
	if apiErr != nil {
		h.failCapture(w, rec, apiErr)
		return
	}

	// The upstream call runs on a detached context: an abandoned inbound
	// request must not cancel an in-flight generation. The client timeout
	// still bounds it.
	req, err := http.NewRequestWithContext(context.WithoutCancel(r.Context()), http.MethodPost, url, bytes.NewReader(outbound))
	if err != nil {
		h.failCapture(w, rec, httputil.Internal(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	start := time.Now()
	resp, err := h.upstreamClient(stream).Do(req)
	if err != nil {
		h.failCapture(w, rec, httputil.UpstreamError(model.Provider, err))
		h.recordMetrics(model, "502", stream, start, 0, 0)
		return
	}
	defer resp.Body.Close()

	if stream {
		h.relayStream(w, rec, resp)
		h.recordMetrics(model, "200", true, start, 0, 0)
		return
	}

	upstreamBody, err := io.ReadAll(resp.Body)
	if err != nil {
		h.failCapture(w, rec, httputil.UpstreamError(model.Provider, err))
		h.recordMetrics(model, "502", false, start, 0, 0)
		return
	}
	if !gjson.ValidBytes(upstreamBody) {
		h.failCapture(w, rec, httputil.ParseError(model.Provider, upstreamBody))
		h.recordMetrics(model, "502", false, start, 0, 0)
		return
	}

	rec.MarkTTFB()
	prompt := int(gjson.GetBytes(upstreamBody, "usage.prompt_tokens").Int())
	completion := int(gjson.GetBytes(upstreamBody, "usage.completion_tokens").Int())
	rec.SetTokens(prompt, completion)
	rec.Complete(inspector.ResponseRecord{Status: resp.StatusCode, Body: string(upstreamBody)})
	h.recordMetrics(model, strconv.Itoa(resp.StatusCode), false, start, prompt, completion)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(upstreamBody)
}

// relayStream pipes upstream bytes to the client verbatim, flushing after
// every chunk so tokens appear as the provider emits them. The gateway does
// not interpret the SSE frames. The transaction is completed with the
// placeholder body before relaying starts, so a stream the client abandons
// midway is still on record.
func (h *Handler) relayStream(w http.ResponseWriter, rec *inspector.Record, resp *http.Response) {
	rec.MarkTTFB()
	rec.Complete(inspector.ResponseRecord{
		Status:  resp.StatusCode,
		Headers: map[string]string{"Content-Type": "text/event-stream"},
		Body:    streamingPlaceholder,
	})

	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// resolveModel maps the requested name to a snapshot entry. Empty and "auto"
// both mean the first free model.
func (h *Handler) resolveModel(ctx context.Context, requested string) (registry.FreeModel, *httputil.APIError) {
	snap, err := h.registry.Snapshot(ctx, false)
	if err != nil {
		return registry.FreeModel{}, httputil.Internal(err)
	}
	if len(snap.Models) == 0 {
		return registry.FreeModel{}, httputil.NoModelsAvailable()
	}
	if requested == "" || requested == autoModel {
		return snap.Models[0], nil
	}
	model, ok := snap.Find(requested)
	if !ok {
		return registry.FreeModel{}, httputil.ModelNotFree(requested)
	}
	return model, nil
}

// upstreamURL derives the chat completions URL. Ollama serves its OpenAI
// compatibility layer under /v1; the cloud endpoints already include their
// version prefix.
func upstreamURL(m registry.FreeModel) string {
	if m.Source.IsLocal() {
		return m.Endpoint + "/v1/chat/completions"
	}
	return m.Endpoint + "/chat/completions"
}

// apiKey returns the bearer token for a model's provider. Local inference
// needs none; cloud sources refuse to proxy without one.
func (h *Handler) apiKey(m registry.FreeModel) (string, *httputil.APIError) {
	if m.Source.IsLocal() {
		return "", nil
	}
	keys := h.cfg.Config().APIKeys
	switch m.Source {
	case registry.SourceZen:
		if keys.Zen == "" {
			return "", httputil.APIKeyMissing(m.Provider)
		}
		return keys.Zen, nil
	case registry.SourceOpenRouter:
		if keys.OpenRouter == "" {
			return "", httputil.APIKeyMissing(m.Provider)
		}
		return keys.OpenRouter, nil
	}
	return "", httputil.APIKeyMissing(m.Provider)
}

// upstreamClient picks the right client for the call. Streams must not run
// under a whole-request timeout.
func (h *Handler) upstreamClient(stream bool) *http.Client {
	if stream {
		return h.streamClient()
	}
	return h.client
}

func (h *Handler) streamClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// failCapture writes an error to the client and closes the capture with the
// same outcome, keeping the inspector's view faithful to what was sent.
func (h *Handler) failCapture(w http.ResponseWriter, rec *inspector.Record, apiErr *httputil.APIError) {
	h.completeWithError(rec, apiErr)
	httputil.WriteError(w, apiErr)
}

func (h *Handler) recordMetrics(m registry.FreeModel, status string, stream bool, start time.Time, prompt, completion int) {
	h.metrics.RecordRequest(telemetry.RequestLabels{
		Model:            m.ID,
		Provider:         m.Provider,
		Status:           status,
		Stream:           stream,
		DurationMs:       float64(time.Since(start)) / float64(time.Millisecond),
		PromptTokens:     prompt,
		CompletionTokens: completion,
	})
}
