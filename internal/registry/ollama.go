package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/multiai/gateway/internal/httpx"
)

// fetchOllama lists models from the local Ollama instance. Local inference
// is always free, so every tag counts. The source is probe-gated: an
// unreachable or non-Ollama server contributes nothing.
func (r *Registry) fetchOllama(ctx context.Context) ([]FreeModel, error) {
	base := r.sources.OllamaURL
	if base == "" {
		return nil, nil
	}
	if !DetectOllama(ctx, base) {
		return nil, nil
	}

	resp, err := r.fetcher.Get(ctx, base+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch ollama tags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ollama tags: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ollama tags: %w", err)
	}

	var models []FreeModel
	gjson.GetBytes(body, "models").ForEach(func(_, model gjson.Result) bool {
		name := model.Get("name").String()
		if name == "" {
			return true
		}
		models = append(models, FreeModel{
			ID:       name,
			Provider: "ollama",
			Endpoint: base,
			Source:   SourceOllama,
		})
		return true
	})
	return models, nil
}

// DetectOllama probes a URL with a short timeout and reports whether an
// Ollama server answers there (/api/tags returning a models array).
func DetectOllama(ctx context.Context, baseURL string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, httpx.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := httpx.NewClientWithTimeout(httpx.ProbeTimeout).Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false
	}
	return gjson.GetBytes(body, "models").Exists()
}

// DetectPeer probes a URL and reports whether another instance of this
// gateway is already serving there. A different local inference server
// answering /health is not a peer; the check keys on the health body's app
// field.
func DetectPeer(ctx context.Context, baseURL string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, httpx.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := httpx.NewClientWithTimeout(httpx.ProbeTimeout).Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return false
	}
	return gjson.GetBytes(body, "app").String() == "multiai"
}
