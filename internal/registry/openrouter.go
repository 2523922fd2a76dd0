package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"
)

// fetchOpenRouter lists OpenRouter models and keeps those whose prompt and
// completion pricing are both zero. Prices arrive as string-encoded floats;
// anything unparsable is treated as paid.
func (r *Registry) fetchOpenRouter(ctx context.Context) ([]FreeModel, error) {
	endpoint := apiBase(r.sources.OpenRouterURL)
	resp, err := r.fetcher.Get(ctx, r.sources.OpenRouterURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch openrouter models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch openrouter models: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openrouter models: %w", err)
	}

	var models []FreeModel
	gjson.GetBytes(body, "data").ForEach(func(_, model gjson.Result) bool {
		id := model.Get("id").String()
		if id == "" {
			return true
		}
		if priceOrPaid(model.Get("pricing.prompt")) == 0 && priceOrPaid(model.Get("pricing.completion")) == 0 {
			models = append(models, FreeModel{
				ID:       id,
				Provider: "openrouter",
				Endpoint: endpoint,
				Source:   SourceOpenRouter,
			})
		}
		return true
	})
	return models, nil
}

func priceOrPaid(v gjson.Result) float64 {
	if !v.Exists() {
		return 1.0
	}
	price, err := strconv.ParseFloat(v.String(), 64)
	if err != nil {
		return 1.0
	}
	return price
}
