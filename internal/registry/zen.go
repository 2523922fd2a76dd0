package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// fetchZen discovers free Zen models. Two calls per refresh: the public
// pricing-table document names which models are free, and the model-listing
// API supplies the ids those names must be matched against.
func (r *Registry) fetchZen(ctx context.Context) ([]FreeModel, error) {
	docsResp, err := r.fetcher.Get(ctx, r.sources.ZenDocsURL, map[string]string{
		"Accept": "text/html",
	})
	if err != nil {
		return nil, fmt.Errorf("fetch zen docs: %w", err)
	}
	defer docsResp.Body.Close()
	if docsResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch zen docs: status %d", docsResp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(docsResp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse zen docs html: %w", err)
	}
	freeNames := parseFreePricingRows(doc)
	if len(freeNames) == 0 {
		return nil, nil
	}

	apiResp, err := r.fetcher.Get(ctx, r.sources.ZenAPIURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch zen models: %w", err)
	}
	defer apiResp.Body.Close()
	if apiResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch zen models: status %d", apiResp.StatusCode)
	}
	body, err := io.ReadAll(apiResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read zen models: %w", err)
	}

	endpoint := apiBase(r.sources.ZenAPIURL)
	var models []FreeModel
	gjson.GetBytes(body, "data").ForEach(func(_, model gjson.Result) bool {
		id := model.Get("id").String()
		if id == "" {
			return true
		}
		if matchesFreeName(id, freeNames) {
			models = append(models, FreeModel{
				ID:       id,
				Provider: "opencode-zen",
				Endpoint: endpoint,
				Source:   SourceZen,
			})
		}
		return true
	})
	return models, nil
}

// parseFreePricingRows scans every table row for a MODEL/INPUT/OUTPUT triple
// where both prices read "Free". Header rows (first cell exactly "MODEL",
// case-insensitive) are skipped.
func parseFreePricingRows(doc *goquery.Document) []string {
	var free []string
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})
		if len(cells) < 3 {
			return
		}
		if strings.EqualFold(cells[0], "MODEL") {
			return
		}
		if strings.EqualFold(cells[1], "free") && strings.EqualFold(cells[2], "free") {
			free = append(free, cells[0])
		}
	})
	return free
}

// matchesFreeName reports whether an API model id corresponds to one of the
// free names scraped from the pricing table. The two lists use different
// naming conventions, so matching is deliberately loose: normalized
// substring containment first, token-level fuzzy matching second.
func matchesFreeName(id string, freeNames []string) bool {
	idLower := strings.ToLower(id)
	idNormalized := strings.ReplaceAll(idLower, "-free", "")

	for _, name := range freeNames {
		nameLower := strings.ToLower(name)
		nameNormalized := strings.NewReplacer(" ", "-", ".", "-").Replace(nameLower)

		if strings.Contains(idNormalized, nameNormalized) {
			return true
		}
		if strings.Contains(nameNormalized, strings.TrimPrefix(idNormalized, "opencode/")) {
			return true
		}
		if fuzzyModelMatch(idLower, nameLower) {
			return true
		}
	}
	return false
}

// fuzzyModelMatch handles cases like "Grok Code Fast 1" matching
// "grok-code-fast-1": every significant token of the name (length > 1) must
// appear in, or contain, some delimiter-split token of the id.
func fuzzyModelMatch(id, name string) bool {
	idParts := strings.FieldsFunc(id, func(r rune) bool {
		return r == '-' || r == '_' || r == '/'
	})
	nameParts := strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})

	var significant []string
	for _, p := range nameParts {
		if len(p) > 1 {
			significant = append(significant, p)
		}
	}
	if len(significant) == 0 {
		return false
	}

	for _, part := range significant {
		found := false
		for _, idPart := range idParts {
			if strings.Contains(idPart, part) || strings.Contains(part, idPart) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
