package inspector

import "time"

// HAR 1.2 export. Non-standard fields carry the underscore prefix the format
// reserves for custom data, so viewers that only know the base schema still
// open the file.

type HAR struct {
	Log HARLog `json:"log"`
}

type HARLog struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Entries []HAREntry `json:"entries"`
}

type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type HAREntry struct {
	StartedDateTime string        `json:"startedDateTime"`
	Time            float64       `json:"time"`
	Request         HARRequest    `json:"request"`
	Response        HARResponse   `json:"response"`
	Timings         HARTimings    `json:"timings"`
	LLMMetrics      HARLLMMetrics `json:"_llmMetrics"`
}

type HARRequest struct {
	Method   string       `json:"method"`
	URL      string       `json:"url"`
	Headers  []HARHeader  `json:"headers"`
	PostData *HARPostData `json:"postData,omitempty"`
}

type HARResponse struct {
	Status  int         `json:"status"`
	Headers []HARHeader `json:"headers"`
	Content HARContent  `json:"content"`
}

type HARHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type HARPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type HARContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type HARTimings struct {
	Total float64 `json:"total"`
	TTFB  float64 `json:"ttfb"`
}

type HARLLMMetrics struct {
	Model            string   `json:"model"`
	Provider         string   `json:"provider"`
	PromptTokens     int      `json:"promptTokens"`
	CompletionTokens int      `json:"completionTokens"`
	TokensPerSecond  *float64 `json:"tokensPerSecond,omitempty"`
}

// ExportHAR renders the captured transactions as a HAR archive.
func (i *Inspector) ExportHAR(version string) HAR {
	entries := i.All()
	har := HAR{
		Log: HARLog{
			Version: "1.2",
			Creator: HARCreator{Name: "multiai", Version: version},
			Entries: make([]HAREntry, 0, len(entries)),
		},
	}
	for _, tx := range entries {
		har.Log.Entries = append(har.Log.Entries, harEntry(tx))
	}
	return har
}

func harEntry(tx Transaction) HAREntry {
	entry := HAREntry{
		StartedDateTime: tx.StartedAt.Format(time.RFC3339Nano),
		Time:            tx.TotalMs,
		Request: HARRequest{
			Method:  tx.Request.Method,
			URL:     tx.Request.URL,
			Headers: harHeaders(tx.Request.Headers),
		},
		Response: HARResponse{
			Status:  tx.Response.Status,
			Headers: harHeaders(tx.Response.Headers),
			Content: HARContent{
				Size:     len(tx.Response.Body),
				MimeType: "application/json",
				Text:     tx.Response.Body,
			},
		},
		Timings: HARTimings{Total: tx.TotalMs, TTFB: tx.TTFBMs},
		LLMMetrics: HARLLMMetrics{
			Model:            tx.Model,
			Provider:         tx.Provider,
			PromptTokens:     tx.PromptTokens,
			CompletionTokens: tx.CompletionTokens,
			TokensPerSecond:  tx.TokensPerSecond,
		},
	}
	if tx.Request.Body != "" {
		entry.Request.PostData = &HARPostData{
			MimeType: "application/json",
			Text:     tx.Request.Body,
		}
	}
	return entry
}

func harHeaders(h map[string]string) []HARHeader {
	headers := make([]HARHeader, 0, len(h))
	for name, value := range h {
		headers = append(headers, HARHeader{Name: name, Value: value})
	}
	return headers
}
