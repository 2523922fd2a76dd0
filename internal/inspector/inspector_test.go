package inspector

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRecordLifecycle(t *testing.T) {
	insp := New(true, 100)

	rec := insp.Start("llama3", "ollama", false, RequestRecord{
		Method: "POST",
		URL:    "http://127.0.0.1:11434/v1/chat/completions",
		Body:   `{"model":"llama3"}`,
	})
	rec.MarkTTFB()
	rec.SetTokens(12, 40)
	rec.Complete(ResponseRecord{Status: 200, Body: `{"id":"chatcmpl-1"}`})

	all := insp.All()
	if len(all) != 1 {
		t.Fatalf("got %d transactions, want 1", len(all))
	}
	tx := all[0]
	if tx.ID == "" {
		t.Error("transaction missing id")
	}
	if tx.Model != "llama3" || tx.Provider != "ollama" {
		t.Errorf("identity = %s/%s", tx.Provider, tx.Model)
	}
	if tx.CompletionTokens != 40 {
		t.Errorf("completion tokens = %d", tx.CompletionTokens)
	}
	if tx.TTFBMs > tx.TotalMs {
		t.Errorf("ttfb %.2f exceeds total %.2f", tx.TTFBMs, tx.TotalMs)
	}
}

func TestStartKeepsMonotonicMarker(t *testing.T) {
	insp := New(true, 10)
	rec := insp.Start("m", "p", false, RequestRecord{})

	// The duration marker must carry Go's monotonic reading so a
	// wall-clock step mid-request cannot produce negative timings. The
	// exported timestamp is plain UTC.
	if !strings.Contains(rec.started.String(), " m=") {
		t.Errorf("started lost its monotonic reading: %v", rec.started)
	}
	if loc := rec.tx.StartedAt.Location(); loc != time.UTC {
		t.Errorf("started_at location = %v, want UTC", loc)
	}
	if strings.Contains(rec.tx.StartedAt.String(), " m=") {
		t.Errorf("exported timestamp carries a monotonic reading: %v", rec.tx.StartedAt)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	insp := New(true, 10)
	rec := insp.Start("m", "p", false, RequestRecord{})
	rec.Complete(ResponseRecord{Status: 200})
	rec.Complete(ResponseRecord{Status: 500})

	all := insp.All()
	if len(all) != 1 {
		t.Fatalf("got %d transactions, want 1", len(all))
	}
	if all[0].Response.Status != 200 {
		t.Errorf("second Complete overwrote the first: status %d", all[0].Response.Status)
	}
}

func TestTokensPerSecond(t *testing.T) {
	tests := []struct {
		completion       int
		totalMs, ttfbMs  float64
		want             float64
		wantNil          bool
	}{
		{100, 2000, 1000, 100, false},
		{50, 1500, 500, 50, false},
		{100, 1000, 1000, 0, true},
		{100, 500, 1000, 0, true},
		{0, 2000, 1000, 0, true},
	}
	for _, tt := range tests {
		got := tokensPerSecond(tt.completion, tt.totalMs, tt.ttfbMs)
		if tt.wantNil {
			if got != nil {
				t.Errorf("tokensPerSecond(%d, %.0f, %.0f) = %v, want nil",
					tt.completion, tt.totalMs, tt.ttfbMs, *got)
			}
			continue
		}
		if got == nil {
			t.Errorf("tokensPerSecond(%d, %.0f, %.0f) = nil, want %.0f",
				tt.completion, tt.totalMs, tt.ttfbMs, tt.want)
			continue
		}
		if *got != tt.want {
			t.Errorf("tokensPerSecond(%d, %.0f, %.0f) = %.2f, want %.0f",
				tt.completion, tt.totalMs, tt.ttfbMs, *got, tt.want)
		}
	}
}

func TestWindowTrimsOldest(t *testing.T) {
	insp := New(true, 3)
	for i := 0; i < 5; i++ {
		rec := insp.Start(fmt.Sprintf("m%d", i), "p", false, RequestRecord{})
		rec.Complete(ResponseRecord{Status: 200})
	}
	all := insp.All()
	if len(all) != 3 {
		t.Fatalf("got %d transactions, want 3", len(all))
	}
	if all[0].Model != "m2" || all[2].Model != "m4" {
		t.Errorf("window = %s..%s, want m2..m4", all[0].Model, all[2].Model)
	}
}

func TestDisabledInspectorStoresNothing(t *testing.T) {
	insp := New(false, 10)
	rec := insp.Start("m", "p", false, RequestRecord{})
	rec.Complete(ResponseRecord{Status: 200})
	if n := len(insp.All()); n != 0 {
		t.Errorf("disabled inspector stored %d transactions", n)
	}

	insp.SetEnabled(true)
	rec = insp.Start("m", "p", false, RequestRecord{})
	rec.Complete(ResponseRecord{Status: 200})
	if n := len(insp.All()); n != 1 {
		t.Errorf("re-enabled inspector stored %d transactions, want 1", n)
	}
}

func TestClear(t *testing.T) {
	insp := New(true, 10)
	for i := 0; i < 4; i++ {
		insp.Start("m", "p", false, RequestRecord{}).Complete(ResponseRecord{Status: 200})
	}
	if n := insp.Clear(); n != 4 {
		t.Errorf("Clear returned %d, want 4", n)
	}
	if n := len(insp.All()); n != 0 {
		t.Errorf("%d transactions survived Clear", n)
	}
}

func TestConcurrentCaptures(t *testing.T) {
	insp := New(true, 0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := insp.Start("m", "p", true, RequestRecord{})
			rec.MarkTTFB()
			rec.Complete(ResponseRecord{Status: 200})
		}()
	}
	wg.Wait()
	if n := len(insp.All()); n != 50 {
		t.Errorf("got %d transactions, want 50", n)
	}
}

func TestExportHAR(t *testing.T) {
	insp := New(true, 10)
	rec := insp.Start("grok-code-fast-1", "opencode-zen", false, RequestRecord{
		Method:  "POST",
		URL:     "https://opencode.ai/zen/v1/chat/completions",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    `{"model":"grok-code-fast-1"}`,
	})
	rec.SetTokens(10, 20)
	rec.Complete(ResponseRecord{Status: 200, Body: `{"choices":[]}`})

	har := insp.ExportHAR("1.0.0")
	if har.Log.Version != "1.2" {
		t.Errorf("har version = %q", har.Log.Version)
	}
	if har.Log.Creator.Name != "multiai" {
		t.Errorf("creator = %q", har.Log.Creator.Name)
	}
	if len(har.Log.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(har.Log.Entries))
	}
	entry := har.Log.Entries[0]
	if entry.Request.PostData == nil || entry.Request.PostData.Text == "" {
		t.Error("entry missing request postData")
	}
	if entry.LLMMetrics.CompletionTokens != 20 {
		t.Errorf("llm metrics tokens = %d", entry.LLMMetrics.CompletionTokens)
	}

	raw, err := json.Marshal(har)
	if err != nil {
		t.Fatalf("marshal har: %v", err)
	}
	for _, want := range []string{`"startedDateTime"`, `"_llmMetrics"`, `"timings"`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("har json missing %s", want)
		}
	}
}
