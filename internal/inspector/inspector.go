// Package inspector records every proxied request and response for later
// examination. Recording is in memory with a bounded window; export is
// native JSON or HAR.
package inspector

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestRecord is the client-facing half of a captured exchange.
type RequestRecord struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// ResponseRecord is the upstream-facing half. For streamed responses Body
// holds a placeholder rather than the relayed bytes.
type ResponseRecord struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Transaction is one completed exchange through the gateway. TokensPerSecond
// is nil when the generation window is unknown or empty.
type Transaction struct {
	ID               string         `json:"id"`
	Model            string         `json:"model"`
	Provider         string         `json:"provider"`
	Stream           bool           `json:"stream"`
	StartedAt        time.Time      `json:"started_at"`
	TotalMs          float64        `json:"total_ms"`
	TTFBMs           float64        `json:"ttfb_ms"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TokensPerSecond  *float64       `json:"tokens_per_second,omitempty"`
	Request          RequestRecord  `json:"request"`
	Response         ResponseRecord `json:"response"`
	Error            string         `json:"error,omitempty"`
}

// Record is an in-flight capture. It is handed out by Start and becomes
// visible in the inspector only once Complete runs. Records are not safe for
// concurrent use; each belongs to a single request goroutine.
type Record struct {
	inspector *Inspector
	tx        Transaction
	started   time.Time
	ttfb      time.Time
	completed bool
}

// Inspector holds the bounded transaction window.
type Inspector struct {
	mu      sync.RWMutex
	enabled bool
	max     int
	entries []Transaction
}

// New builds an Inspector keeping at most max transactions. max <= 0 keeps
// everything.
func New(enabled bool, max int) *Inspector {
	return &Inspector{enabled: enabled, max: max}
}

// SetEnabled toggles capture at runtime, for config hot reload.
func (i *Inspector) SetEnabled(enabled bool) {
	i.mu.Lock()
	i.enabled = enabled
	i.mu.Unlock()
}

// Enabled reports whether capture is on.
func (i *Inspector) Enabled() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.enabled
}

// Start opens a capture for one exchange. It always returns a usable Record
// even when capture is disabled, so call sites never branch on state.
// started keeps its monotonic reading; only the exported timestamp is
// converted to UTC. Durations stay correct across wall-clock steps.
func (i *Inspector) Start(model, provider string, stream bool, req RequestRecord) *Record {
	now := time.Now()
	return &Record{
		inspector: i,
		started:   now,
		tx: Transaction{
			ID:        uuid.NewString(),
			Model:     model,
			Provider:  provider,
			Stream:    stream,
			StartedAt: now.UTC(),
			Request:   req,
		},
	}
}

// MarkTTFB stamps the first upstream byte. Calling it more than once keeps
// the first stamp.
func (rec *Record) MarkTTFB() {
	if rec.ttfb.IsZero() {
		rec.ttfb = time.Now()
	}
}

// SetTokens records usage counts reported by the upstream.
func (rec *Record) SetTokens(prompt, completion int) {
	rec.tx.PromptTokens = prompt
	rec.tx.CompletionTokens = completion
}

// SetError annotates the transaction with the failure that ended it.
func (rec *Record) SetError(msg string) {
	rec.tx.Error = msg
}

// Complete closes the capture and stores it. Every code path that opened a
// Record must reach Complete exactly once; later calls are ignored.
func (rec *Record) Complete(resp ResponseRecord) {
	if rec.completed {
		return
	}
	rec.completed = true

	now := time.Now()
	rec.tx.Response = resp
	rec.tx.TotalMs = float64(now.Sub(rec.started)) / float64(time.Millisecond)
	if !rec.ttfb.IsZero() {
		rec.tx.TTFBMs = float64(rec.ttfb.Sub(rec.started)) / float64(time.Millisecond)
	} else {
		rec.tx.TTFBMs = rec.tx.TotalMs
	}
	rec.tx.TokensPerSecond = tokensPerSecond(rec.tx.CompletionTokens, rec.tx.TotalMs, rec.tx.TTFBMs)

	rec.inspector.store(rec.tx)
}

// tokensPerSecond derives throughput over the generation window, the span
// between first byte and completion. A zero or negative window yields nil.
func tokensPerSecond(completionTokens int, totalMs, ttfbMs float64) *float64 {
	seconds := (totalMs - ttfbMs) / 1000
	if seconds <= 0 || completionTokens <= 0 {
		return nil
	}
	tps := float64(completionTokens) / seconds
	return &tps
}

func (i *Inspector) store(tx Transaction) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.enabled {
		return
	}
	i.entries = append(i.entries, tx)
	if i.max > 0 && len(i.entries) > i.max {
		i.entries = i.entries[len(i.entries)-i.max:]
	}
}

// All returns the captured transactions, oldest first.
func (i *Inspector) All() []Transaction {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Transaction, len(i.entries))
	copy(out, i.entries)
	return out
}

// Clear drops every captured transaction and returns how many were dropped.
func (i *Inspector) Clear() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := len(i.entries)
	i.entries = nil
	return n
}
