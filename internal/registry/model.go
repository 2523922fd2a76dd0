// Package registry discovers free models across heterogeneous provider
// sources and caches the aggregate snapshot.
package registry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source identifies where a free model was discovered. The numeric order is
// the discovery priority: local inference wins, then the smaller cloud
// aggregator, then the larger one. Tests assert this total order; do not
// reorder the constants.
type Source int

const (
	// SourceOllama is a local Ollama instance (highest priority).
	SourceOllama Source = iota
	// SourceZen is the OpenCode Zen cloud API.
	SourceZen
	// SourceOpenRouter is the OpenRouter cloud API (lowest priority).
	SourceOpenRouter
)

func (s Source) String() string {
	switch s {
	case SourceOllama:
		return "ollama"
	case SourceZen:
		return "opencode_zen"
	case SourceOpenRouter:
		return "openrouter"
	default:
		return "unknown"
	}
}

// IsLocal reports whether the source runs on the operator's machine and
// therefore needs no API key.
func (s Source) IsLocal() bool {
	return s == SourceOllama
}

// MarshalJSON encodes the source as its snake_case name.
func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a snake_case source name.
func (s *Source) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "ollama":
		*s = SourceOllama
	case "opencode_zen":
		*s = SourceZen
	case "openrouter":
		*s = SourceOpenRouter
	default:
		return fmt.Errorf("unknown source: %q", name)
	}
	return nil
}

// FreeModel is a model that currently costs nothing to call. The same
// logical model may appear once per source; uniqueness is per-source only.
type FreeModel struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Endpoint string `json:"endpoint"`
	Source   Source `json:"source"`
}

// Snapshot is an immutable, priority-ordered view of all free models at a
// point in time. Refresh swaps the whole snapshot atomically.
type Snapshot struct {
	Models    []FreeModel `json:"models"`
	FetchedAt time.Time   `json:"fetched_at"`
}
