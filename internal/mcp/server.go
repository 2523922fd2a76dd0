// Package mcp exposes the comparator as a Model Context Protocol server
// speaking line-delimited JSON-RPC 2.0 over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/multiai/gateway/internal/compare"
)

// protocolVersion is the MCP revision this server implements.
const protocolVersion = "2024-11-05"

// serverVersion mirrors the gateway build version.
const serverVersion = "1.0.0"

// compareToolName is the single tool the server offers.
const compareToolName = "compare_models"

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Comparator runs model comparisons. The compare package satisfies it.
type Comparator interface {
	Run(ctx context.Context, params compare.Params) (*compare.Report, error)
}

// Server reads one JSON-RPC request per line and answers in kind. Requests
// are handled sequentially; MCP clients await each response before sending
// the next call.
type Server struct {
	comparator Comparator
	logger     *slog.Logger
	in         io.Reader
	out        *bufio.Writer
}

// NewServer wires a Server over arbitrary streams. Production passes stdin
// and stdout; tests pass buffers.
func NewServer(comparator Comparator, logger *slog.Logger, in io.Reader, out io.Writer) *Server {
	return &Server{
		comparator: comparator,
		logger:     logger,
		in:         in,
		out:        bufio.NewWriter(out),
	}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Serve processes requests until the input closes or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.reply(response{JSONRPC: "2.0", Error: &rpcError{
				Code:    codeParseError,
				Message: "parse error",
			}})
			continue
		}
		if resp := s.dispatch(ctx, req); resp != nil {
			s.reply(*resp)
		}
	}
	return scanner.Err()
}

// dispatch routes one request. Notifications (no id) get no response.
func (s *Server) dispatch(ctx context.Context, req request) *response {
	if req.Method == "" {
		return s.errorResponse(req, codeInvalidRequest, "missing method")
	}

	switch req.Method {
	case "initialize":
		return s.resultResponse(req, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    "multiai",
				"version": serverVersion,
			},
		})
	case "notifications/initialized":
		return nil
	case "tools/list":
		return s.resultResponse(req, map[string]any{
			"tools": []map[string]any{compareToolSchema()},
		})
	case "tools/call":
		return s.toolsCall(ctx, req)
	default:
		if req.ID == nil {
			// Unknown notification, nothing to answer.
			return nil
		}
		return s.errorResponse(req, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func compareToolSchema() map[string]any {
	return map[string]any{
		"name":        compareToolName,
		"description": "Run one prompt across the available free models and rank the answers by speed, quality and efficiency.",
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "The prompt to send to every model.",
				},
				"models": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Optional model name filters. Substrings match.",
				},
				"max_models": map[string]any{
					"type":        "integer",
					"description": "Upper bound on models compared. Defaults to 5.",
				},
				"include_ranking": map[string]any{
					"type":        "boolean",
					"description": "Score and rank the answers. Defaults to true.",
				},
			},
			"required": []string{"prompt"},
		},
	}
}

type toolCallParams struct {
	Name      string `json:"name"`
	Arguments struct {
		Prompt         string   `json:"prompt"`
		Models         []string `json:"models"`
		MaxModels      int      `json:"max_models"`
		IncludeRanking *bool    `json:"include_ranking"`
	} `json:"arguments"`
}

func (s *Server) toolsCall(ctx context.Context, req request) *response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req, codeInvalidParams, "invalid tool call params")
	}
	if params.Name != compareToolName {
		return s.errorResponse(req, codeInvalidParams, fmt.Sprintf("unknown tool %q", params.Name))
	}
	if params.Arguments.Prompt == "" {
		return s.errorResponse(req, codeInvalidParams, "prompt is required")
	}

	includeRanking := true
	if params.Arguments.IncludeRanking != nil {
		includeRanking = *params.Arguments.IncludeRanking
	}

	report, err := s.comparator.Run(ctx, compare.Params{
		Prompt:         params.Arguments.Prompt,
		Models:         params.Arguments.Models,
		MaxModels:      params.Arguments.MaxModels,
		IncludeRanking: includeRanking,
	})
	if err != nil {
		s.logger.Warn("comparison failed", slog.String("error", err.Error()))
		return s.errorResponse(req, codeInternalError, err.Error())
	}

	content := []map[string]any{
		{"type": "text", "text": report.Summary},
	}
	if details, err := json.MarshalIndent(report, "", "  "); err == nil {
		content = append(content, map[string]any{
			"type": "text",
			"text": fmt.Sprintf("<details>\n<summary>Full results</summary>\n\n```json\n%s\n```\n</details>", details),
		})
	}
	return s.resultResponse(req, map[string]any{"content": content})
}

func (s *Server) resultResponse(req request, result any) *response {
	if req.ID == nil {
		return nil
	}
	return &response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) errorResponse(req request, code int, message string) *response {
	if req.ID == nil {
		return nil
	}
	return &response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: code, Message: message}}
}

// reply writes one response line and flushes so the client sees it
// immediately.
func (s *Server) reply(resp response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encoding response failed", slog.String("error", err.Error()))
		return
	}
	raw = append(raw, '\n')
	if _, err := s.out.Write(raw); err != nil {
		s.logger.Error("writing response failed", slog.String("error", err.Error()))
		return
	}
	s.out.Flush()
}
