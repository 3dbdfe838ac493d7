package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"digitaltwin/internal/domain"
)

const (
	mcpProtocolVersion = "2024-11-05"
	mcpServerName      = "digital-twin-mcp"
	defaultSearchTopK  = 3
	snippetLength      = 200
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type mcpTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

var mcpTools = []mcpTool{
	{
		Name:        "query_digital_twin",
		Description: "Ask the digital twin a question about its professional background, skills, experience and projects. Answers are written in first person, optionally in the style of an interview type.",
		InputSchema: queryToolSchema,
	},
	{
		Name:        "search_vector_db",
		Description: "Run a direct similarity search over the professional profile. Returns raw chunks with metadata and scores.",
		InputSchema: searchToolSchema,
	},
	{
		Name:        "get_profile_sections",
		Description: "Get specific sections of the professional profile (skills, experience, education, projects).",
		InputSchema: sectionsToolSchema,
	},
}

// MCPServer answers Model Context Protocol JSON-RPC requests over HTTP or stdio.
type MCPServer struct {
	twin    Twin
	version string
	logger  *slog.Logger
}

type MCPConfig struct {
	Twin    Twin
	Version string
	Logger  *slog.Logger
}

func NewMCPServer(cfg MCPConfig) *MCPServer {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MCPServer{twin: cfg.Twin, version: cfg.Version, logger: cfg.Logger}
}

// ServeHTTP handles one JSON-RPC message per POST. Notifications get 202.
func (s *MCPServer) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, rpcResponse{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: &rpcError{Code: rpcParseError, Message: "read body failed"}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	resp := s.Handle(ctx, body)
	if resp == nil {
		rw.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(rw, http.StatusOK, resp)
}

// ServeStdio reads newline-delimited JSON-RPC messages from in and writes
// responses to out until EOF or ctx is cancelled.
func (s *MCPServer) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxBodySize)
	enc := json.NewEncoder(out)

	s.logger.Info("MCP stdio server started", "version", s.version)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if resp := s.Handle(ctx, line); resp != nil {
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
	}
	return scanner.Err()
}

// Handle processes one raw JSON-RPC message. It returns nil for notifications.
func (s *MCPServer) Handle(ctx context.Context, raw []byte) *rpcResponse {
	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(json.RawMessage("null"), rpcParseError, "parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(idOrNull(req.ID), rpcInvalidRequest, "invalid request")
	}
	notification := len(req.ID) == 0

	start := time.Now()
	result, rerr := s.dispatch(ctx, req)
	s.logger.Debug("mcp request", "method", req.Method, "duration_ms", time.Since(start).Milliseconds())

	if notification {
		return nil
	}
	if rerr != nil {
		return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rerr}
	}
	return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *MCPServer) dispatch(ctx context.Context, req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": mcpProtocolVersion,
			"serverInfo":      map[string]string{"name": mcpServerName, "version": s.version},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		}, nil
	case "notifications/initialized", "ping":
		return map[string]any{}, nil
	case "tools/list":
		return map[string]any{"tools": mcpTools}, nil
	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			return nil, &rpcError{Code: rpcInvalidParams, Message: "tools/call requires a tool name"}
		}
		return s.callTool(ctx, params.Name, params.Arguments)
	default:
		return nil, &rpcError{Code: rpcMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func (s *MCPServer) callTool(ctx context.Context, name string, args json.RawMessage) (any, *rpcError) {
	var schema map[string]any
	for _, t := range mcpTools {
		if t.Name == name {
			schema = t.InputSchema
		}
	}
	if schema == nil {
		return nil, &rpcError{Code: rpcInvalidParams, Message: "unknown tool: " + name}
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := validate(schema, args); err != nil {
		return nil, &rpcError{Code: rpcInvalidParams, Message: err.Error()}
	}

	var (
		text string
		err  error
	)
	switch name {
	case "query_digital_twin":
		text, err = s.queryTwin(ctx, args)
	case "search_vector_db":
		text, err = s.searchProfile(ctx, args)
	case "get_profile_sections":
		text, err = s.profileSections(ctx, args)
	}
	if err != nil {
		s.logger.Error("mcp tool failed", "tool", name, "err", err)
		return toolResult{Content: []toolContent{{Type: "text", Text: "Error: " + publicError(err)}}, IsError: true}, nil
	}
	return toolResult{Content: []toolContent{{Type: "text", Text: text}}}, nil
}

func (s *MCPServer) queryTwin(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Question      string `json:"question"`
		InterviewType string `json:"interviewType"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	resp, err := s.twin.Ask(ctx, domain.PipelineRequest{Question: in.Question, Enhanced: true, InterviewType: in.InterviewType})
	if err != nil {
		return "", err
	}
	return resp.Answer, nil
}

type searchHit struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Type    string  `json:"type"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
}

func (s *MCPServer) searchProfile(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
		TopK  int    `json:"topK"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if in.TopK <= 0 {
		in.TopK = defaultSearchTopK
	}
	results, err := s.twin.Search(ctx, in.Query, in.TopK)
	if err != nil {
		return "", err
	}
	hits := make([]searchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, searchHit{ID: r.ID, Score: r.Score, Type: r.Type(), Title: r.Title(), Content: snippet(r.Content())})
	}
	return indentJSON(hits)
}

type sectionItem struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type sectionView struct {
	Section string        `json:"section"`
	Items   []sectionItem `json:"items"`
}

func (s *MCPServer) profileSections(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Sections []string `json:"sections"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	sections, err := s.twin.Sections(ctx, in.Sections)
	if err != nil {
		return "", err
	}
	out := make([]sectionView, 0, len(sections))
	for _, sec := range sections {
		v := sectionView{Section: sec.Section, Items: make([]sectionItem, 0, len(sec.Items))}
		for _, c := range sec.Items {
			v.Items = append(v.Items, sectionItem{Title: c.Title, Content: c.Content})
		}
		out = append(out, v)
	}
	return indentJSON(out)
}

func snippet(s string) string {
	if utf8.RuneCountInString(s) <= snippetLength {
		return s
	}
	return string([]rune(s)[:snippetLength]) + "..."
}

func indentJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// publicError hides internal details of retrieval failures from tool callers.
func publicError(err error) string {
	if errors.Is(err, domain.ErrRetrieval) {
		return "the profile index is temporarily unavailable"
	}
	return "request failed"
}

func errorResponse(id json.RawMessage, code int, msg string) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
