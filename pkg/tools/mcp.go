package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/orkestra-dev/orkestra/pkg/llms"
)

// DefaultMCPTimeout bounds a single MCP tool call.
const DefaultMCPTimeout = 120 * time.Second

// MCPConfig configures a connection to one MCP server.
type MCPConfig struct {
	// Name identifies the server; exposed tool names are prefixed
	// "mcp_<name>_".
	Name string

	// Transport is "stdio", "sse" or "streamable-http". Defaults to stdio
	// when Command is set, streamable-http otherwise.
	Transport string

	// Command, Args and Env describe the subprocess for stdio transport.
	Command string
	Args    []string
	Env     map[string]string

	// URL is the server endpoint for HTTP transports.
	URL string

	// Timeout bounds one tool call. Defaults to DefaultMCPTimeout.
	Timeout time.Duration
}

// MCPSource exposes one MCP server's tools. The connection is established
// lazily on the first Tools call.
type MCPSource struct {
	cfg MCPConfig

	mu        sync.Mutex
	client    *client.Client
	tools     []Tool
	connected bool
}

func NewMCPSource(cfg MCPConfig) (*MCPSource, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("MCP server name is required")
	}
	if cfg.Command == "" && cfg.URL == "" {
		return nil, fmt.Errorf("MCP server %q needs either a command or a url", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMCPTimeout
	}
	return &MCPSource{cfg: cfg}, nil
}

func (s *MCPSource) Name() string {
	return "mcp:" + s.cfg.Name
}

// Tools returns the server's tools, connecting on first use.
func (s *MCPSource) Tools(ctx context.Context) ([]Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		if err := s.connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to MCP server %q: %w", s.cfg.Name, err)
		}
	}

	out := make([]Tool, len(s.tools))
	copy(out, s.tools)
	return out, nil
}

// Connect eagerly establishes the server connection.
func (s *MCPSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	return s.connect(ctx)
}

func (s *MCPSource) connect(ctx context.Context) error {
	mcpClient, err := s.newClient()
	if err != nil {
		return err
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "orkestra",
		Version: "1.0.0",
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list MCP tools: %w", err)
	}

	var tools []Tool
	for _, mcpTool := range listResp.Tools {
		tools = append(tools, &mcpToolAdapter{
			source:     s,
			remoteName: mcpTool.Name,
			exposed:    fmt.Sprintf("mcp_%s_%s", s.cfg.Name, mcpTool.Name),
			desc:       mcpTool.Description,
			schema:     convertMCPSchema(mcpTool.InputSchema),
		})
	}

	s.client = mcpClient
	s.tools = tools
	s.connected = true

	slog.Info("connected to MCP server",
		"server", s.cfg.Name,
		"transport", s.transport(),
		"tools", len(tools),
	)
	return nil
}

func (s *MCPSource) transport() string {
	if s.cfg.Transport != "" {
		return s.cfg.Transport
	}
	if s.cfg.Command != "" {
		return "stdio"
	}
	return "streamable-http"
}

func (s *MCPSource) newClient() (*client.Client, error) {
	switch s.transport() {
	case "stdio":
		env := make([]string, 0, len(s.cfg.Env))
		for key, value := range s.cfg.Env {
			env = append(env, key+"="+value)
		}
		return client.NewStdioMCPClient(s.cfg.Command, env, s.cfg.Args...)
	case "sse":
		return client.NewSSEMCPClient(s.cfg.URL)
	case "streamable-http":
		return client.NewStreamableHttpClient(s.cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported MCP transport %q", s.cfg.Transport)
	}
}

// Close disconnects from the server.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.client == nil {
		return nil
	}
	s.connected = false
	return s.client.Close()
}

var _ Source = (*MCPSource)(nil)

// mcpToolAdapter bridges one remote MCP tool into the Tool interface.
type mcpToolAdapter struct {
	source     *MCPSource
	remoteName string
	exposed    string
	desc       string
	schema     map[string]interface{}
}

func (t *mcpToolAdapter) Name() string {
	return t.exposed
}

func (t *mcpToolAdapter) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.exposed,
		Description: t.desc,
		Parameters:  t.schema,
	}
}

func (t *mcpToolAdapter) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	t.source.mu.Lock()
	mcpClient := t.source.client
	t.source.mu.Unlock()
	if mcpClient == nil {
		return "", fmt.Errorf("MCP server %q is not connected", t.source.cfg.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.source.cfg.Timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = t.remoteName
	req.Params.Arguments = args

	result, err := mcpClient.CallTool(callCtx, req)
	if err != nil {
		return "", fmt.Errorf("MCP call failed: %w", err)
	}

	content := extractMCPText(result)
	if result.IsError {
		return "", fmt.Errorf("MCP tool error: %s", content)
	}
	return content, nil
}

func extractMCPText(result *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, block := range result.Content {
		if text, ok := mcp.AsTextContent(block); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(text.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// convertMCPSchema turns the wire input schema into a plain JSON object.
func convertMCPSchema(schema mcp.ToolInputSchema) map[string]interface{} {
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil || len(out) == 0 {
		return map[string]interface{}{"type": "object"}
	}
	if out["type"] == nil {
		out["type"] = "object"
	}
	return out
}
