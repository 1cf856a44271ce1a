// Package mcporder executes orders by calling tools on Model Context Protocol
// servers.
//
// A [Host] keeps one client session per configured server. Each [Binding]
// maps an order anchor to a tool; the phrase's slots become the tool's
// arguments and the tool's text content becomes the reply.
package mcporder

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/replica/internal/order"
	"github.com/MrWong99/replica/pkg/types"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and talks over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP uses the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to reach one MCP server.
type ServerConfig struct {
	Name      string
	Transport Transport
	// Command is split on whitespace into executable and arguments (stdio).
	Command string
	// URL is the endpoint (streamable-http).
	URL string
	Env map[string]string
}

// Binding maps an order anchor to a tool on a named server.
type Binding struct {
	Anchor types.Anchor
	Server string
	Tool   string

	// Args maps tool argument names to slot roles. When empty, every slot is
	// passed under its role name.
	Args map[string]string
}

// toolCaller is the subset of *mcpsdk.ClientSession used by handlers.
type toolCaller interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	Ping(ctx context.Context, params *mcpsdk.PingParams) error
	Close() error
}

// Host owns the MCP client sessions.
//
// All methods are safe for concurrent use.
type Host struct {
	client *mcpsdk.Client

	mu      sync.RWMutex
	servers map[string]toolCaller
}

// New returns a [Host] without connections.
func New() *Host {
	return &Host{
		client:  mcpsdk.NewClient(&mcpsdk.Implementation{Name: "replica-orders", Version: "1.0.0"}, nil),
		servers: make(map[string]toolCaller),
	}
}

// Connect opens a session to the server described by cfg. A previous session
// with the same name is closed and replaced.
func (h *Host) Connect(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcporder: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return fmt.Errorf("mcporder: stdio server %q requires a command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcporder: streamable-http server %q requires a url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("mcporder: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	return h.ConnectTransport(ctx, cfg.Name, transport)
}

// ConnectTransport opens a session named name over an already built
// transport.
func (h *Host) ConnectTransport(ctx context.Context, name string, transport mcpsdk.Transport) error {
	cs, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcporder: connect %q: %w", name, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.servers[name]; ok {
		_ = old.Close()
	}
	h.servers[name] = cs
	return nil
}

// Handler returns the order handler for b. The server must already be
// connected.
func (h *Host) Handler(b Binding) (order.Handler, error) {
	h.mu.RLock()
	_, ok := h.servers[b.Server]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcporder: anchor %q: server %q not connected", b.Anchor, b.Server)
	}
	if b.Tool == "" {
		return nil, fmt.Errorf("mcporder: anchor %q: empty tool name", b.Anchor)
	}
	return &toolHandler{host: h, binding: b}, nil
}

// Register connects every binding's handler to d.
func (h *Host) Register(d *order.Dispatcher, bindings []Binding) error {
	for _, b := range bindings {
		hd, err := h.Handler(b)
		if err != nil {
			return err
		}
		if err := d.Register(b.Anchor, hd); err != nil {
			return err
		}
	}
	return nil
}

// Ping pings every connected server and reports all failures.
func (h *Host) Ping(ctx context.Context) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var errs []error
	for name, cs := range h.servers {
		if err := cs.Ping(ctx, nil); err != nil {
			errs = append(errs, fmt.Errorf("mcporder: ping %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Servers returns the number of connected servers.
func (h *Host) Servers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.servers)
}

// Close closes every session.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, cs := range h.servers {
		if err := cs.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcporder: close %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	return firstErr
}

type toolHandler struct {
	host    *Host
	binding Binding
}

// Execute implements [order.Handler]. A tool result flagged IsError declines
// the order.
func (t *toolHandler) Execute(ctx context.Context, turn order.Turn) (string, bool, error) {
	t.host.mu.RLock()
	cs, ok := t.host.servers[t.binding.Server]
	t.host.mu.RUnlock()
	if !ok {
		return "", false, fmt.Errorf("mcporder: server %q closed", t.binding.Server)
	}

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.binding.Tool,
		Arguments: t.arguments(turn),
	})
	if err != nil {
		return "", false, fmt.Errorf("mcporder: call %q: %w", t.binding.Tool, err)
	}
	if res.IsError {
		return "", false, nil
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String(), true, nil
}

func (t *toolHandler) arguments(turn order.Turn) map[string]any {
	if len(t.binding.Args) == 0 {
		slots := turn.Phrase.Slots()
		args := make(map[string]any, len(slots))
		for k, v := range slots {
			args[k] = v
		}
		return args
	}
	args := make(map[string]any, len(t.binding.Args))
	for name, role := range t.binding.Args {
		args[name] = turn.Bot.ExtractEntity(role, turn.Phrase)
	}
	return args
}
