//go:build integration

package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caremetrix/mcp-sql-gateway/pkg/admin"
	"github.com/caremetrix/mcp-sql-gateway/pkg/gateway"
	gatewayhttp "github.com/caremetrix/mcp-sql-gateway/pkg/http"
)

// TestGateway is a fully wired gateway running on test servers: the MCP
// streamable surface on one listener and the admin API on another, the
// same split main.go serves.
type TestGateway struct {
	Gateway *gateway.Gateway
	DB      *TestDB

	MCPServer   *httptest.Server
	AdminServer *httptest.Server
}

// StartGateway boots the full stack on the given database: postgres
// allow-list registry, postgres audit sink, and an engine executing
// secured SQL against the same container.
func StartGateway(t *testing.T, db *TestDB) *TestGateway {
	t.Helper()

	g, err := gateway.New(
		gateway.WithConfig(buildGatewayConfig()),
		gateway.WithDB(db.DB),
		gateway.WithEngine(NewPostgresEngine(db.DB)),
		gateway.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("creating gateway: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("starting gateway: %v", err)
	}
	t.Cleanup(func() { _ = g.Stop(context.Background()) })

	streamHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.MCPServer()
	}, nil)
	mcpServer := httptest.NewServer(gatewayhttp.RequireAuth()(streamHandler))
	t.Cleanup(mcpServer.Close)

	adminServer := httptest.NewServer(buildAdminHandler(g))
	t.Cleanup(adminServer.Close)

	return &TestGateway{
		Gateway:     g,
		DB:          db,
		MCPServer:   mcpServer,
		AdminServer: adminServer,
	}
}

// buildGatewayConfig mirrors a production config file: API-key auth with
// a scoped analyst and a super admin, the postgres allow-list provider,
// audit enabled, and explicit execution bounds.
func buildGatewayConfig() *gateway.Config {
	return &gateway.Config{
		Server: gateway.ServerConfig{
			Name:      "e2e-sql-gateway",
			Version:   "v0.0.1-e2e",
			Transport: "http",
		},
		Auth: gateway.AuthConfig{
			APIKeys: gateway.APIKeyAuthConfig{
				Enabled: true,
				Keys: []gateway.APIKeyDef{
					{
						Key:         AnalystAPIKey,
						Name:        "analyst",
						Roles:       []string{"analyst"},
						PracticeIDs: []int64{PracticeA, PracticeB},
					},
					{
						Key:        SuperAPIKey,
						Name:       "root",
						Roles:      []string{"admin"},
						SuperAdmin: true,
					},
				},
			},
		},
		Engine: gateway.EngineConfig{
			DefaultRowLimit: 1000,
			MaxRowLimit:     10000,
			QueryTimeout:    30 * time.Second,
			MaxTimeout:      60 * time.Second,
			PingTimeout:     5 * time.Second,
		},
		Allowlist: gateway.AllowlistConfig{
			Provider: "postgres",
			TTL:      time.Minute,
		},
		Audit: gateway.AuditConfig{
			Enabled: true,
		},
		Admin: gateway.AdminConfig{
			Enabled: true,
			Keys: []gateway.APIKeyDef{
				{Key: OpsAPIKey, Name: "ops", Roles: []string{"ops"}},
			},
		},
	}
}

// buildAdminHandler replicates the admin wiring from main.go.
func buildAdminHandler(g *gateway.Gateway) http.Handler {
	cfg := g.Config()
	authn := admin.NewKeyAuthenticator(gateway.AuthKeys(cfg.Admin.Keys))
	return admin.NewHandler(admin.Deps{
		ServerName:    cfg.Server.Name,
		Engine:        g.Engine().Name(),
		Transport:     cfg.Server.Transport,
		AuditQuerier:  g.AuditLogger(),
		AuditRecorder: g.AuditLogger(),
		AuditMetrics:  g.AuditMetrics(),
		Allowlist:     g.Allowlist(),
		Health:        g.Health(),
		MCPServer:     g.MCPServer(),
		Logger:        quietLogger(),
	}, admin.RequireAdmin(authn))
}

// quietLogger discards log output so test failures stay readable.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ConnectMCP opens an MCP session against the streamable endpoint using
// the given API key as a bearer token. The session is closed when the
// test completes.
func ConnectMCP(t *testing.T, tg *TestGateway, apiKey string) *mcp.ClientSession {
	t.Helper()

	httpClient := &http.Client{
		Transport: &bearerTransport{token: apiKey, base: http.DefaultTransport},
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "e2e-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{
		Endpoint:   tg.MCPServer.URL,
		HTTPClient: httpClient,
	}, nil)
	if err != nil {
		t.Fatalf("connecting MCP session: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// bearerTransport adds an Authorization header to outgoing requests.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (b *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	resp, err := b.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}
	return resp, nil
}

// ToolText returns the first text content of a tool result.
func ToolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()

	if len(res.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("tool content is %T, not text", res.Content[0])
	}
	return text.Text
}

// UnmarshalToolJSON decodes the first text content of a tool result into v.
func UnmarshalToolJSON(t *testing.T, res *mcp.CallToolResult, v any) {
	t.Helper()

	if err := json.Unmarshal([]byte(ToolText(t, res)), v); err != nil {
		t.Fatalf("decoding tool result: %v", err)
	}
}
