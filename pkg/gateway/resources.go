package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/yosida95/uritemplate/v3"

	"github.com/caremetrix/mcp-sql-gateway/pkg/allowlist"
)

// Resource URI patterns.
const (
	tablesResourceURI = "allowlist://tables"
	tierTemplateURI   = "allowlist://tables/{tier}"
)

// registerResources registers the allow-list resources. The static
// resource serves the full snapshot; the template serves tier-bounded
// views for callers that only want vetted tables.
func (g *Gateway) registerResources(server *mcp.Server) {
	server.AddResource(&mcp.Resource{
		URI:         tablesResourceURI,
		Name:        "Allowed Tables",
		Description: "Every table queries are currently permitted to reference, with trust tiers and snapshot age",
		MIMEType:    "application/json",
	}, g.handleTablesResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: tierTemplateURI,
		Name:        "Allowed Tables by Tier",
		Description: "Allowed tables restricted to a maximum trust tier",
		MIMEType:    "application/json",
	}, g.handleTierResource)
}

// handleTablesResource handles allowlist://tables requests.
func (g *Gateway) handleTablesResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	listing, err := g.snapshotListing(ctx, 0)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}
	return marshalResourceResult(req.Params.URI, listing)
}

// handleTierResource handles allowlist://tables/{tier} requests.
func (g *Gateway) handleTierResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	vars, err := parseTemplateVars(tierTemplateURI, uri)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	maxTier, err := strconv.Atoi(vars["tier"])
	if err != nil || maxTier <= 0 {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	listing, err := g.snapshotListing(ctx, maxTier)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}
	return marshalResourceResult(uri, listing)
}

// snapshotListing builds a table listing from the current snapshot,
// bounded to maxTier when maxTier is positive.
func (g *Gateway) snapshotListing(ctx context.Context, maxTier int) (*tableListing, error) {
	g.cache.AllowedTables(ctx, false)

	info := g.cache.SnapshotInfo()
	if info == nil {
		return nil, fmt.Errorf("table registry has never loaded")
	}

	listing := &tableListing{
		Tables:     info.Tables,
		CapturedAt: info.CapturedAt,
		Stale:      info.Stale,
	}
	if maxTier > 0 {
		bounded := make([]allowlist.Table, 0, len(info.Tables))
		for _, t := range info.Tables {
			if t.Tier <= maxTier {
				bounded = append(bounded, t)
			}
		}
		listing.Tables = bounded
		listing.MaxTier = &maxTier
	}
	return listing, nil
}

// parseTemplateVars extracts named variables from a URI using a URI
// template. Returns an error when the URI does not match the template.
func parseTemplateVars(templateStr, uri string) (map[string]string, error) {
	tmpl, err := uritemplate.New(templateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", templateStr, err)
	}

	match := tmpl.Match(uri)
	if match == nil {
		return nil, fmt.Errorf("uri %q does not match template %q", uri, templateStr)
	}

	result := make(map[string]string)
	for _, name := range tmpl.Varnames() {
		result[name] = match.Get(name).String()
	}
	return result, nil
}

// marshalResourceResult marshals a value as JSON resource contents.
func marshalResourceResult(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}
