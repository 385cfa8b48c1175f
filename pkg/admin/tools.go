package admin

import (
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolSchemaResponse wraps tool schemas keyed by name.
type toolSchemaResponse struct {
	Schemas map[string]toolSchema `json:"schemas"`
}

// toolSchema describes a single tool's schema.
type toolSchema struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// listToolSchemas handles GET /api/v1/admin/tools.
//
// @Summary      List tool schemas
// @Description  Returns JSON schemas for the gateway's MCP tools including parameter definitions.
// @Tags         Tools
// @Produce      json
// @Success      200  {object}  toolSchemaResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /tools [get]
func (h *Handler) listToolSchemas(w http.ResponseWriter, r *http.Request) {
	if h.deps.MCPServer == nil {
		writeJSON(w, http.StatusOK, toolSchemaResponse{Schemas: map[string]toolSchema{}})
		return
	}

	session, cleanup, err := h.connectInternalSession(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to connect to MCP server")
		return
	}
	defer cleanup()

	listResult, err := session.ListTools(r.Context(), &mcp.ListToolsParams{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tools")
		return
	}

	schemas := make(map[string]toolSchema, len(listResult.Tools))
	for _, tool := range listResult.Tools {
		schemas[tool.Name] = toolSchema{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		}
	}

	writeJSON(w, http.StatusOK, toolSchemaResponse{Schemas: schemas})
}

// connectInternalSession creates an in-memory MCP client session for
// introspection. Listing tools carries no credentials: the MCP auth
// middleware only gates tools/call, and the admin layer has already
// authenticated the operator. The returned cleanup function must be
// called to release resources.
func (h *Handler) connectInternalSession(r *http.Request) (*mcp.ClientSession, func(), error) {
	t1, t2 := mcp.NewInMemoryTransports()

	serverSession, err := h.deps.MCPServer.Connect(r.Context(), t1, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("server connect: %w", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "admin-internal", Version: "v1"}, nil)
	session, err := client.Connect(r.Context(), t2, nil)
	if err != nil {
		_ = serverSession.Close()
		return nil, nil, fmt.Errorf("client connect: %w", err)
	}

	cleanup := func() {
		_ = session.Close()
		_ = serverSession.Close()
	}
	return session, cleanup, nil
}
