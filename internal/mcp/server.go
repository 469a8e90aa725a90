package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/projectsearch/internal/app"
)

const (
	// ServerName is the MCP server name
	ServerName = "projectsearch"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp *server.MCPServer
	app *app.App
}

// NewServer creates a new MCP server instance around wired components
func NewServer(a *app.App) (*Server, error) {
	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp: mcpServer,
		app: a,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown.
// The caller owns the app and closes it afterwards.
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(createProjectTool(), s.handleCreateProject)
	s.mcp.AddTool(editProjectTool(), s.handleEditProject)
	s.mcp.AddTool(deleteProjectTool(), s.handleDeleteProject)
	s.mcp.AddTool(getProjectTool(), s.handleGetProject)
	s.mcp.AddTool(addTagsTool(), s.handleAddTags)
	s.mcp.AddTool(removeTagsTool(), s.handleRemoveTags)
	s.mcp.AddTool(searchProjectsTool(), s.handleSearchProjects)
	s.mcp.AddTool(reembedProjectsTool(), s.handleReembedProjects)
	s.mcp.AddTool(storeStatusTool(), s.handleStoreStatus)

	return nil
}
