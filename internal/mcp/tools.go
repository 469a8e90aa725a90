package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/projectsearch/internal/reembed"
	"github.com/dshills/projectsearch/internal/searcher"
	"github.com/dshills/projectsearch/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodeProjectNotFound     = -32001 // Project ID does not exist
	ErrorCodeReembedInProgress   = -32002 // Another re-embedding run is active
	ErrorCodeForbidden           = -32003 // Editor may not modify the project
	ErrorCodeEmptyQuery          = -32004 // Query parameter is empty
	ErrorCodeValidation          = -32005 // Field values rejected before any write
	ErrorCodeProviderUnavailable = -32006 // Embedding provider failed under the require policy
	ErrorCodePersistence         = -32007 // Storage failure, transaction rolled back
)

// handleCreateProject handles the create_project tool invocation
func (s *Server) handleCreateProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	title, ok := args["title"].(string)
	if !ok {
		return nil, missingParam("title")
	}
	ownerID, err := requireID(args, "owner_id")
	if err != nil {
		return nil, err
	}
	tags, err := getStringSlice(args, "tags")
	if err != nil {
		return nil, err
	}

	project, err := s.app.Store.CreateProject(ctx, types.ProjectInput{
		Title:       title,
		Budget:      getFloatDefault(args, "budget", 0),
		Description: getStringDefault(args, "description", ""),
		Tags:        tags,
		OwnerID:     ownerID,
	})
	if err != nil {
		return nil, mapError(err, "failed to create project")
	}

	return mcp.NewToolResultText(formatJSON(projectToMap(project, false))), nil
}

// handleEditProject handles the edit_project tool invocation. Fields that
// are not supplied are carried over from the stored project.
func (s *Server) handleEditProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, err := requireID(args, "id")
	if err != nil {
		return nil, err
	}
	editorID, err := requireID(args, "editor_id")
	if err != nil {
		return nil, err
	}

	patch := types.ProjectPatch{EditorID: editorID}
	patch.Title = getOptionalString(args, "title")
	patch.Budget = getOptionalFloat(args, "budget")
	patch.Description = getOptionalString(args, "description")
	if args["tags"] != nil {
		if patch.Tags, err = getStringSlice(args, "tags"); err != nil {
			return nil, err
		}
	}

	project, err := s.app.Store.PatchProject(ctx, id, patch)
	if err != nil {
		return nil, mapError(err, "failed to edit project")
	}

	return mcp.NewToolResultText(formatJSON(projectToMap(project, false))), nil
}

// handleDeleteProject handles the delete_project tool invocation
func (s *Server) handleDeleteProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, err := requireID(args, "id")
	if err != nil {
		return nil, err
	}

	if err := s.app.Store.DeleteProject(ctx, id); err != nil {
		return nil, mapError(err, "failed to delete project")
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"deleted": true,
		"id":      id,
	})), nil
}

// handleGetProject handles the get_project tool invocation
func (s *Server) handleGetProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, err := requireID(args, "id")
	if err != nil {
		return nil, err
	}

	project, err := s.app.Store.GetProjectByID(ctx, id)
	if err != nil {
		return nil, mapError(err, "failed to get project")
	}

	includeEmbedding := getBoolDefault(args, "include_embedding", false)
	return mcp.NewToolResultText(formatJSON(projectToMap(project, includeEmbedding))), nil
}

// handleAddTags handles the add_tags tool invocation
func (s *Server) handleAddTags(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleTags(ctx, request, s.app.Store.AddTags)
}

// handleRemoveTags handles the remove_tags tool invocation
func (s *Server) handleRemoveTags(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleTags(ctx, request, s.app.Store.RemoveTags)
}

func (s *Server) handleTags(ctx context.Context, request mcp.CallToolRequest,
	apply func(ctx context.Context, id int64, tags []string) error) (*mcp.CallToolResult, error) {

	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, err := requireID(args, "id")
	if err != nil {
		return nil, err
	}
	if _, present := args["tags"]; !present {
		return nil, missingParam("tags")
	}
	tags, err := getStringSlice(args, "tags")
	if err != nil {
		return nil, err
	}

	if err := apply(ctx, id, tags); err != nil {
		return nil, mapError(err, "failed to update tags")
	}

	project, err := s.app.Store.GetProjectByID(ctx, id)
	if err != nil {
		return nil, mapError(err, "failed to get project")
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"id":   id,
		"tags": project.Tags,
	})), nil
}

// handleSearchProjects handles the search_projects tool invocation
func (s *Server) handleSearchProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, _ := args["query"].(string)

	limit := getIntDefault(args, "limit", 0)
	if limit < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be >= 0", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode := getStringDefault(args, "mode", string(types.SearchModeSemantic))
	if mode != string(types.SearchModeSemantic) && mode != string(types.SearchModeKeyword) {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   mode,
			"allowed": []string{string(types.SearchModeSemantic), string(types.SearchModeKeyword)},
		})
	}

	resp, err := s.app.Search(ctx, searcher.SearchRequest{
		Query: query,
		Mode:  types.SearchMode(mode),
		Limit: limit,
	})
	if err != nil {
		return nil, mapError(err, "search failed")
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		item := projectToMap(r.Project, false)
		item["rank"] = r.Rank
		if resp.Mode == types.SearchModeSemantic {
			item["score"] = r.Score
		}
		results[i] = item
	}

	response := map[string]interface{}{
		"mode":          resp.Mode,
		"total_results": resp.TotalResults,
		"results":       results,
		"duration_ms":   resp.Duration.Milliseconds(),
	}
	if resp.FallbackReason != "" {
		response["fallback_reason"] = resp.FallbackReason
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleReembedProjects handles the reembed_projects tool invocation
func (s *Server) handleReembedProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	all := getBoolDefault(args, "all", false)

	stats, err := s.app.Reembed(ctx, all)
	if err != nil {
		return nil, mapError(err, "re-embedding failed")
	}

	response := map[string]interface{}{
		"candidates":  stats.Candidates,
		"updated":     stats.Updated,
		"skipped":     stats.Skipped,
		"failed":      stats.Failed,
		"duration_ms": stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleStoreStatus handles the store_status tool invocation
func (s *Server) handleStoreStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.app.Store.Status(ctx)
	if err != nil {
		return nil, mapError(err, "failed to get status")
	}

	emb := s.app.Embedder
	response := map[string]interface{}{
		"backend":        status.Backend,
		"schema_version": status.SchemaVersion,
		"statistics": map[string]interface{}{
			"projects":         status.Projects,
			"embeddings":       status.Embeddings,
			"tags":             status.Tags,
			"degraded":         status.DegradedCount,
			"dimension_counts": status.DimensionCounts,
			"size_mb":          fmt.Sprintf("%.2f", float64(status.SizeBytes)/(1024*1024)),
		},
		"embedding": map[string]interface{}{
			"provider":  emb.Provider(),
			"model":     emb.Model(),
			"dimension": emb.Dimension(),
			"policy":    s.app.Config.Embedding.Policy,
		},
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// mapError converts domain errors into MCP errors with distinct codes
func mapError(err error, message string) error {
	data := map[string]interface{}{"error": err.Error()}

	switch {
	case errors.Is(err, types.ErrNotFound):
		return newMCPError(ErrorCodeProjectNotFound, "project not found", data)
	case errors.Is(err, types.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", data)
	case errors.Is(err, types.ErrValidation):
		return newMCPError(ErrorCodeValidation, "validation failed", data)
	case errors.Is(err, types.ErrForbidden):
		return newMCPError(ErrorCodeForbidden, "editor is not permitted to modify this project", data)
	case errors.Is(err, types.ErrProviderUnavailable):
		return newMCPError(ErrorCodeProviderUnavailable, "embedding provider unavailable", data)
	case errors.Is(err, reembed.ErrAlreadyRunning):
		return newMCPError(ErrorCodeReembedInProgress, "re-embedding already in progress", nil)
	case errors.Is(err, types.ErrPersistence):
		return newMCPError(ErrorCodePersistence, message, data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func missingParam(name string) error {
	return newMCPError(ErrorCodeInvalidParams, name+" parameter is required", map[string]interface{}{
		"param":  name,
		"reason": "missing or empty",
	})
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// projectToMap renders a project for tool output
func projectToMap(p *types.Project, includeEmbedding bool) map[string]interface{} {
	m := map[string]interface{}{
		"id":            p.ID,
		"title":         p.Title,
		"budget":        p.Budget,
		"description":   p.Description,
		"tags":          p.Tags,
		"owner_id":      p.OwnerID,
		"has_embedding": p.HasEmbedding(),
		"created_at":    p.CreatedAt.Format(time.RFC3339),
		"updated_at":    p.UpdatedAt.Format(time.RFC3339),
	}
	if includeEmbedding && p.HasEmbedding() {
		m["embedding"] = p.Embedding
	}
	return m
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// requireID extracts a positive integer ID
func requireID(args map[string]interface{}, key string) (int64, error) {
	var id int64
	switch v := args[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, newMCPError(ErrorCodeInvalidParams, key+" must be an integer", map[string]interface{}{
				"param": key,
				"value": v,
			})
		}
		id = int64(v)
	case int:
		id = int64(v)
	case int64:
		id = v
	case nil:
		return 0, missingParam(key)
	default:
		return 0, newMCPError(ErrorCodeInvalidParams, key+" must be an integer", map[string]interface{}{
			"param": key,
		})
	}
	if id <= 0 {
		return 0, newMCPError(ErrorCodeInvalidParams, key+" must be positive", map[string]interface{}{
			"param": key,
			"value": id,
		})
	}
	return id, nil
}

// getStringSlice extracts an optional array of strings
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, newMCPError(ErrorCodeInvalidParams, key+" must be an array of strings", map[string]interface{}{
					"param": key,
					"index": i,
				})
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, key+" must be an array of strings", map[string]interface{}{
			"param": key,
		})
	}
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// getOptionalFloat returns nil when the number parameter is absent
func getOptionalFloat(args map[string]interface{}, key string) *float64 {
	switch val := args[key].(type) {
	case float64:
		return &val
	case int:
		f := float64(val)
		return &f
	}
	return nil
}

// getOptionalString returns nil when the string parameter is absent
func getOptionalString(args map[string]interface{}, key string) *string {
	if val, ok := args[key].(string); ok {
		return &val
	}
	return nil
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
