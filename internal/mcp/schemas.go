package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func idProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
		"minimum":     1,
	}
}

func tagsProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items": map[string]interface{}{
			"type":      "string",
			"maxLength": 64,
		},
	}
}

// createProjectTool returns the tool definition for create_project
func createProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "create_project",
		Description: "Create a project posting. The description is embedded for semantic search.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Project title (non-empty)",
				},
				"budget": map[string]interface{}{
					"type":        "number",
					"description": "Project budget (>= 0)",
					"minimum":     0,
					"default":     0,
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Free-text description used for semantic search",
				},
				"tags":     tagsProperty("Tags (case-sensitive, duplicates ignored)"),
				"owner_id": idProperty("ID of the user creating the project"),
			},
			Required: []string{"title", "owner_id"},
		},
	}
}

// editProjectTool returns the tool definition for edit_project
func editProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "edit_project",
		Description: "Edit a project. Omitted fields keep the values current when the edit commits; tags, when given, replace the whole tag set.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": idProperty("Project ID"),
				"title": map[string]interface{}{
					"type":        "string",
					"description": "New title",
				},
				"budget": map[string]interface{}{
					"type":        "number",
					"description": "New budget (>= 0)",
					"minimum":     0,
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "New description; changing it recomputes the embedding",
				},
				"tags":      tagsProperty("Complete new tag set"),
				"editor_id": idProperty("ID of the user making the edit"),
			},
			Required: []string{"id", "editor_id"},
		},
	}
}

// deleteProjectTool returns the tool definition for delete_project
func deleteProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_project",
		Description: "Delete a project with its tags and embedding",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": idProperty("Project ID"),
			},
			Required: []string{"id"},
		},
	}
}

// getProjectTool returns the tool definition for get_project
func getProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_project",
		Description: "Fetch a project by ID",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": idProperty("Project ID"),
				"include_embedding": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, include the embedding vector",
					"default":     false,
				},
			},
			Required: []string{"id"},
		},
	}
}

// addTagsTool returns the tool definition for add_tags
func addTagsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "add_tags",
		Description: "Add tags to a project. Tags already present are ignored.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id":   idProperty("Project ID"),
				"tags": tagsProperty("Tags to add"),
			},
			Required: []string{"id", "tags"},
		},
	}
}

// removeTagsTool returns the tool definition for remove_tags
func removeTagsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "remove_tags",
		Description: "Remove tags from a project. Tags not present are ignored.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id":   idProperty("Project ID"),
				"tags": tagsProperty("Tags to remove"),
			},
			Required: []string{"id", "tags"},
		},
	}
}

// searchProjectsTool returns the tool definition for search_projects
func searchProjectsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_projects",
		Description: "Search projects by meaning (semantic) or by substring (keyword)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keyword)",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "semantic ranks by embedding similarity and falls back to keyword when the provider fails; keyword matches title, description, and tags",
					"enum":        []string{"semantic", "keyword"},
					"default":     "semantic",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (0 for the configured default)",
					"minimum":     0,
					"default":     0,
				},
			},
			Required: []string{"query"},
		},
	}
}

// reembedProjectsTool returns the tool definition for reembed_projects
func reembedProjectsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reembed_projects",
		Description: "Compute embeddings for projects stored without one",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"all": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, recompute every embedding (after a model change)",
					"default":     false,
				},
			},
		},
	}
}

// storeStatusTool returns the tool definition for store_status
func storeStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "store_status",
		Description: "Report project, tag, and embedding counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
