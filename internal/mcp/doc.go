// Package mcp implements the Model Context Protocol (MCP) server for projectsearch.
//
// The server exposes the project store and search engine as tools:
//   - create_project, edit_project, delete_project, get_project
//   - add_tags, remove_tags
//   - search_projects (semantic or keyword)
//   - reembed_projects: embed projects stored without a vector
//   - store_status: counts and provider information
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr; stdout carries only protocol messages.
//
// # Basic Usage
//
//	projectsearch serve --config ~/.projectsearch/config.yaml
//
// # Tool: search_projects
//
//	Request:
//	{
//	  "name": "search_projects",
//	  "arguments": {"query": "web development", "mode": "semantic", "limit": 5}
//	}
//
//	Response:
//	{
//	  "mode": "semantic",
//	  "total_results": 5,
//	  "results": [
//	    {"id": 3, "title": "Web Development", "rank": 1, "score": 0.5, ...}
//	  ]
//	}
//
// When the embedding provider is unavailable, semantic requests are served
// by keyword search and the response carries "mode": "keyword_fallback"
// and a "fallback_reason".
//
// # Tool: edit_project
//
// Only id and editor_id are required. Omitted fields keep their stored
// values; a supplied tags array replaces the whole tag set. Changing the
// description recomputes the embedding.
//
// # Error Codes
//
//	-32602  invalid parameters
//	-32603  internal error
//	-32001  project not found
//	-32002  re-embedding already in progress
//	-32003  editor not permitted (owner-only editing)
//	-32004  empty query
//	-32005  validation failed (blank title, negative budget, malformed tag)
//	-32006  embedding provider unavailable (require policy)
//	-32007  persistence failure
package mcp
