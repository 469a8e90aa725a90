// Package types provides shared type definitions for the project search engine.
//
// # Core Types
//
// Project is a posting with a title, a non-negative budget, a free-text
// description, a case-sensitive tag set, and an optional embedding of the
// description:
//
//	in := types.ProjectInput{
//	    Title:       "Web Development",
//	    Budget:      5000,
//	    Description: "Web development with HTML, CSS and JavaScript",
//	    Tags:        []string{"web", "frontend"},
//	    OwnerID:     1,
//	}
//	if err := in.Validate(); err != nil {
//	    // errors.Is(err, types.ErrValidation)
//	}
//
// A project without an embedding is "degraded": it stays reachable through
// keyword search but is skipped by semantic ranking.
//
// SearchResponse has the same shape for semantic, keyword, and fallback
// searches; Mode says which path produced it.
//
// # Errors
//
// The sentinel errors in this package are the public error taxonomy.
// Detail errors (ErrEmptyTitle, ErrMalformedTag, ...) are always wrapped
// together with their category so both match under errors.Is:
//
//	errors.Is(err, types.ErrValidation)  // true
//	errors.Is(err, types.ErrEmptyTitle)  // true
package types
